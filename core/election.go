package core

import (
	"github.com/google/uuid"
)

// ObserveTerm is the single mechanism by which stale leaders and candidates
// are deposed: whenever any RPC (request or response) carries a term higher
// than ours, we adopt it, clear our vote, and revert to Follower. Returns
// true if the node stepped down.
func (n *Node) ObserveTerm(term uint64) bool {
	if term <= n.term {
		return false
	}
	n.term = term
	n.votedFor = nil
	n.becomeFollower()
	return true
}

// StartElection transitions to Candidate for a fresh term and votes for
// self. Legal from Follower or Candidate only. It does not contact peers;
// the transport must fan out RequestVote calls and tally the replies.
func (n *Node) StartElection() bool {
	if n.role == Leader {
		return false
	}
	n.term++
	n.role = Candidate
	n.leader = nil
	self := n.id
	n.votedFor = &self
	// Re-draw the timeout so a losing candidate is unlikely to collide
	// with the same rivals next round.
	n.electionTimeout = n.drawElectionTimeout()
	return true
}

// RequestVote evaluates a candidate's vote request (Sections 5.1, 5.2 and
// 5.4 of the Raft paper). A granted vote is recorded so that the node
// grants at most one vote per term.
func (n *Node) RequestVote(term uint64, candidate uuid.UUID, lastLogIndex, lastLogTerm uint64) bool {
	if term < n.term {
		return false
	}
	n.ObserveTerm(term)
	if n.votedFor != nil && *n.votedFor != candidate {
		return false
	}
	// Only vote for candidates whose log is at least as up-to-date as ours.
	last := n.LastLogEntry()
	if lastLogTerm < last.Term {
		return false
	}
	if lastLogTerm == last.Term && lastLogIndex < last.Index {
		return false
	}
	n.votedFor = &candidate
	return true
}

// BecomeLeader finalizes a won election. Legal only from Candidate; the
// caller must have observed a strict majority of granted votes for the
// current term. Every peer's nextIndex is reset to one past the local log
// and matchIndex to zero.
func (n *Node) BecomeLeader() bool {
	if n.role != Candidate {
		return false
	}
	n.role = Leader
	self := n.id
	n.leader = &self
	for i := 0; i < n.peerCount; i++ {
		n.nextIndex[i] = n.logLen
		n.matchIndex[i] = 0
	}
	return true
}

func (n *Node) becomeFollower() {
	n.role = Follower
	n.leader = nil
}
