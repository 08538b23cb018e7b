package core

import (
	"github.com/google/uuid"
	"github.com/rayos-project/consensus/common"
)

// AppendEntry accepts a client command into the leader's own log, stamped
// with the current term and the next index. Fails when not leader or when
// the bounded log is full (the caller must then compact via snapshotting).
func (n *Node) AppendEntry(command []byte) bool {
	if n.role != Leader {
		return false
	}
	if n.logLen >= MaxLogEntries {
		return false
	}
	n.log[n.logLen] = common.LogEntry{
		Index: n.logLen,
		Term:  n.term,
		Data:  command,
	}
	n.logLen++
	return true
}

// AppendEntries is the follower side of log replication, also used as the
// heartbeat (with an empty entries slice).
//
// The prev entry check enforces the log matching property; on failure the
// leader retries with a decremented next index. When an existing entry
// conflicts (same index, different term) the local suffix from that index
// on is discarded before the leader's entries are written.
//
// The call itself is evidence of a live leader, so the transport must call
// ResetHeartbeatTime with its timestamp whenever this returns with
// term >= currentTerm.
func (n *Node) AppendEntries(term uint64, leader uuid.UUID, prevLogIndex, prevLogTerm uint64, entries []common.LogEntry, leaderCommit uint64) bool {
	if term < n.term {
		return false
	}
	n.ObserveTerm(term)
	if n.role != Follower {
		// A candidate of the same term yields to an established leader.
		n.becomeFollower()
	}
	l := leader
	n.leader = &l

	if prevLogIndex >= n.logLen {
		return false
	}
	if prevLogIndex > 0 && n.log[prevLogIndex].Term != prevLogTerm {
		return false
	}
	if prevLogIndex+uint64(len(entries)) >= MaxLogEntries {
		return false
	}

	for i, entry := range entries {
		index := prevLogIndex + 1 + uint64(i)
		if index < n.logLen {
			if n.log[index].Term == entry.Term {
				// Already have it.
				continue
			}
			// Conflict: drop our divergent suffix.
			n.logLen = index
		}
		n.log[index] = common.LogEntry{
			Index: index,
			Term:  entry.Term,
			Data:  entry.Data,
		}
		n.logLen = index + 1
	}

	if leaderCommit > n.commitIndex {
		lastNew := prevLogIndex + uint64(len(entries))
		if lastNew == prevLogIndex {
			// Heartbeat: never trust leaderCommit beyond what we hold.
			lastNew = n.logLen - 1
		}
		if leaderCommit < lastNew {
			n.commitIndex = leaderCommit
		} else {
			n.commitIndex = lastNew
		}
	}
	return true
}

// UpdateMatchIndex records replication progress for one peer and advances
// the leader's commit index to the highest entry replicated on a strict
// majority (self included). Only entries created in the leader's current
// term may be committed by counting replicas; committing an old-term entry
// indirectly is the classic Raft correctness pitfall (Section 5.4.2).
func (n *Node) UpdateMatchIndex(peer uuid.UUID, index uint64) bool {
	if n.role != Leader {
		return false
	}
	slot := n.peerSlot(peer)
	if slot < 0 {
		return false
	}
	n.matchIndex[slot] = index
	if n.nextIndex[slot] <= index {
		n.nextIndex[slot] = index + 1
	}

	for candidate := n.commitIndex + 1; candidate < n.logLen; candidate++ {
		if n.countMatchingReplicas(candidate)*2 <= n.clusterSize() {
			break
		}
		if n.log[candidate].Term == n.term {
			n.commitIndex = candidate
		}
	}
	return true
}

// DecrementNextIndex walks the replication cursor for peer one entry back
// after a log mismatch rejection. It never drops below 1.
func (n *Node) DecrementNextIndex(peer uuid.UUID) bool {
	slot := n.peerSlot(peer)
	if slot < 0 {
		return false
	}
	if n.nextIndex[slot] > 1 {
		n.nextIndex[slot]--
	}
	return true
}

// countMatchingReplicas counts cluster members (self included) whose log is
// known to contain the entry at index.
func (n *Node) countMatchingReplicas(index uint64) int {
	count := 1
	for i := 0; i < n.peerCount; i++ {
		if n.matchIndex[i] >= index {
			count++
		}
	}
	return count
}

// ApplyCommittedEntries advances lastApplied up to the commit index and
// returns the number of newly applied entries. The external state machine
// consumes exactly those entries, in index order, via Entry. Calling this
// again with no intervening commit advancement returns 0.
func (n *Node) ApplyCommittedEntries() int {
	applied := 0
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		entry := n.log[n.lastApplied]
		n.appliedHash ^= fnvHash(entry.Data) ^ (entry.Index * 1099511628211) ^ entry.Term
		applied++
	}
	return applied
}
