// Package core implements the replicated-log consensus state machine.
//
// A Node is a single-threaded, synchronous value: every operation runs to
// completion inside the call that invokes it, touches only fixed-capacity
// arrays, and returns a plain result. The node never spawns goroutines,
// never blocks, and never reads a clock; timestamps are always supplied
// by the caller. The caller (normally raft.RaftServer) is responsible for
// serializing calls into one node; concurrent unsynchronized calls are not
// supported.
package core

import (
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rayos-project/consensus/common"
)

// Fixed capacities. Entry slot 0 holds the sentinel, so a log holds at
// most MaxLogEntries-1 real commands before appends are rejected.
const (
	MaxLogEntries = 256
	MaxPeers      = 32
	MaxSnapshots  = 8
)

// Role is the consensus role a node is currently in.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	}
	return "unknown"
}

// Config carries the per-node protocol timing parameters. The election
// timeout is drawn uniformly from [ElectionTimeoutMin, ElectionTimeoutMax]
// at construction and re-drawn on every election, so that nodes that time
// out together do not keep splitting votes. Min == Max disables the jitter.
type Config struct {
	HeartbeatInterval  time.Duration
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
}

// Node is one cluster member's consensus state. The zero value is not
// usable; construct with NewNode.
type Node struct {
	id       uuid.UUID
	term     uint64
	votedFor *uuid.UUID
	role     Role
	leader   *uuid.UUID

	log         [MaxLogEntries]common.LogEntry
	logLen      uint64
	commitIndex uint64
	lastApplied uint64
	appliedHash uint64

	peers      [MaxPeers]uuid.UUID
	peerCount  int
	nextIndex  [MaxPeers]uint64
	matchIndex [MaxPeers]uint64

	cfg             Config
	electionTimeout time.Duration
	lastHeartbeat   time.Time
	rng             *rand.Rand

	snapshots     [MaxSnapshots]common.Snapshot
	snapshotCount int
}

var (
	ErrTooManyPeers = errors.New("peer list exceeds maximum cluster size")
	ErrBadTimeouts  = errors.New("election timeout range is empty or inverted")
)

// NewNode creates a consensus node with a fixed peer list (excluding
// itself). It starts as Follower at term 0 with an empty log (sentinel
// entry at index 0) and no commit.
func NewNode(id uuid.UUID, peers []uuid.UUID, cfg Config) (*Node, error) {
	if len(peers) > MaxPeers {
		return nil, ErrTooManyPeers
	}
	if cfg.ElectionTimeoutMin <= 0 || cfg.ElectionTimeoutMax < cfg.ElectionTimeoutMin {
		return nil, ErrBadTimeouts
	}
	n := &Node{
		id:   id,
		role: Follower,
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(int64(fnvHash(id[:])))),
	}
	for i, peer := range peers {
		n.peers[i] = peer
		n.nextIndex[i] = 1
	}
	n.peerCount = len(peers)
	n.log[0] = common.LogEntry{Index: 0, Term: 0}
	n.logLen = 1
	n.electionTimeout = n.drawElectionTimeout()
	return n, nil
}

// ID returns this node's identifier.
func (n *Node) ID() uuid.UUID { return n.id }

// CurrentTerm returns the node's current term.
func (n *Node) CurrentTerm() uint64 { return n.term }

// Role returns the node's current consensus role.
func (n *Node) Role() Role { return n.role }

// CommitIndex returns the highest log index known to be replicated on a majority.
func (n *Node) CommitIndex() uint64 { return n.commitIndex }

// LastApplied returns the highest log index handed to the state machine.
func (n *Node) LastApplied() uint64 { return n.lastApplied }

// LogLength returns the number of log slots in use, sentinel included.
func (n *Node) LogLength() uint64 { return n.logLen }

// VotedFor returns the candidate this node voted for in the current term, if any.
func (n *Node) VotedFor() *uuid.UUID {
	if n.votedFor == nil {
		return nil
	}
	v := *n.votedFor
	return &v
}

// Leader returns the node this follower last accepted entries from, if known.
func (n *Node) Leader() *uuid.UUID {
	if n.leader == nil {
		return nil
	}
	l := *n.leader
	return &l
}

// Peers returns the configured peer list (excluding self).
func (n *Node) Peers() []uuid.UUID {
	return n.peers[:n.peerCount]
}

// Entry returns the log entry at index, if present.
func (n *Node) Entry(index uint64) (common.LogEntry, bool) {
	if index >= n.logLen {
		return common.LogEntry{}, false
	}
	return n.log[index], true
}

// LastLogEntry returns the most recent log entry (the sentinel for an empty log).
func (n *Node) LastLogEntry() common.LogEntry {
	return n.log[n.logLen-1]
}

// NextIndex returns the replication cursor for peer while this node is leader.
func (n *Node) NextIndex(peer uuid.UUID) (uint64, bool) {
	if i := n.peerSlot(peer); i >= 0 {
		return n.nextIndex[i], true
	}
	return 0, false
}

// MatchIndex returns the highest index known replicated on peer.
func (n *Node) MatchIndex(peer uuid.UUID) (uint64, bool) {
	if i := n.peerSlot(peer); i >= 0 {
		return n.matchIndex[i], true
	}
	return 0, false
}

// RestoreState seeds term and vote from durable storage. It must be called
// before the node processes any RPC; restoring later would violate the
// at-most-one-vote-per-term guarantee.
func (n *Node) RestoreState(term uint64, votedFor *uuid.UUID) {
	n.term = term
	if votedFor == nil {
		n.votedFor = nil
	} else {
		v := *votedFor
		n.votedFor = &v
	}
}

// RestoreEntries reloads persisted log entries (excluding the sentinel) in
// index order. Entries must be contiguous starting at the current log end;
// anything else is rejected.
func (n *Node) RestoreEntries(entries []common.LogEntry) bool {
	for _, entry := range entries {
		if entry.Index != n.logLen || n.logLen >= MaxLogEntries {
			return false
		}
		n.log[n.logLen] = entry
		n.logLen++
	}
	return true
}

// peerSlot returns the array slot of peer, or -1 if the peer is unknown.
func (n *Node) peerSlot(peer uuid.UUID) int {
	for i := 0; i < n.peerCount; i++ {
		if n.peers[i] == peer {
			return i
		}
	}
	return -1
}

// clusterSize counts all voting members, self included.
func (n *Node) clusterSize() int {
	return n.peerCount + 1
}

// fnvHash is FNV-1a over b. Written out inline so the hot paths that use it
// stay allocation-free.
func fnvHash(b []byte) uint64 {
	h := uint64(14695981039346656037)
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
