package common

import (
	"github.com/google/uuid"
)

type ClientRequestRPC struct {
	Data []byte
}

type ClientRequestRPCResult struct {
	Success bool
	// Error will be non-empty iff Success is False
	Error string
	// Data can be non-nil for example for Get calls
	Data []byte
}

// See Raft paper for details on below RPCs

type RequestVoteRPC struct {
	Term         uint64
	CandidateID  uuid.UUID
	LastLogIndex uint64
	LastLogTerm  uint64
}

type RequestVoteRPCResult struct {
	Term        uint64
	VoteGranted bool
}

type AppendEntriesRPC struct {
	Term              uint64
	Leader            uuid.UUID
	PrevLogIndex      uint64
	PrevLogTerm       uint64
	Entries           []LogEntry
	LeaderCommitIndex uint64
}

type AppendEntriesRPCResult struct {
	Term    uint64
	Success bool
}
