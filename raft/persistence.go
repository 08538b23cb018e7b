package raft

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rayos-project/consensus/common"
	"go.uber.org/multierr"
)

// State store keys. Term, vote and log contents are the pieces of state
// that must survive a restart so that a node does not revote or re-accept
// conflicting entries for a term it has already participated in.
const (
	keyTerm     = "term"
	keyVotedFor = "votedFor"
)

// noVote marks an absent vote in the state store (bolt cannot distinguish
// a nil value from a missing key through GetDefault).
const noVote = "none"

// restoreDurableState seeds the node from the state and log stores. Called
// once, before the server accepts any RPC.
func (server *RaftServer) restoreDurableState() error {
	termBytes, termErr := server.StateStore.GetDefault([]byte(keyTerm), []byte("0"))
	voteBytes, voteErr := server.StateStore.GetDefault([]byte(keyVotedFor), []byte(noVote))
	if err := multierr.Combine(termErr, voteErr); err != nil {
		return err
	}
	term, err := strconv.ParseUint(string(termBytes), 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt term in state store: %w", err)
	}
	var votedFor *uuid.UUID
	if string(voteBytes) != noVote {
		vote, err := uuid.ParseBytes(voteBytes)
		if err != nil {
			return fmt.Errorf("corrupt vote in state store: %w", err)
		}
		votedFor = &vote
	}
	server.Node.RestoreState(term, votedFor)

	length, err := server.LogStore.Length()
	if err != nil {
		return err
	}
	if length == 0 {
		// Fresh store, persist the sentinel entry.
		return server.LogStore.Store(server.Node.LastLogEntry())
	}
	for index := uint64(1); index < length; index++ {
		entry, err := server.LogStore.Get(index)
		if err != nil {
			return err
		}
		if !server.Node.RestoreEntries([]common.LogEntry{*entry}) {
			return fmt.Errorf("persisted log does not fit node capacity at index %d", index)
		}
	}
	return nil
}

// persistTermAndVote writes the node's term and vote to the state store.
// Must be called, while holding the mutex, before any RPC response that
// reflects a term or vote change leaves this server.
func (server *RaftServer) persistTermAndVote() error {
	termErr := server.StateStore.Set([]byte(keyTerm), []byte(strconv.FormatUint(server.Node.CurrentTerm(), 10)))
	vote := noVote
	if votedFor := server.Node.VotedFor(); votedFor != nil {
		vote = votedFor.String()
	}
	voteErr := server.StateStore.Set([]byte(keyVotedFor), []byte(vote))
	return multierr.Combine(termErr, voteErr)
}

// persistLogSuffix mirrors the node's log from index from onwards into the
// log store, truncating any stale persisted tail first. prevLogLen is the
// in-memory log length from before the mutation, used to detect conflict
// truncation. Caller must hold the mutex.
func (server *RaftServer) persistLogSuffix(from, prevLogLen uint64) error {
	logLen := server.Node.LogLength()
	if prevLogLen > logLen {
		if err := server.LogStore.Truncate(logLen); err != nil {
			return err
		}
	}
	for index := from; index < logLen; index++ {
		entry, ok := server.Node.Entry(index)
		if !ok {
			return fmt.Errorf("log entry %d vanished during persistence", index)
		}
		if err := server.LogStore.Store(entry); err != nil {
			return err
		}
	}
	return nil
}
