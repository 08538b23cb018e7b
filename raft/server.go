// Package raft wraps a core.Node with everything the core deliberately
// leaves outside: call serialization, timers, RPC fan-out and vote
// tallying, durable state, and the FSM apply pipeline.
package raft

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rayos-project/consensus/common"
	"github.com/rayos-project/consensus/core"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// maxEntriesPerAppend bounds how many log entries ride in one
// AppendEntries RPC towards a lagging follower.
const maxEntriesPerAppend = 64

type ApplyMsg struct {
	Err   error
	Bytes []byte
}

// RaftServer drives one consensus node. All access to Node must happen
// while holding Mutex; the node itself is a synchronous state machine and
// relies on this external serialization.
type RaftServer struct {
	Node *core.Node

	// Data stores
	FSM        common.FSM
	LogStore   common.LogStore
	StateStore common.StateStore

	// Peers
	Peers   []common.RPCServer
	Manager common.RPCManager

	// Synchronization primitives
	Mutex                sync.Mutex
	ElectionTimeoutChan  chan bool
	HeartbeatTimeoutChan chan bool
	ApplyChan            map[uint64]chan ApplyMsg
	StopChan             chan bool

	// Testing primitives
	Disconnected bool

	logger zerolog.Logger
}

var _ common.RPCServer = &RaftServer{}

func NewRaftServer(
	me common.Server,
	cluster common.ClusterConfig,
	fsm common.FSM,
	logStore common.LogStore,
	stateStore common.StateStore,
	manager common.RPCManager,
) *RaftServer {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
		Timestamp().
		Str("node", me.ID.String()[:8]).
		Logger()

	var peerIDs []uuid.UUID
	for _, server := range cluster.Cluster {
		if server.ID != me.ID {
			peerIDs = append(peerIDs, server.ID)
		}
	}
	node, err := core.NewNode(me.ID, peerIDs, core.Config{
		HeartbeatInterval:  cluster.HeartbeatInterval,
		ElectionTimeoutMin: cluster.ElectionTimeoutMin,
		ElectionTimeoutMax: cluster.ElectionTimeoutMax,
	})
	if err != nil {
		logger.Err(err).Msg("invalid node configuration")
		return nil
	}

	server := &RaftServer{
		Node:       node,
		FSM:        fsm,
		LogStore:   logStore,
		StateStore: stateStore,
		Manager:    manager,
		logger:     logger,
	}
	if err := server.restoreDurableState(); err != nil {
		logger.Err(err).Msg("error restoring durable state")
		return nil
	}

	for _, srv := range cluster.Cluster {
		if srv.ID == me.ID {
			continue
		}
		peer, err := manager.ConnectToPeer(srv.NetAddress, srv.ID)
		if err != nil {
			logger.Err(err).Str("peer", string(srv.NetAddress)).Msg("can't connect to peer")
			return nil
		}
		server.Peers = append(server.Peers, peer)
	}

	server.ElectionTimeoutChan = make(chan bool, 10)
	server.HeartbeatTimeoutChan = make(chan bool, 10)
	server.ApplyChan = make(map[uint64]chan ApplyMsg)
	server.StopChan = make(chan bool)

	server.ElectionTimeoutChan <- true
	server.HeartbeatTimeoutChan <- false
	go server.electionTimeoutController()
	go server.heartbeatTimeoutController(cluster.HeartbeatInterval)
	go func() {
		if err := manager.Start(me.NetAddress, server); err != nil {
			logger.Err(err).Msg("failed to start RPC server")
		}
	}()

	logger.Info().Msg("initialization complete")
	return server
}

func (server *RaftServer) GetID() uuid.UUID {
	return server.Node.ID()
}

func (server *RaftServer) ClientRequest(args *common.ClientRequestRPC, result *common.ClientRequestRPCResult) error {
	if server.Disconnected {
		return fmt.Errorf("%v is disconnected", server.GetID())
	}
	server.Mutex.Lock()
	if server.Node.Role() != core.Leader {
		// Redirect to the last leader we accepted entries from, if any.
		leader := server.Node.Leader()
		for _, peer := range server.Peers {
			if leader != nil && peer.GetID() == *leader {
				server.Mutex.Unlock()
				return peer.ClientRequest(args, result)
			}
		}
		server.Mutex.Unlock()
		result.Success = false
		result.Error = "not connected to leader"
		return nil
	}

	server.logger.Debug().Msg("handling client request as leader")
	if !server.Node.AppendEntry(args.Data) {
		server.Mutex.Unlock()
		result.Success = false
		result.Error = "log is at capacity, snapshot and compact first"
		return nil
	}
	entry := server.Node.LastLogEntry()
	if err := server.LogStore.Store(entry); err != nil {
		server.Mutex.Unlock()
		result.Success = false
		return fmt.Errorf("unable to store entry in leader log store: %w", err)
	}
	ch := make(chan ApplyMsg, 1)
	server.ApplyChan[entry.Index] = ch
	server.Mutex.Unlock()

	server.broadcastAppendEntries()
	ret := <-ch

	result.Data = ret.Bytes
	if ret.Err != nil {
		result.Success = false
		result.Error = ret.Err.Error()
	} else {
		result.Success = true
	}
	return nil
}

func (server *RaftServer) RequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) error {
	if server.Disconnected {
		return fmt.Errorf("%v is disconnected", server.GetID())
	}
	server.Mutex.Lock()
	defer server.Mutex.Unlock()

	wasLeader := server.Node.Role() == core.Leader
	granted := server.Node.RequestVote(args.Term, args.CandidateID, args.LastLogIndex, args.LastLogTerm)
	// Persist term and vote before the response leaves this server.
	if err := server.persistTermAndVote(); err != nil {
		return err
	}
	if wasLeader && server.Node.Role() != core.Leader {
		server.signalFollower()
	}
	result.Term = server.Node.CurrentTerm()
	result.VoteGranted = granted
	if granted {
		server.logger.Debug().Uint64("term", result.Term).Str("candidate", args.CandidateID.String()[:8]).Msg("vote granted")
	}
	return nil
}

func (server *RaftServer) AppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) error {
	if server.Disconnected {
		return fmt.Errorf("%v is disconnected", server.GetID())
	}
	server.Mutex.Lock()
	defer server.Mutex.Unlock()

	wasLeader := server.Node.Role() == core.Leader
	prevLogLen := server.Node.LogLength()
	ok := server.Node.AppendEntries(args.Term, args.Leader, args.PrevLogIndex, args.PrevLogTerm, args.Entries, args.LeaderCommitIndex)
	result.Term = server.Node.CurrentTerm()
	result.Success = ok

	if args.Term < result.Term {
		// Stale leader, nothing changed locally.
		return nil
	}
	if wasLeader && server.Node.Role() != core.Leader {
		server.signalFollower()
	}
	// Valid leader contact (even a failed log-matching probe) resets the
	// election clock.
	server.Node.ResetHeartbeatTime(time.Now())
	server.ElectionTimeoutChan <- true
	if err := server.persistTermAndVote(); err != nil {
		return err
	}
	if ok && len(args.Entries) > 0 {
		if err := server.persistLogSuffix(args.PrevLogIndex+1, prevLogLen); err != nil {
			return err
		}
	}
	if ok {
		server.applyCommitted()
	}
	return nil
}

// Stop stops the raft server, it does not guarantee releasing any memory,
// further any calls to a stopped raft server may block forever (instead of
// returning error). No method (including Stop) should be called on a
// stopped raft server.
func (server *RaftServer) Stop() error {
	// acquire mutex to prevent any other goroutine from making progress
	// we will never release this lock
	server.Mutex.Lock()
	close(server.StopChan)
	managerErr := server.Manager.Stop()
	logErr := server.LogStore.Close()
	stateErr := server.StateStore.Close()
	server.logger.Info().Msg("shutdown")
	return multierr.Combine(managerErr, logErr, stateErr)
}

// Disconnect creates an artificial network partition to disconnect this
// server from its peers (bi-directional). The partition is artificial in
// the sense that the underlying network communications still succeed, but
// the implementations respond with errors while disconnected. Reconnect
// heals the partition.
func (server *RaftServer) Disconnect() {
	server.Disconnected = true
	server.Manager.Disconnect()
}

func (server *RaftServer) Reconnect() {
	server.Disconnected = false
	server.Manager.Reconnect()
}

// CreateSnapshot records a compaction checkpoint at the node's applied
// index, allowing an external compactor to discard the log prefix.
func (server *RaftServer) CreateSnapshot() bool {
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	return server.Node.CreateSnapshot()
}

// GetLastSnapshot returns the most recent snapshot, if any.
func (server *RaftServer) GetLastSnapshot() (common.Snapshot, bool) {
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	return server.Node.LastSnapshot()
}

// signalFollower (re)arms the election timer and parks the heartbeat timer
// after the node reverted to follower. Caller must hold the mutex.
func (server *RaftServer) signalFollower() {
	server.logger.Debug().Msg("reverted to follower")
	server.ElectionTimeoutChan <- true
	server.HeartbeatTimeoutChan <- false
}

// convertToCandidate starts an election and fans RequestVote out to every
// peer, tallying asynchronously. Caller must hold the mutex.
func (server *RaftServer) convertToCandidate() {
	if !server.Node.StartElection() {
		return
	}
	if err := server.persistTermAndVote(); err != nil {
		server.logger.Err(err).Msg("error persisting candidate state")
		return
	}
	electionTerm := server.Node.CurrentTerm()
	last := server.Node.LastLogEntry()
	server.logger.Info().Uint64("term", electionTerm).Msg("starting election")

	request := common.RequestVoteRPC{
		Term:         electionTerm,
		CandidateID:  server.Node.ID(),
		LastLogIndex: last.Index,
		LastLogTerm:  last.Term,
	}
	totalServers := len(server.Peers) + 1
	reqToMajority := totalServers/2 + 1

	voteCh := make(chan bool, totalServers)
	for _, peer := range server.Peers {
		peer := peer
		go func() {
			var response common.RequestVoteRPCResult
			if err := peer.RequestVote(&request, &response); err != nil {
				voteCh <- false
				return
			}
			server.Mutex.Lock()
			defer server.Mutex.Unlock()
			if server.Node.ObserveTerm(response.Term) {
				if err := server.persistTermAndVote(); err != nil {
					server.logger.Err(err).Msg("error persisting state")
				}
				server.signalFollower()
			}
			voteCh <- response.VoteGranted
		}()
	}
	go func() {
		// We always vote for ourselves.
		votesReceived := 1
		positiveVotes := 1
		for positiveVotes < reqToMajority && votesReceived < totalServers {
			if <-voteCh {
				positiveVotes++
			}
			votesReceived++
		}
		if positiveVotes >= reqToMajority {
			server.Mutex.Lock()
			defer server.Mutex.Unlock()
			server.convertToLeader(electionTerm)
		}
	}()
}

// convertToLeader finalizes a won election. It discards stale election
// results (the term moved on while votes were in flight). Caller must hold
// the mutex.
func (server *RaftServer) convertToLeader(electionTerm uint64) {
	if server.Node.CurrentTerm() != electionTerm || server.Node.Role() != core.Candidate {
		server.logger.Debug().Uint64("electionTerm", electionTerm).Msg("discarding stale election result")
		return
	}
	server.Node.BecomeLeader()
	server.logger.Info().Uint64("term", electionTerm).Msg("converted to leader")
	server.ElectionTimeoutChan <- false
	server.HeartbeatTimeoutChan <- true
	server.Node.ResetHeartbeatTime(time.Now())
	server.broadcastAppendEntries()
}

// broadcastAppendEntries sends append entry RPCs to all peers and processes
// their responses, updating the node's next/match indexes and committing
// entries that reach a majority.
func (server *RaftServer) broadcastAppendEntries() {
	for _, peer := range server.Peers {
		peer := peer
		go func() {
			server.Mutex.Lock()
			if server.Node.Role() != core.Leader {
				server.Mutex.Unlock()
				return
			}
			next, ok := server.Node.NextIndex(peer.GetID())
			if !ok {
				server.Mutex.Unlock()
				return
			}
			prev, ok := server.Node.Entry(next - 1)
			if !ok {
				server.Mutex.Unlock()
				return
			}
			request := common.AppendEntriesRPC{
				Term:              server.Node.CurrentTerm(),
				Leader:            server.Node.ID(),
				PrevLogIndex:      prev.Index,
				PrevLogTerm:       prev.Term,
				LeaderCommitIndex: server.Node.CommitIndex(),
			}
			for index := next; index < server.Node.LogLength() && len(request.Entries) < maxEntriesPerAppend; index++ {
				entry, _ := server.Node.Entry(index)
				request.Entries = append(request.Entries, entry)
			}
			server.Mutex.Unlock()

			var response common.AppendEntriesRPCResult
			if err := peer.AppendEntries(&request, &response); err != nil {
				return
			}

			server.Mutex.Lock()
			defer server.Mutex.Unlock()
			if response.Term != server.Node.CurrentTerm() {
				// Either the peer is on a higher term, or our own term
				// changed while the request was in flight. Discard.
				if server.Node.ObserveTerm(response.Term) {
					if err := server.persistTermAndVote(); err != nil {
						server.logger.Err(err).Msg("error persisting state")
					}
					server.signalFollower()
				}
				return
			}
			if !response.Success {
				// The follower's log diverges, probe one entry earlier.
				server.Node.DecrementNextIndex(peer.GetID())
				return
			}
			if len(request.Entries) > 0 {
				lastSent := request.Entries[len(request.Entries)-1].Index
				server.Node.UpdateMatchIndex(peer.GetID(), lastSent)
				server.applyCommitted()
			}
		}()
	}
}

// applyCommitted drains newly committed entries into the FSM, in index
// order, exactly once, and completes any client requests waiting on them.
// Caller must hold the mutex.
func (server *RaftServer) applyCommitted() {
	from := server.Node.LastApplied() + 1
	applied := server.Node.ApplyCommittedEntries()
	for i := 0; i < applied; i++ {
		index := from + uint64(i)
		entry, ok := server.Node.Entry(index)
		if !ok {
			server.logger.Error().Uint64("index", index).Msg("committed entry missing from log")
			return
		}
		bytes, err := server.FSM.Apply(entry)
		if ch, waiting := server.ApplyChan[index]; waiting {
			ch <- ApplyMsg{Err: err, Bytes: bytes}
			delete(server.ApplyChan, index)
		}
	}
}

// electionTimeoutController runs in its own goroutine and manages the
// election timer. It is controlled via ElectionTimeoutChan: true resets the
// timer, false parks it. On expiry it initiates conversion to candidate,
// double-checking against the node's own timeout accounting so that a
// queued tick that raced with a reset does not force a spurious election.
func (server *RaftServer) electionTimeoutController() {
	server.Mutex.Lock()
	timeout := server.Node.ElectionTimeout()
	server.Mutex.Unlock()
	ticker := time.NewTicker(timeout)
	for {
		select {
		case _, ok := <-server.StopChan:
			if !ok {
				ticker.Stop()
				return
			}
			panic("value should never be sent to stop channel")
		case <-ticker.C:
			ticker.Stop()
			server.Mutex.Lock()
			if server.Node.ElectionTimeoutExpired(time.Now()) {
				server.convertToCandidate()
			}
			// The node re-draws its timeout on every election.
			ticker.Reset(server.Node.ElectionTimeout())
			server.Mutex.Unlock()
		case reset := <-server.ElectionTimeoutChan:
			if reset {
				server.Mutex.Lock()
				server.Node.ResetHeartbeatTime(time.Now())
				ticker.Reset(server.Node.ElectionTimeout())
				server.Mutex.Unlock()
			} else {
				ticker.Stop()
			}
		}
	}
}

// heartbeatTimeoutController runs in its own goroutine and broadcasts an
// empty append entries to all peers whenever the heartbeat interval lapses
// while this node is leader. Controlled via HeartbeatTimeoutChan the same
// way the election controller is.
func (server *RaftServer) heartbeatTimeoutController(interval time.Duration) {
	ticker := time.NewTicker(interval)
	for {
		select {
		case _, ok := <-server.StopChan:
			if !ok {
				ticker.Stop()
				return
			}
			panic("value should never be sent to stop channel")
		case <-ticker.C:
			ticker.Stop()
			server.Mutex.Lock()
			if server.Node.NeedsHeartbeat(time.Now()) {
				server.Node.ResetHeartbeatTime(time.Now())
				server.broadcastAppendEntries()
			}
			server.Mutex.Unlock()
			ticker.Reset(interval)
		case reset := <-server.HeartbeatTimeoutChan:
			if reset {
				ticker.Reset(interval)
			} else {
				ticker.Stop()
			}
		}
	}
}
