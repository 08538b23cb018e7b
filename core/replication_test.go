package core

import (
	"fmt"
	"testing"

	"github.com/rayos-project/consensus/common"
	"github.com/stretchr/testify/assert"
)

func TestAppendEntry_NotLeader(t *testing.T) {
	nodes := makeTestCluster(t, 3)
	assert.False(t, nodes[0].AppendEntry([]byte("x=1")))
	nodes[0].StartElection()
	assert.False(t, nodes[0].AppendEntry([]byte("x=1")))
}

func TestReplicationAndCommit(t *testing.T) {
	// Scenario: leader A appends "x=1" at index 1, replicates it to B and
	// C, and commits once a majority (self included) holds it.
	nodes := makeTestCluster(t, 3)
	electLeader(t, nodes, 0)
	a, b, c := nodes[0], nodes[1], nodes[2]

	assert.True(t, a.AppendEntry([]byte("x=1")))
	entry := a.LastLogEntry()
	assert.EqualValues(t, 1, entry.Index)
	assert.EqualValues(t, 1, entry.Term)

	assert.True(t, b.AppendEntries(1, a.ID(), 0, 0, []common.LogEntry{entry}, 0))
	assert.True(t, c.AppendEntries(1, a.ID(), 0, 0, []common.LogEntry{entry}, 0))
	assert.EqualValues(t, 2, b.LogLength())
	assert.Equal(t, a.ID(), *b.Leader())

	assert.True(t, a.UpdateMatchIndex(b.ID(), 1))
	// A + B already form a majority of 3.
	assert.EqualValues(t, 1, a.CommitIndex())
	assert.True(t, a.UpdateMatchIndex(c.ID(), 1))
	assert.EqualValues(t, 1, a.CommitIndex())

	assert.Equal(t, 1, a.ApplyCommittedEntries())
	assert.EqualValues(t, 1, a.LastApplied())
	// Idempotence: nothing new to apply.
	assert.Equal(t, 0, a.ApplyCommittedEntries())
}

func TestCommit_RequiresMajority(t *testing.T) {
	// Scenario: 5 nodes; acknowledgments from only 1 peer (leader + 1 = 2
	// of 5) must not advance the commit index.
	nodes := makeTestCluster(t, 5)
	electLeader(t, nodes, 0)
	leader := nodes[0]

	assert.True(t, leader.AppendEntry([]byte("x=1")))
	assert.True(t, leader.UpdateMatchIndex(nodes[1].ID(), 1))
	assert.EqualValues(t, 0, leader.CommitIndex())

	// A third acknowledgment tips the majority (3 of 5).
	assert.True(t, leader.UpdateMatchIndex(nodes[2].ID(), 1))
	assert.EqualValues(t, 1, leader.CommitIndex())
}

func TestCommit_OldTermEntriesNotCountedAlone(t *testing.T) {
	// An entry from a prior term must not be committed by replica count
	// alone; it commits only when an entry of the current term on top of
	// it reaches a majority.
	nodes := makeTestCluster(t, 3)
	leader := nodes[0]
	// Log holds an entry from term 1; the node now leads term 3.
	assert.True(t, leader.RestoreEntries([]common.LogEntry{{Index: 1, Term: 1, Data: []byte("old")}}))
	leader.RestoreState(2, nil)
	assert.True(t, leader.StartElection())
	assert.True(t, leader.BecomeLeader())
	assert.EqualValues(t, 3, leader.CurrentTerm())

	assert.True(t, leader.UpdateMatchIndex(nodes[1].ID(), 1))
	assert.True(t, leader.UpdateMatchIndex(nodes[2].ID(), 1))
	assert.EqualValues(t, 0, leader.CommitIndex())

	// Appending and replicating a current-term entry commits both.
	assert.True(t, leader.AppendEntry([]byte("new")))
	assert.True(t, leader.UpdateMatchIndex(nodes[1].ID(), 2))
	assert.EqualValues(t, 2, leader.CommitIndex())
}

func TestUpdateMatchIndex_NotLeader(t *testing.T) {
	nodes := makeTestCluster(t, 3)
	assert.False(t, nodes[0].UpdateMatchIndex(nodes[1].ID(), 1))
}

func TestAppendEntries_StaleLeaderRejected(t *testing.T) {
	// Scenario: old leader A (term 1) is partitioned; B wins term 2. A's
	// appends are rejected and A must step down on seeing term 2.
	nodes := makeTestCluster(t, 3)
	electLeader(t, nodes, 0)
	a, c := nodes[0], nodes[2]

	// C moves on to term 2.
	c.ObserveTerm(2)
	assert.False(t, c.AppendEntries(1, a.ID(), 0, 0, nil, 0))
	assert.EqualValues(t, 2, c.CurrentTerm())

	// A sees term 2 in the response and reverts to follower.
	assert.True(t, a.ObserveTerm(2))
	assert.Equal(t, Follower, a.Role())
}

func TestAppendEntries_LogMatchingCheck(t *testing.T) {
	nodes := makeTestCluster(t, 2)
	follower := nodes[0]
	leaderID := nodes[1].ID()
	follower.RestoreEntries([]common.LogEntry{
		{Index: 1, Term: 1},
		{Index: 2, Term: 2},
	})

	// Missing prev entry.
	assert.False(t, follower.AppendEntries(3, leaderID, 5, 2, nil, 0))
	// Term mismatch at prev index.
	assert.False(t, follower.AppendEntries(3, leaderID, 2, 1, nil, 0))
	// Matching prev entry.
	assert.True(t, follower.AppendEntries(3, leaderID, 2, 2, nil, 0))
}

func TestAppendEntries_TruncatesConflictingSuffix(t *testing.T) {
	// Log matching: a follower whose suffix diverges from the leader's
	// must discard it before appending the leader's version.
	nodes := makeTestCluster(t, 2)
	follower := nodes[0]
	leaderID := nodes[1].ID()
	follower.RestoreEntries([]common.LogEntry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 2, Data: []byte("stale-b")},
		{Index: 3, Term: 2, Data: []byte("stale-c")},
	})

	entries := []common.LogEntry{
		{Index: 2, Term: 3, Data: []byte("b")},
	}
	assert.True(t, follower.AppendEntries(3, leaderID, 1, 1, entries, 0))
	// The divergent suffix (old 2 and 3) is gone, replaced by the
	// leader's entry at 2.
	assert.EqualValues(t, 3, follower.LogLength())
	entry, ok := follower.Entry(2)
	assert.True(t, ok)
	assert.EqualValues(t, 3, entry.Term)
	assert.Equal(t, []byte("b"), entry.Data)
	_, ok = follower.Entry(3)
	assert.False(t, ok)
}

func TestAppendEntries_IdempotentOverlap(t *testing.T) {
	nodes := makeTestCluster(t, 2)
	follower := nodes[0]
	leaderID := nodes[1].ID()

	entries := []common.LogEntry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
	}
	assert.True(t, follower.AppendEntries(1, leaderID, 0, 0, entries, 0))
	// A duplicated delivery leaves the log unchanged.
	assert.True(t, follower.AppendEntries(1, leaderID, 0, 0, entries, 0))
	assert.EqualValues(t, 3, follower.LogLength())
}

func TestAppendEntries_CommitFollowsLeader(t *testing.T) {
	nodes := makeTestCluster(t, 2)
	follower := nodes[0]
	leaderID := nodes[1].ID()

	entries := []common.LogEntry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
	}
	// Leader commit is capped at the last new entry.
	assert.True(t, follower.AppendEntries(1, leaderID, 0, 0, entries, 9))
	assert.EqualValues(t, 2, follower.CommitIndex())
	assert.Equal(t, 2, follower.ApplyCommittedEntries())

	// Heartbeat with a lower leader commit never regresses it.
	assert.True(t, follower.AppendEntries(1, leaderID, 2, 1, nil, 1))
	assert.EqualValues(t, 2, follower.CommitIndex())
}

func TestLeaderAppendOnly(t *testing.T) {
	// A leader only ever appends: entries it wrote keep their term and
	// command for as long as it stays leader.
	nodes := makeTestCluster(t, 3)
	electLeader(t, nodes, 0)
	leader := nodes[0]

	for i := 1; i <= 5; i++ {
		assert.True(t, leader.AppendEntry([]byte(fmt.Sprintf("cmd-%d", i))))
	}
	before := make([]common.LogEntry, 0, 5)
	for i := uint64(1); i <= 5; i++ {
		entry, ok := leader.Entry(i)
		assert.True(t, ok)
		before = append(before, entry)
	}

	assert.True(t, leader.AppendEntry([]byte("cmd-6")))
	leader.UpdateMatchIndex(nodes[1].ID(), 3)
	leader.ApplyCommittedEntries()

	for i, want := range before {
		got, ok := leader.Entry(uint64(i + 1))
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestLogCapacity(t *testing.T) {
	// Scenario: fill the bounded log; appends then fail until compaction.
	nodes := makeTestCluster(t, 3)
	electLeader(t, nodes, 0)
	leader := nodes[0]

	for i := 1; i < MaxLogEntries; i++ {
		assert.Truef(t, leader.AppendEntry([]byte("x")), "append %d failed", i)
	}
	assert.EqualValues(t, MaxLogEntries, leader.LogLength())
	assert.False(t, leader.AppendEntry([]byte("overflow")))

	// Snapshotting still works on a full log.
	assert.True(t, leader.CreateSnapshot())
	snap, ok := leader.LastSnapshot()
	assert.True(t, ok)
	assert.Equal(t, leader.LastApplied(), snap.Index)
	assert.Equal(t, leader.CurrentTerm(), snap.Term)
}

func TestAppendEntries_FollowerCapacity(t *testing.T) {
	nodes := makeTestCluster(t, 2)
	follower := nodes[0]
	leaderID := nodes[1].ID()

	var entries []common.LogEntry
	for i := 1; i < MaxLogEntries; i++ {
		entries = append(entries, common.LogEntry{Index: uint64(i), Term: 1, Data: []byte("x")})
	}
	assert.True(t, follower.AppendEntries(1, leaderID, 0, 0, entries, 0))
	// One more entry does not fit.
	overflow := []common.LogEntry{{Index: MaxLogEntries, Term: 1, Data: []byte("x")}}
	assert.False(t, follower.AppendEntries(1, leaderID, MaxLogEntries-1, 1, overflow, 0))
}

func TestDecrementNextIndex(t *testing.T) {
	nodes := makeTestCluster(t, 3)
	electLeader(t, nodes, 0)
	leader := nodes[0]
	peer := nodes[1].ID()

	leader.AppendEntry([]byte("a"))
	leader.AppendEntry([]byte("b"))

	next, _ := leader.NextIndex(peer)
	assert.EqualValues(t, 1, next)
	assert.True(t, leader.DecrementNextIndex(peer))
	// Never drops below 1.
	next, _ = leader.NextIndex(peer)
	assert.EqualValues(t, 1, next)

	leader.UpdateMatchIndex(peer, 2)
	next, _ = leader.NextIndex(peer)
	assert.EqualValues(t, 3, next)
	assert.True(t, leader.DecrementNextIndex(peer))
	next, _ = leader.NextIndex(peer)
	assert.EqualValues(t, 2, next)
}

func TestLogMatchingProperty(t *testing.T) {
	// If two logs agree on (index, term) at i, they agree on every entry
	// at and before i. Drive two followers through divergence and repair
	// and verify the invariant directly.
	nodes := makeTestCluster(t, 3)
	b, c := nodes[1], nodes[2]
	leaderID := nodes[0].ID()

	shared := []common.LogEntry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
	}
	assert.True(t, b.AppendEntries(1, leaderID, 0, 0, shared, 0))
	assert.True(t, c.AppendEntries(1, leaderID, 0, 0, shared[:1], 0))

	// B receives an uncommitted term-2 entry that C never sees.
	assert.True(t, b.AppendEntries(2, leaderID, 2, 1, []common.LogEntry{{Index: 3, Term: 2, Data: []byte("x")}}, 0))
	// The term-3 leader replaces it on both.
	repair := []common.LogEntry{
		{Index: 2, Term: 1, Data: []byte("b")},
		{Index: 3, Term: 3, Data: []byte("y")},
	}
	assert.True(t, b.AppendEntries(3, leaderID, 1, 1, repair, 0))
	assert.True(t, c.AppendEntries(3, leaderID, 1, 1, repair, 0))

	assert.Equal(t, b.LogLength(), c.LogLength())
	for i := uint64(0); i < b.LogLength(); i++ {
		be, _ := b.Entry(i)
		ce, _ := c.Entry(i)
		assert.Equalf(t, be, ce, "logs diverge at index %d", i)
	}
}
