package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rayos-project/consensus/common"
	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{
		HeartbeatInterval:  50 * time.Millisecond,
		ElectionTimeoutMin: 200 * time.Millisecond,
		ElectionTimeoutMax: 200 * time.Millisecond,
	}
}

// makeTestCluster creates n fully meshed nodes with no transport; tests
// drive the protocol by calling operations directly.
func makeTestCluster(t *testing.T, n int) []*Node {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	nodes := make([]*Node, n)
	for i := range nodes {
		var peers []uuid.UUID
		for j, id := range ids {
			if j != i {
				peers = append(peers, id)
			}
		}
		node, err := NewNode(ids[i], peers, testConfig())
		assert.NoError(t, err)
		nodes[i] = node
	}
	return nodes
}

func TestNewNode(t *testing.T) {
	node, err := NewNode(uuid.New(), []uuid.UUID{uuid.New(), uuid.New()}, testConfig())
	assert.NoError(t, err)
	assert.Equal(t, Follower, node.Role())
	assert.EqualValues(t, 0, node.CurrentTerm())
	assert.EqualValues(t, 0, node.CommitIndex())
	assert.EqualValues(t, 0, node.LastApplied())
	assert.Nil(t, node.VotedFor())
	assert.Nil(t, node.Leader())
	assert.Len(t, node.Peers(), 2)
	// Sentinel entry occupies slot 0.
	assert.EqualValues(t, 1, node.LogLength())
	assert.Equal(t, common.LogEntry{Index: 0, Term: 0}, node.LastLogEntry())
}

func TestNewNode_TooManyPeers(t *testing.T) {
	peers := make([]uuid.UUID, MaxPeers+1)
	for i := range peers {
		peers[i] = uuid.New()
	}
	_, err := NewNode(uuid.New(), peers, testConfig())
	assert.ErrorIs(t, err, ErrTooManyPeers)
}

func TestNewNode_BadTimeouts(t *testing.T) {
	cfg := testConfig()
	cfg.ElectionTimeoutMax = cfg.ElectionTimeoutMin - time.Millisecond
	_, err := NewNode(uuid.New(), nil, cfg)
	assert.ErrorIs(t, err, ErrBadTimeouts)

	cfg = testConfig()
	cfg.ElectionTimeoutMin = 0
	_, err = NewNode(uuid.New(), nil, cfg)
	assert.ErrorIs(t, err, ErrBadTimeouts)
}

func TestRestoreState(t *testing.T) {
	node, err := NewNode(uuid.New(), []uuid.UUID{uuid.New()}, testConfig())
	assert.NoError(t, err)

	vote := uuid.New()
	node.RestoreState(7, &vote)
	assert.EqualValues(t, 7, node.CurrentTerm())
	assert.Equal(t, vote, *node.VotedFor())
	assert.Equal(t, Follower, node.Role())
}

func TestRestoreEntries(t *testing.T) {
	node, err := NewNode(uuid.New(), []uuid.UUID{uuid.New()}, testConfig())
	assert.NoError(t, err)

	entries := []common.LogEntry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
		{Index: 3, Term: 2, Data: []byte("c")},
	}
	assert.True(t, node.RestoreEntries(entries))
	assert.EqualValues(t, 4, node.LogLength())
	entry, ok := node.Entry(2)
	assert.True(t, ok)
	assert.Equal(t, entries[1], entry)

	// Non-contiguous restore is rejected.
	assert.False(t, node.RestoreEntries([]common.LogEntry{{Index: 9, Term: 2}}))
}

func TestEntry_OutOfRange(t *testing.T) {
	node, err := NewNode(uuid.New(), nil, testConfig())
	assert.NoError(t, err)
	_, ok := node.Entry(1)
	assert.False(t, ok)
	_, ok = node.Entry(0)
	assert.True(t, ok)
}

func TestPeerTrackers_UnknownPeer(t *testing.T) {
	nodes := makeTestCluster(t, 3)
	stranger := uuid.New()

	_, ok := nodes[0].NextIndex(stranger)
	assert.False(t, ok)
	_, ok = nodes[0].MatchIndex(stranger)
	assert.False(t, ok)
	assert.False(t, nodes[0].DecrementNextIndex(stranger))
}
