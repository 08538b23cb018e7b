package core

import (
	"github.com/rayos-project/consensus/common"
)

// CreateSnapshot records a compaction checkpoint at the current applied
// index. The digest covers every command applied so far. Fails when the
// bounded snapshot store is full; the store is never evicted from here
// (an external storage collaborator decides what to discard).
func (n *Node) CreateSnapshot() bool {
	if n.snapshotCount >= MaxSnapshots {
		return false
	}
	n.snapshots[n.snapshotCount] = common.Snapshot{
		Index:     n.lastApplied,
		Term:      n.term,
		StateHash: n.appliedHash,
	}
	n.snapshotCount++
	return true
}

// LastSnapshot returns the most recent snapshot, if any exists.
func (n *Node) LastSnapshot() (common.Snapshot, bool) {
	if n.snapshotCount == 0 {
		return common.Snapshot{}, false
	}
	return n.snapshots[n.snapshotCount-1], true
}

// SnapshotCount returns the number of recorded snapshots.
func (n *Node) SnapshotCount() int {
	return n.snapshotCount
}
