package common

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry represents one particular entry in the replicated log.
// Index 0 is reserved as a sentinel ("no entry"); real commands start at 1.
type LogEntry struct {
	Index, Term uint64
	Data        []byte
}

// Snapshot is a compaction checkpoint recorded against the replicated log.
// StateHash is a digest of all commands applied up to Index.
type Snapshot struct {
	Index, Term uint64
	StateHash   uint64
}

// ServerAddress represents a network address of a raft server (hostname:port)
type ServerAddress string

type Server struct {
	ID         uuid.UUID
	NetAddress ServerAddress
}

// ClusterConfig specifies configuration information related to a
// raft cluster. This includes tunable properties of the Raft
// protocol itself such as different timeouts. The election timeout
// is a range; each node draws its own value from it so that timed-out
// followers do not repeatedly split votes.
type ClusterConfig struct {
	Cluster            []Server
	HeartbeatInterval  time.Duration
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
}
