package core

import (
	"time"
)

// ElectionTimeoutExpired reports whether this node has gone without leader
// contact for longer than its (randomized) election timeout. Leaders never
// time out. The timestamp is supplied by the caller; the node holds no clock.
func (n *Node) ElectionTimeoutExpired(now time.Time) bool {
	if n.role == Leader {
		return false
	}
	return now.Sub(n.lastHeartbeat) > n.electionTimeout
}

// NeedsHeartbeat reports whether a leader is due to assert liveness with an
// empty AppendEntries broadcast.
func (n *Node) NeedsHeartbeat(now time.Time) bool {
	if n.role != Leader {
		return false
	}
	return now.Sub(n.lastHeartbeat) > n.cfg.HeartbeatInterval
}

// ResetHeartbeatTime is called by the transport whenever a heartbeat or
// append is sent, or a valid append is received.
func (n *Node) ResetHeartbeatTime(now time.Time) {
	n.lastHeartbeat = now
}

// ElectionTimeout returns the currently drawn election timeout.
func (n *Node) ElectionTimeout() time.Duration {
	return n.electionTimeout
}

func (n *Node) drawElectionTimeout() time.Duration {
	span := n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin
	if span <= 0 {
		return n.cfg.ElectionTimeoutMin
	}
	return n.cfg.ElectionTimeoutMin + time.Duration(n.rng.Int63n(int64(span)+1))
}
