package rpc

import (
	"fmt"
	"io"
	netrpc "net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/rayos-project/consensus/common"
	"go.uber.org/atomic"
)

// Peer is the implementation of the common.RPCServer interface using
// golang's net/rpc package.
type Peer struct {
	id           uuid.UUID
	address      common.ServerAddress
	client       *netrpc.Client
	disconnected *atomic.Bool
}

// NewPeer creates a Peer instance with lazy initialization.
// The actual RPC connection is not established until an actual RPC
// call takes place.
func NewPeer(address common.ServerAddress, id uuid.UUID) *Peer {
	return &Peer{
		id:           id,
		address:      address,
		disconnected: atomic.NewBool(false),
	}
}

func (peer *Peer) setDisconnected(disconnected bool) {
	peer.disconnected.Store(disconnected)
}

// call takes care of automatically re-trying on transient failures
func (peer *Peer) call(method string, args interface{}, result interface{}) (err error) {
	if peer.disconnected.Load() {
		return fmt.Errorf("peer %v is unreachable (partitioned)", peer.id)
	}
	for i := 0; i < 3; i++ {
		if peer.client == nil {
			if peer.client, err = netrpc.Dial("tcp", string(peer.address)); err != nil {
				// retry with one-second delay
				peer.client = nil
				time.Sleep(time.Second)
				continue
			}
		}
		if err = peer.client.Call(method, args, result); err == io.EOF || err == netrpc.ErrShutdown {
			// likely that connection timed out, retry immediately
			peer.client.Close()
			peer.client = nil
			continue
		}
		break
	}
	return
}

func (peer *Peer) GetID() uuid.UUID {
	return peer.id
}

func (peer *Peer) ClientRequest(args *common.ClientRequestRPC, result *common.ClientRequestRPCResult) error {
	return peer.call("RPCServer.ClientRequest", args, result)
}

func (peer *Peer) RequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) error {
	return peer.call("RPCServer.RequestVote", args, result)
}

func (peer *Peer) AppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) error {
	return peer.call("RPCServer.AppendEntries", args, result)
}
