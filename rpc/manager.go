package rpc

import (
	"net"
	netrpc "net/rpc"
	"sync"

	"github.com/google/uuid"
	"github.com/rayos-project/consensus/common"
)

// Manager is the implementation of the common.RPCManager interface using
// golang's net/rpc package.
type Manager struct {
	mu       sync.Mutex
	listener net.Listener
	peers    []*Peer
	stopped  bool
}

var _ common.RPCManager = &Manager{}

func NewManager() *Manager {
	return &Manager{}
}

func (manager *Manager) Start(address common.ServerAddress, server common.RPCServer) error {
	rpcServ := netrpc.NewServer()
	if err := rpcServ.RegisterName("RPCServer", server); err != nil {
		return err
	}

	for {
		listener, err := net.Listen("tcp", string(address))
		if err != nil {
			return err
		}
		manager.mu.Lock()
		if manager.stopped {
			manager.mu.Unlock()
			return listener.Close()
		}
		manager.listener = listener
		manager.mu.Unlock()
		rpcServ.Accept(listener)
		// Accept only returns on a serious listener error (or Stop), so
		// loop and try to re-establish the listener.
		manager.mu.Lock()
		if manager.stopped {
			manager.mu.Unlock()
			return nil
		}
		manager.mu.Unlock()
	}
}

func (manager *Manager) ConnectToPeer(address common.ServerAddress, id uuid.UUID) (common.RPCServer, error) {
	peer := NewPeer(address, id)
	manager.mu.Lock()
	manager.peers = append(manager.peers, peer)
	manager.mu.Unlock()
	return peer, nil
}

func (manager *Manager) Stop() error {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.stopped = true
	if manager.listener != nil {
		return manager.listener.Close()
	}
	return nil
}

// Disconnect makes all managed peers fail their calls, simulating a
// network partition around this server.
func (manager *Manager) Disconnect() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	for _, peer := range manager.peers {
		peer.setDisconnected(true)
	}
}

func (manager *Manager) Reconnect() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	for _, peer := range manager.peers {
		peer.setDisconnected(false)
	}
}
