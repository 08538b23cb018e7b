package kvstore

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rayos-project/consensus/common"
)

type RequestType int

const (
	Set RequestType = iota
	Get
)

// Request is the JSON-encoded command payload replicated through the log.
// TransactionId makes client retries idempotent: a request whose id has
// been applied before is answered from the result cache without being
// applied again.
type Request struct {
	Type          RequestType
	Key           string
	Val           string
	TransactionId uuid.UUID
}

type result struct {
	bytes []byte
	err   error
}

// KeyValFSM is the implementation of the common.FSM interface for the
// key-value store. Key-value pairs live in memory because they can be
// reliably reconstructed on server restarts by simply replaying the log.
type KeyValFSM struct {
	store map[string]string
	seen  map[uuid.UUID]result
}

var _ common.FSM = &KeyValFSM{}

func NewKeyValFSM() *KeyValFSM {
	return &KeyValFSM{
		store: make(map[string]string),
		seen:  make(map[uuid.UUID]result),
	}
}

func (fsm *KeyValFSM) Apply(entry common.LogEntry) ([]byte, error) {
	if entry.Data == nil {
		// Sentinel or bare heartbeat entry, nothing to do.
		return nil, nil
	}
	var request Request
	if err := json.Unmarshal(entry.Data, &request); err != nil {
		return nil, err
	}
	if request.TransactionId != uuid.Nil {
		if res, ok := fsm.seen[request.TransactionId]; ok {
			return res.bytes, res.err
		}
	}

	var res result
	switch request.Type {
	case Set:
		fsm.store[request.Key] = request.Val
	case Get:
		if val, ok := fsm.store[request.Key]; ok {
			res.bytes = []byte(val)
		} else {
			res.err = errors.New("key does not exist")
		}
	default:
		res.err = errors.New("unknown request type")
	}
	if request.TransactionId != uuid.Nil {
		fsm.seen[request.TransactionId] = res
	}
	return res.bytes, res.err
}
