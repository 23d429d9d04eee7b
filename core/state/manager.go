package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rados-io/saturn-presale/storage"
)

// Manager reads and writes ledger records on top of a key-value backend. All
// values are RLP encoded.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// journal accumulates the writes of a change set together with the inverse
// operations needed to restore the prior records.
type journal struct {
	m    *Manager
	redo storage.Batch
	undo storage.Batch
}

func (m *Manager) newJournal() *journal {
	return &journal{m: m, redo: m.db.NewBatch(), undo: m.db.NewBatch()}
}

func (j *journal) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	prior, err := j.m.db.Get(key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		j.undo.Delete(key)
	case err != nil:
		return err
	default:
		j.undo.Put(key, prior)
	}
	j.redo.Put(key, encoded)
	return nil
}

// commit writes the change set and returns a function that writes the undo
// batch.
func (j *journal) commit() (func() error, error) {
	if j.redo.Len() == 0 {
		return func() error { return nil }, nil
	}
	if err := j.redo.Write(); err != nil {
		return nil, err
	}
	undo := j.undo
	var done bool
	return func() error {
		if done {
			return nil
		}
		if err := undo.Write(); err != nil {
			return err
		}
		done = true
		return nil
	}, nil
}
