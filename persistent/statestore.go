package persistent

import (
	"errors"

	"github.com/boltdb/bolt"
	"github.com/rayos-project/consensus/common"
)

var stateBucketName = []byte("state")

// PStore is a Bolt-backed general-purpose key/value store used for a raft
// server's non-volatile state variables (current term and vote).
type PStore struct {
	db *bolt.DB
}

var _ common.StateStore = PStore{}

func NewPStore(dataBaseFilePath string) (PStore, error) {
	db, err := bolt.Open(dataBaseFilePath, 0600, nil)
	if err != nil {
		return PStore{}, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucketName)
		return err
	})
	if err != nil {
		return PStore{}, err
	}

	return PStore{db: db}, nil
}

func (store PStore) Set(key, value []byte) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucketName).Put(key, value)
	})
}

func (store PStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := store.db.View(func(tx *bolt.Tx) error {
		val = tx.Bucket(stateBucketName).Get(key)
		if val == nil {
			return errors.New("key doesn't exist")
		}
		return nil
	})
	return val, err
}

// GetDefault returns the stored value for key, initializing it to
// defaultVal when missing.
func (store PStore) GetDefault(key []byte, defaultVal []byte) ([]byte, error) {
	var val []byte
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucketName)
		val = bucket.Get(key)
		if val == nil {
			val = defaultVal
			return bucket.Put(key, defaultVal)
		}
		return nil
	})
	return val, err
}

func (store PStore) Close() error {
	return store.db.Close()
}
