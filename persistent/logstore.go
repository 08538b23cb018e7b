package persistent

// Bolt is a pure Go key/value store that doesn't require a full database
// server such as Postgres or MySQL.
import (
	"errors"

	"github.com/boltdb/bolt"
	"github.com/rayos-project/consensus/common"
)

var logsBucketName = []byte("logs")

// DbLogStore is a log store implementation backed by a Bolt DB.
// Entries are keyed by their big-endian index so that bucket order is
// log order.
type DbLogStore struct {
	db *bolt.DB
}

var _ common.LogStore = DbLogStore{}

func CreateDbLogStore(dataBaseFilePath string) (DbLogStore, error) {
	// Open the .db data file, it will be created if it doesn't exist.
	db, err := bolt.Open(dataBaseFilePath, 0600, nil)
	if err != nil {
		return DbLogStore{}, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logsBucketName)
		return err
	})
	if err != nil {
		return DbLogStore{}, err
	}

	return DbLogStore{db: db}, nil
}

func (d DbLogStore) Store(entry common.LogEntry) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucketName)
		logLength := uint64(bucket.Stats().KeyN)
		if entry.Index > logLength {
			return errors.New("can't append beyond log length")
		}
		val, err := encodeEntry(entry)
		if err != nil {
			return err
		}
		return bucket.Put(uint64ToBytes(entry.Index), val)
	})
}

func (d DbLogStore) Get(index uint64) (*common.LogEntry, error) {
	var entry common.LogEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(logsBucketName).Get(uint64ToBytes(index))
		if val == nil {
			return errors.New("index doesn't exist")
		}
		var err error
		entry, err = decodeEntry(val)
		return err
	})
	return &entry, err
}

func (d DbLogStore) GetLast() (*common.LogEntry, error) {
	var entry common.LogEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		_, val := tx.Bucket(logsBucketName).Cursor().Last()
		if val == nil {
			return errors.New("log is empty")
		}
		var err error
		entry, err = decodeEntry(val)
		return err
	})
	return &entry, err
}

func (d DbLogStore) Length() (uint64, error) {
	var logLength uint64
	err := d.db.View(func(tx *bolt.Tx) error {
		logLength = uint64(tx.Bucket(logsBucketName).Stats().KeyN)
		return nil
	})
	return logLength, err
}

// Truncate discards every entry at index >= from. Used to mirror a
// follower's conflict truncation on disk.
func (d DbLogStore) Truncate(from uint64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(logsBucketName).Cursor()
		for k, _ := cursor.Seek(uint64ToBytes(from)); k != nil; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d DbLogStore) Close() error {
	return d.db.Close()
}
