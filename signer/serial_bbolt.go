package signer

import (
	"fmt"
	"math/big"

	"go.etcd.io/bbolt"
)

var (
	serialBucket = []byte("serials")
	serialKey    = []byte("next")
)

// BoltSerialSource is a monotonically increasing serial counter persisted
// in a BBolt database, so serials stay unique across process restarts.
// Each Next call runs in its own write transaction, which also makes the
// source safe for concurrent use.
type BoltSerialSource struct {
	db *bbolt.DB
}

var _ SerialSource = (*BoltSerialSource)(nil)

// NewBoltSerialSource returns a source backed by the given BBolt database.
func NewBoltSerialSource(db *bbolt.DB) *BoltSerialSource {
	return &BoltSerialSource{db: db}
}

// NewBoltSerialSourceFromFile opens a BBolt database at the given path and
// returns a new source.
func NewBoltSerialSourceFromFile(path string, options *bbolt.Options) (*BoltSerialSource, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening serial db: %w", err)
	}
	return NewBoltSerialSource(db), nil
}

// Close closes the underlying BBolt database.
func (s *BoltSerialSource) Close() error {
	return s.db.Close()
}

// Next returns the current counter value and advances it. The counter
// starts at 1 on a fresh database.
func (s *BoltSerialSource) Next() (*big.Int, error) {
	var serial *big.Int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(serialBucket)
		if err != nil {
			return err
		}
		serial = big.NewInt(1)
		if raw := b.Get(serialKey); raw != nil {
			serial.SetBytes(raw)
		}
		next := new(big.Int).Add(serial, big.NewInt(1))
		return b.Put(serialKey, next.Bytes())
	})
	if err != nil {
		return nil, fmt.Errorf("advancing serial counter: %w", err)
	}
	return serial, nil
}
