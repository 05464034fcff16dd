// Package fstore implements the C11 persistence boundary: an ordered,
// append-only log of funder.Batch records backed by bbolt, replayed in full
// at start-up before the event loop accepts its first event (spec §4.7,
// §6). It is grounded on channeldb/db.go's open/migrate/bucket-create
// pattern, generalized from lnd's many typed buckets to a single sequential
// mutation log.
package fstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tokennet/funder/funder"
	"go.etcd.io/bbolt"
)

const (
	dbName           = "funder.db"
	dbFilePermission = 0600
)

var (
	// batchesBucket holds one key per appended batch, keyed by an
	// 8-byte big-endian sequence number, value the encoded Batch.
	batchesBucket = []byte("batches")
	// metaBucket holds the schema version and the next free sequence
	// number.
	metaBucket = []byte("meta")

	seqKey     = []byte("next-seq")
	versionKey = []byte("version")
)

const schemaVersion = 1

var byteOrder = binary.BigEndian

// ErrNotOpen is returned by any Store method called after Close.
var ErrNotOpen = fmt.Errorf("fstore: store is closed")

// Store is the bbolt-backed implementation of funder.Persister. Every
// Persist call is its own bbolt transaction: by the time it returns nil,
// the batch is durable, which is what lets the event loop release its
// outgoing comms only after persistence succeeds (spec §4.7).
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the mutation log rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, dbName)

	db, err := bbolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(batchesBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if meta.Get(versionKey) == nil {
			var v [4]byte
			byteOrder.PutUint32(v[:], schemaVersion)
			if err := meta.Put(versionKey, v[:]); err != nil {
				return err
			}
		}
		if meta.Get(seqKey) == nil {
			var s [8]byte
			byteOrder.PutUint64(s[:], 0)
			if err := meta.Put(seqKey, s[:]); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("opened mutation log at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Persist implements funder.Persister: appends batch as the next record in
// the log within a single atomic bbolt transaction.
func (s *Store) Persist(batch funder.Batch) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if len(batch) == 0 {
		return nil
	}

	encoded, err := encodeBatch(batch)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		batches := tx.Bucket(batchesBucket)

		seq := byteOrder.Uint64(meta.Get(seqKey))

		var key [8]byte
		byteOrder.PutUint64(key[:], seq)
		if err := batches.Put(key[:], encoded); err != nil {
			return err
		}

		var next [8]byte
		byteOrder.PutUint64(next[:], seq+1)
		return meta.Put(seqKey, next[:])
	})
}

// Load folds the entire log back into an ordered slice of batches, oldest
// first, for replay into a fresh funder.State at start-up (spec §6
// "the funder reconstructs its entire state by folding the mutation log").
func (s *Store) Load() ([]funder.Batch, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	var out []funder.Batch
	err := s.db.View(func(tx *bbolt.Tx) error {
		batches := tx.Bucket(batchesBucket)
		return batches.ForEach(func(k, v []byte) error {
			b, err := decodeBatch(v)
			if err != nil {
				return fmt.Errorf("fstore: corrupt batch at seq %d: %w", byteOrder.Uint64(k), err)
			}
			out = append(out, b)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("replayed %d batches from mutation log", len(out))
	return out, nil
}

// Wipe deletes every appended batch, for test fixtures that want a clean
// log without recreating the file.
func (s *Store) Wipe() error {
	if s.db == nil {
		return ErrNotOpen
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(batchesBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(batchesBucket)
		return err
	})
}
