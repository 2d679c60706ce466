package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"saddlebag/pkg/store"

	bolt "go.etcd.io/bbolt"
)

var (
	metaBucket = []byte("_meta")
	versionKey = []byte("version")
)

// Store implements store.Store using bbolt (embedded B+ tree). All bag
// snapshots live in one bucket named after the store.
type Store struct {
	db      *bolt.DB
	bucket  []byte
	version uint32
}

var _ store.Store = (*Store)(nil)

// Open creates or opens a bbolt database at path and makes sure the bucket
// called name exists. The schema version is recorded on first use; opening a
// database recorded with a higher version fails with store.ErrVersionDowngrade.
func Open(path, name string, version uint32) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("opening bolt db: empty store name")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	s := &Store{db: db, bucket: []byte(name), version: version}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Opener returns a store.Opener that opens path with Open.
func Opener(path, name string, version uint32) store.Opener {
	return func(_ context.Context) (store.Store, error) {
		return Open(path, name, version)
	}
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("creating meta bucket: %w", err)
		}
		if v := meta.Get(versionKey); len(v) == 4 {
			if recorded := binary.BigEndian.Uint32(v); recorded > s.version {
				return fmt.Errorf("%w: on disk %d, requested %d", store.ErrVersionDowngrade, recorded, s.version)
			}
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], s.version)
		if err := meta.Put(versionKey, buf[:]); err != nil {
			return fmt.Errorf("writing version: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(s.bucket); err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return nil
	})
}

// Version returns the schema version the store was opened with.
func (s *Store) Version() uint32 {
	return s.version
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) ReadAll(ctx context.Context, fn func(bagID string, snapshot []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Values are only valid for the life of the transaction.
			val := make([]byte, len(v))
			copy(val, v)
			return fn(string(k), val)
		})
	})
}

func (s *Store) Put(ctx context.Context, bagID string, snapshot []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return b.Put([]byte(bagID), snapshot)
	})
}

// Get returns the raw snapshot stored for bagID, or nil if there is none.
func (s *Store) Get(bagID string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(bagID))
		if v != nil {
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	return val, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
