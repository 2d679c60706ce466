package memory

import (
	"context"
	"errors"
	"sync"

	"saddlebag/pkg/store"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("memory store: closed")

// Store is a volatile store.Store kept in a process-local map. Snapshots are
// copied on the way in and out.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	puts   int
	closed bool

	// PutHook, when set, runs before every Put and can fail it.
	PutHook func(bagID string, snapshot []byte) error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Opener returns a store.Opener that always hands out s.
func (s *Store) Opener() store.Opener {
	return func(context.Context) (store.Store, error) {
		s.mu.Lock()
		s.closed = false
		s.mu.Unlock()
		return s, nil
	}
}

func (s *Store) ReadAll(ctx context.Context, fn func(bagID string, snapshot []byte) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	copied := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		copied[k] = clone(v)
	}
	s.mu.RUnlock()

	for k, v := range copied {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, bagID string, snapshot []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.PutHook != nil {
		if err := s.PutHook(bagID, snapshot); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[bagID] = clone(snapshot)
	s.puts++
	return nil
}

// Get returns a copy of the snapshot stored for bagID.
func (s *Store) Get(bagID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[bagID]
	return clone(v), ok
}

// Puts returns the number of successful Put calls.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Closed reports whether Close was called since the last Opener use.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clone(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
