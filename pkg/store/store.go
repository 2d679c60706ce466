package store

import (
	"context"
	"errors"
)

// ErrVersionDowngrade is returned by Open when the database on disk was
// created by a newer schema version than the one requested.
var ErrVersionDowngrade = errors.New("store: database version is newer than requested")

// Store is the durable side of a stateful bag manager: an opaque blob store
// addressed by bag id. Each record holds the full encoded snapshot of one bag.
// Implementations must be safe for concurrent use.
type Store interface {
	// ReadAll calls fn once per persisted bag. Returning an error from fn
	// stops the enumeration and is returned by ReadAll.
	ReadAll(ctx context.Context, fn func(bagID string, snapshot []byte) error) error
	// Put replaces the snapshot stored for bagID.
	Put(ctx context.Context, bagID string, snapshot []byte) error
	Close() error
}

// Opener opens (creating on first use) the store a manager persists to.
type Opener func(ctx context.Context) (Store, error)
