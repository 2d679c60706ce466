package bag

import (
	"errors"
	"fmt"
)

var (
	ErrTypeMismatch    = errors.New("bag: type mismatch")
	ErrNotStateful     = errors.New("bag: manager is not stateful")
	ErrNoStore         = errors.New("bag: no store configured")
	ErrClosed          = errors.New("bag: manager closed")
	ErrCorruptSnapshot = errors.New("bag: corrupt snapshot")
)

// Persistence operations reported in PersistError.Op.
const (
	OpEncode = "encode"
	OpPut    = "put"
	OpLoad   = "load"
)

// PersistError describes a failed durable-store interaction for one bag.
// It is delivered to the manager's error handler, never to Set callers.
type PersistError struct {
	BagID string
	Op    string
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("bag %q: %s: %v", e.BagID, e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
