package bag

import (
	"slices"

	"github.com/google/uuid"
)

// Kind is the listener collection a subscription belongs to.
type Kind int

const (
	KeyScoped Kind = iota
	AllChanges
	OnPopulated
)

func (k Kind) String() string {
	switch k {
	case KeyScoped:
		return "key"
	case AllChanges:
		return "all-changes"
	case OnPopulated:
		return "populated"
	default:
		return "unknown"
	}
}

// ValueFunc receives the new value of a watched key; ok is false when the
// key was cleared by Reset.
type ValueFunc[T any] func(value T, ok bool)

// ChangeFunc receives every key change of a bag.
type ChangeFunc[T any] func(key string, value T, ok bool)

// PopulatedFunc receives the mapping passed to Populate.
type PopulatedFunc[T any] func(values map[string]T)

// listener is one registration. The token, not the function, identifies it.
type listener[F any] struct {
	id uuid.UUID
	fn F
}

// without returns a new slice lacking the listener with the given token.
// The input is left untouched so in-flight notifications keep a stable view.
func without[F any](ls []listener[F], id uuid.UUID) []listener[F] {
	return slices.DeleteFunc(slices.Clone(ls), func(l listener[F]) bool {
		return l.id == id
	})
}

// remover is implemented by the bag that owns a subscription.
type remover interface {
	remove(kind Kind, key string, id uuid.UUID)
}

// Subscription is the handle returned by Subscribe, OnAllChanges and
// OnPopulated. Unsubscribe may be called any number of times.
type Subscription struct {
	id    uuid.UUID
	kind  Kind
	key   string
	owner remover
}

// ID returns the registration token.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Kind returns the listener collection the subscription belongs to.
func (s *Subscription) Kind() Kind { return s.kind }

// Key returns the watched key for KeyScoped subscriptions, "" otherwise.
func (s *Subscription) Key() string { return s.key }

// Unsubscribe removes this registration from its bag.
func (s *Subscription) Unsubscribe() {
	s.owner.remove(s.kind, s.key, s.id)
}
