package bag

import (
	"encoding/json"
	"maps"
	"sync"

	"saddlebag/internal/logging"

	"github.com/google/uuid"
)

var logger = logging.For("bag")

// Bag is a named key/value store whose changes are pushed to subscribers.
//
// Set and Populate store deep copies (see Cloner), so callers may keep
// mutating what they passed in. Get and Export do not copy values: callers
// must not mutate what they get back.
//
// Notifications run synchronously on the calling goroutine, after the bag
// lock is released, so a callback may call back into the same bag.
// A Bag is safe for concurrent use.
type Bag[T any] struct {
	id       string
	stateful bool
	journal  *journal

	mu        sync.Mutex
	values    map[string]T
	keyed     map[string][]listener[ValueFunc[T]]
	all       []listener[ChangeFunc[T]]
	populated []listener[PopulatedFunc[T]]

	// persistMu orders snapshot+enqueue so a bag's writes stay FIFO.
	persistMu sync.Mutex

	// restored marks a bag rebuilt from the store whose value type is not
	// yet known; raw keeps the stored encodings for adoption. Both are
	// guarded by the owning manager's mutex.
	restored bool
	raw      map[string]json.RawMessage
}

// New creates a standalone, non-persistent bag.
func New[T any](id string) *Bag[T] {
	return newBag[T](id, false, nil)
}

func newBag[T any](id string, stateful bool, j *journal) *Bag[T] {
	return &Bag[T]{
		id:       id,
		stateful: stateful,
		journal:  j,
		values:   make(map[string]T),
		keyed:    make(map[string][]listener[ValueFunc[T]]),
	}
}

// ID returns the name the bag was created with.
func (b *Bag[T]) ID() string { return b.id }

// Stateful reports whether Set mirrors the bag into the manager's store.
func (b *Bag[T]) Stateful() bool { return b.stateful }

// Len returns the number of keys in the bag.
func (b *Bag[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.values)
}

// Set stores a copy of value under key, notifies the key's subscribers and
// then the all-changes subscribers with the original value. Stateful bags
// queue a snapshot of their full contents for the store afterwards.
func (b *Bag[T]) Set(key string, value T) {
	b.mu.Lock()
	b.values[key] = cloneValue(value)
	keyed, all := b.keyed[key], b.all
	b.mu.Unlock()

	notify(keyed, all, key, value, true)
	b.persist()
}

// Get returns the value stored under key. The value is not copied.
func (b *Bag[T]) Get(key string) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok
}

// Populate replaces the whole bag with a copy of values and notifies the
// populated subscribers with values. Per-key subscribers are not notified.
// An empty mapping leaves the bag untouched.
func (b *Bag[T]) Populate(values map[string]T) {
	if len(values) == 0 {
		return
	}
	replaced := cloneMap(values)

	b.mu.Lock()
	b.values = replaced
	populated := b.populated
	b.mu.Unlock()

	for _, l := range populated {
		l.fn(values)
	}
}

// Export returns the bag's contents. The map is fresh but the values are
// the stored ones.
func (b *Bag[T]) Export() map[string]T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.values)
}

// Reset notifies key and all-changes subscribers that every present key is
// gone, then empties the bag. Populated subscribers are not notified.
func (b *Bag[T]) Reset() {
	type pending struct {
		key   string
		keyed []listener[ValueFunc[T]]
	}

	b.mu.Lock()
	gone := make([]pending, 0, len(b.values))
	for key := range b.values {
		gone = append(gone, pending{key: key, keyed: b.keyed[key]})
	}
	all := b.all
	b.mu.Unlock()

	var zero T
	for _, p := range gone {
		notify(p.keyed, all, p.key, zero, false)
	}

	b.mu.Lock()
	b.values = make(map[string]T)
	b.mu.Unlock()
}

// Subscribe registers fn for changes to key.
func (b *Bag[T]) Subscribe(key string, fn ValueFunc[T]) *Subscription {
	id := uuid.New()
	b.mu.Lock()
	b.keyed[key] = append(b.keyed[key], listener[ValueFunc[T]]{id: id, fn: fn})
	b.mu.Unlock()
	return &Subscription{id: id, kind: KeyScoped, key: key, owner: b}
}

// OnAllChanges registers fn for changes to any key.
func (b *Bag[T]) OnAllChanges(fn ChangeFunc[T]) *Subscription {
	id := uuid.New()
	b.mu.Lock()
	b.all = append(b.all, listener[ChangeFunc[T]]{id: id, fn: fn})
	b.mu.Unlock()
	return &Subscription{id: id, kind: AllChanges, owner: b}
}

// OnPopulated registers fn for bulk replacement via Populate.
func (b *Bag[T]) OnPopulated(fn PopulatedFunc[T]) *Subscription {
	id := uuid.New()
	b.mu.Lock()
	b.populated = append(b.populated, listener[PopulatedFunc[T]]{id: id, fn: fn})
	b.mu.Unlock()
	return &Subscription{id: id, kind: OnPopulated, owner: b}
}

func (b *Bag[T]) remove(kind Kind, key string, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case KeyScoped:
		if ls := without(b.keyed[key], id); len(ls) > 0 {
			b.keyed[key] = ls
		} else {
			delete(b.keyed, key)
		}
	case AllChanges:
		b.all = without(b.all, id)
	case OnPopulated:
		b.populated = without(b.populated, id)
	}
}

// subscribers returns the number of registrations per collection.
func (b *Bag[T]) subscribers() (keyed, all, populated int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ls := range b.keyed {
		keyed += len(ls)
	}
	return keyed, len(b.all), len(b.populated)
}

func (b *Bag[T]) persist() {
	if !b.stateful || b.journal == nil || !b.journal.attached() {
		return
	}
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	b.mu.Lock()
	data, skipped := encodeSnapshot(b.values)
	b.mu.Unlock()
	if skipped != nil {
		logger.Error("encode bag snapshot", "bag", b.id, "err", skipped)
		b.journal.fail(&PersistError{BagID: b.id, Op: OpEncode, Err: skipped})
	}
	b.journal.enqueue(b.id, data)
}

func notify[T any](keyed []listener[ValueFunc[T]], all []listener[ChangeFunc[T]], key string, value T, ok bool) {
	for _, l := range keyed {
		l.fn(value, ok)
	}
	for _, l := range all {
		l.fn(key, value, ok)
	}
}
