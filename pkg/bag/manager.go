package bag

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"saddlebag/pkg/store"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithStateful makes every bag the manager creates mirror its Set calls into
// the store opened by LoadStatefulBags.
func WithStateful(stateful bool) Option {
	return func(m *Manager) {
		m.stateful = stateful
	}
}

// WithStore sets how LoadStatefulBags opens the durable store.
func WithStore(open store.Opener) Option {
	return func(m *Manager) {
		m.opener = open
	}
}

// WithErrorHandler receives persistence failures, usually *PersistError.
// Write failures are reported from the journal goroutine; the handler must
// not block.
func WithErrorHandler(fn func(error)) Option {
	return func(m *Manager) {
		m.onError = fn
	}
}

// WithQueueSize bounds the number of snapshots waiting to be written.
// Set blocks while the queue is full.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		m.queueSize = n
	}
}

// bagHandle is the type-erased view the manager keeps of a Bag[T].
type bagHandle interface {
	ID() string
	Len() int
	Reset()
}

// Manager owns named bags and the store handle they share. A name maps to
// at most one bag at a time.
type Manager struct {
	stateful  bool
	opener    store.Opener
	onError   func(error)
	queueSize int
	journal   *journal

	loadMu sync.Mutex

	mu   sync.Mutex
	bags map[string]bagHandle
}

// NewManager creates an independent manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{bags: make(map[string]bagHandle)}
	for _, opt := range opts {
		opt(m)
	}
	m.journal = newJournal(m.queueSize, m.report)
	return m
}

// Stateful reports whether the manager's bags persist their changes.
func (m *Manager) Stateful() bool { return m.stateful }

// CreateBag creates a bag called name, replacing any bag already registered
// under that name.
func CreateBag[T any](m *Manager, name string) *Bag[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return createLocked[T](m, name)
}

// GetBag returns the bag called name, creating it on first use.
//
// A bag restored by LoadStatefulBags whose value type was not known yet is
// converted to T on first access. ErrTypeMismatch is returned when name is
// held by a bag of another value type.
func GetBag[T any](m *Manager, name string) (*Bag[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.bags[name]
	if !ok {
		return createLocked[T](m, name), nil
	}
	if b, ok := existing.(*Bag[T]); ok {
		b.restored, b.raw = false, nil
		return b, nil
	}
	if placeholder, ok := existing.(*Bag[any]); ok && placeholder.restored {
		values, err := convertValues[T](restoredEncodings(placeholder))
		if err != nil {
			return nil, fmt.Errorf("%w: restored bag %q: %v", ErrTypeMismatch, name, err)
		}
		b := createLocked[T](m, name)
		b.Populate(values)
		logger.Debug("adopted restored bag", "bag", name, "type", fmt.Sprintf("%T", b))
		return b, nil
	}
	return nil, fmt.Errorf("%w: bag %q is a %T", ErrTypeMismatch, name, existing)
}

// restoredEncodings returns the stored encoding of every key a restored
// bag still holds.
func restoredEncodings(p *Bag[any]) map[string]json.RawMessage {
	present := p.Export()
	out := make(map[string]json.RawMessage, len(present))
	for key := range present {
		if raw, ok := p.raw[key]; ok {
			out[key] = raw
		}
	}
	return out
}

func createLocked[T any](m *Manager, name string) *Bag[T] {
	b := newBag[T](name, m.stateful, m.journal)
	m.bags[name] = b
	logger.Debug("bag created", "bag", name, "stateful", m.stateful)
	return b
}

// ResetBags resets every registered bag.
func (m *Manager) ResetBags() {
	m.mu.Lock()
	bags := make([]bagHandle, 0, len(m.bags))
	for _, b := range m.bags {
		bags = append(bags, b)
	}
	m.mu.Unlock()

	for _, b := range bags {
		b.Reset()
	}
}

// Names returns the registered bag names in lexical order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.bags))
	for name := range m.bags {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LoadStatefulBags opens the store, attaches it as the handle shared by all
// bags and rebuilds one bag per persisted snapshot, populating it with the
// stored contents. Rebuilt bags replace bags of the same name created
// earlier. Corrupt snapshots are skipped and reported to the error handler.
//
// Calling it again re-reads the already opened store.
func (m *Manager) LoadStatefulBags(ctx context.Context) (store.Store, error) {
	if !m.stateful {
		return nil, ErrNotStateful
	}
	if m.opener == nil {
		return nil, ErrNoStore
	}
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	st, err := m.journal.current()
	if err != nil {
		return nil, err
	}
	if st == nil {
		opened, err := m.opener(ctx)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		if err := m.journal.attach(opened); err != nil {
			_ = opened.Close()
			return nil, err
		}
		st = opened
	}

	loaded, skipped := 0, 0
	err = st.ReadAll(ctx, func(bagID string, snapshot []byte) error {
		raw, err := decodeSnapshot(snapshot)
		var values map[string]any
		if err == nil {
			values, err = convertValues[any](raw)
		}
		if err != nil {
			skipped++
			logger.Warn("skipping corrupt bag snapshot", "bag", bagID, "err", err)
			m.report(&PersistError{BagID: bagID, Op: OpLoad, Err: err})
			return nil
		}
		m.mu.Lock()
		b := createLocked[any](m, bagID)
		b.restored, b.raw = true, raw
		m.mu.Unlock()
		b.Populate(values)
		loaded++
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("reading stored bags: %w", err)
	}
	logger.Info("loaded stateful bags", "bags", loaded, "skipped", skipped)
	return st, nil
}

// Flush waits until every snapshot queued so far has been written.
func (m *Manager) Flush(ctx context.Context) error {
	return m.journal.flush(ctx)
}

// Close flushes pending writes and closes the store. Bags keep working in
// memory afterwards but no longer persist.
func (m *Manager) Close(ctx context.Context) error {
	return m.journal.close(ctx)
}

func (m *Manager) report(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

// process holds the process-wide manager handed out by CreateManager.
type process struct {
	mu sync.Mutex
	m  *Manager
}

func (p *process) get(stateful bool, opts []Option) *Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = NewManager(append([]Option{WithStateful(stateful)}, opts...)...)
	}
	return p.m
}

var defaultProcess process

// CreateManager returns the process-wide manager. The first call constructs
// it; later calls return the same instance and ignore their arguments.
func CreateManager(stateful bool, opts ...Option) *Manager {
	return defaultProcess.get(stateful, opts)
}

// GetManager returns the process-wide manager, creating a non-stateful one
// if none exists yet.
func GetManager() *Manager {
	return defaultProcess.get(false, nil)
}
