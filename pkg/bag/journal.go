package bag

import (
	"context"
	"sync"

	"saddlebag/pkg/store"
)

const defaultQueueSize = 64

// write is one queued snapshot. Flush markers carry a done channel and no data.
type write struct {
	bagID string
	data  []byte
	done  chan struct{}
}

// journal is the durable handle shared by every bag of a manager. A single
// goroutine drains the queue in FIFO order, so snapshots enqueued by one bag
// reach the store in the order they were taken.
type journal struct {
	mu      sync.Mutex
	st      store.Store
	queue   chan write
	stopped chan struct{}
	closed  bool

	// shut is closed once the store is closed; closeErr is set before.
	shut     chan struct{}
	closeErr error

	size   int
	report func(error)
}

func newJournal(size int, report func(error)) *journal {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &journal{size: size, report: report}
}

// attach starts the writer on st. It fails with ErrClosed after close.
func (j *journal) attach(st store.Store) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if j.st != nil {
		return nil
	}
	j.st = st
	j.queue = make(chan write, j.size)
	j.stopped = make(chan struct{})
	go j.run(st, j.queue, j.stopped)
	return nil
}

// current returns the attached store, nil before attach.
func (j *journal) current() (store.Store, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	return j.st, nil
}

func (j *journal) attached() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.st != nil && !j.closed
}

// enqueue hands a snapshot to the writer, blocking while the queue is full.
// It reports false when there is no store to write to.
func (j *journal) enqueue(bagID string, data []byte) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.st == nil || j.closed {
		return false
	}
	j.queue <- write{bagID: bagID, data: data}
	return true
}

// flush waits until every write enqueued before the call has been handled.
func (j *journal) flush(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	if j.st == nil {
		j.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	select {
	case j.queue <- write{done: done}:
	case <-ctx.Done():
		j.mu.Unlock()
		return ctx.Err()
	}
	j.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains pending writes, stops the writer and closes the store. If ctx
// ends first the shutdown still completes in the background, and a later
// close waits for it again.
func (j *journal) close(ctx context.Context) error {
	j.mu.Lock()
	if j.st == nil {
		j.closed = true
		j.mu.Unlock()
		return nil
	}
	if !j.closed {
		j.closed = true
		close(j.queue)
		j.shut = make(chan struct{})
		go func(st store.Store, stopped <-chan struct{}, shut chan<- struct{}) {
			<-stopped
			j.closeErr = st.Close()
			close(shut)
		}(j.st, j.stopped, j.shut)
	}
	shut := j.shut
	j.mu.Unlock()

	select {
	case <-shut:
		return j.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *journal) run(st store.Store, queue <-chan write, stopped chan<- struct{}) {
	defer close(stopped)
	for w := range queue {
		if w.done != nil {
			close(w.done)
			continue
		}
		if err := st.Put(context.Background(), w.bagID, w.data); err != nil {
			logger.Error("persist bag snapshot", "bag", w.bagID, "err", err)
			j.fail(&PersistError{BagID: w.bagID, Op: OpPut, Err: err})
		}
	}
}

func (j *journal) fail(err error) {
	if j.report != nil {
		j.report(err)
	}
}
