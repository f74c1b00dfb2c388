package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// QueueProcessor starts queued jobs in FIFO order while keeping at most
// maxConcurrent of them running.
type QueueProcessor struct {
	maxConcurrent int

	queued []uuid.UUID
	active map[uuid.UUID]struct{}

	runFn func(context.Context, uuid.UUID)
	spawn func(func())

	completionCh chan uuid.UUID

	ctx     context.Context
	done    chan struct{}
	stopped bool
	mu      sync.Mutex
}

// NewQueueProcessor creates a new queue processor. runFn runs one job to the
// end; spawn runs a function on a new goroutine and defaults to go.
func NewQueueProcessor(maxConcurrent int, runFn func(context.Context, uuid.UUID), spawn func(func())) *QueueProcessor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	if spawn == nil {
		spawn = func(f func()) { go f() }
	}

	return &QueueProcessor{
		maxConcurrent: maxConcurrent,
		active:        make(map[uuid.UUID]struct{}),
		runFn:         runFn,
		spawn:         spawn,
		completionCh:  make(chan uuid.UUID, 10),
		done:          make(chan struct{}),
	}
}

// Start begins queue processing. Jobs enqueued before Start wait for it.
func (q *QueueProcessor) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.fillAvailableSlots()
	q.mu.Unlock()

	go q.processQueue(ctx)
}

// Stop prevents new jobs from starting. Running jobs are not interrupted.
func (q *QueueProcessor) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}

	q.stopped = true
	close(q.done)
}

func (q *QueueProcessor) processQueue(ctx context.Context) {
	for {
		select {
		case id := <-q.completionCh:
			q.handleCompletion(id)
		case <-ctx.Done():
			return
		case <-q.done:
			return
		}
	}
}

func (q *QueueProcessor) Enqueue(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queued = append(q.queued, id)
	q.fillAvailableSlots()
}

// Remove drops a job that has not started yet and reports whether it was queued.
func (q *QueueProcessor) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.Index(q.queued, id)
	if i < 0 {
		return false
	}

	q.queued = slices.Delete(q.queued, i, i+1)
	return true
}

// Counts returns the number of running and waiting jobs.
func (q *QueueProcessor) Counts() (active, queued int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.active), len(q.queued)
}

// notifyCompletion frees the slot held by id.
func (q *QueueProcessor) notifyCompletion(id uuid.UUID) {
	select {
	case <-q.done:
		q.release(id)
		return
	default:
	}

	select {
	case q.completionCh <- id:
	case <-q.done:
		q.release(id)
	case <-q.ctx.Done():
		q.release(id)
	}
}

func (q *QueueProcessor) release(id uuid.UUID) {
	q.mu.Lock()
	delete(q.active, id)
	q.mu.Unlock()
}

func (q *QueueProcessor) handleCompletion(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, id)
	q.fillAvailableSlots()
}

// fillAvailableSlots starts jobs while slots are free. Callers hold q.mu.
func (q *QueueProcessor) fillAvailableSlots() {
	if q.ctx == nil || q.stopped || q.ctx.Err() != nil {
		return
	}

	for len(q.active) < q.maxConcurrent && len(q.queued) > 0 {
		id := q.queued[0]
		q.queued = q.queued[1:]
		q.active[id] = struct{}{}

		ctx := q.ctx
		q.spawn(func() {
			defer q.notifyCompletion(id)
			q.runFn(ctx, id)
		})
	}
}
