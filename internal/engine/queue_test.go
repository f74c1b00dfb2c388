package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatedRunner struct {
	mu      sync.Mutex
	started []uuid.UUID
	gates   map[uuid.UUID]chan struct{}
}

func newGatedRunner(ids ...uuid.UUID) *gatedRunner {
	r := &gatedRunner{gates: make(map[uuid.UUID]chan struct{})}
	for _, id := range ids {
		r.gates[id] = make(chan struct{})
	}
	return r
}

func (r *gatedRunner) run(ctx context.Context, id uuid.UUID) {
	r.mu.Lock()
	r.started = append(r.started, id)
	gate := r.gates[id]
	r.mu.Unlock()

	select {
	case <-gate:
	case <-ctx.Done():
	}
}

func (r *gatedRunner) startedIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.started...)
}

func TestQueueProcessorRespectsLimit(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	runner := newGatedRunner(a, b, c)

	q := NewQueueProcessor(2, runner.run, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	active, queued := q.Counts()
	assert.Equal(t, 0, active, "nothing runs before Start")
	assert.Equal(t, 3, queued)

	q.Start(ctx)

	require.Eventually(t, func() bool { return len(runner.startedIDs()) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, runner.startedIDs())

	active, queued = q.Counts()
	assert.Equal(t, 2, active)
	assert.Equal(t, 1, queued)

	close(runner.gates[b])
	require.Eventually(t, func() bool { return len(runner.startedIDs()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, c, runner.startedIDs()[2])

	close(runner.gates[a])
	close(runner.gates[c])
	require.Eventually(t, func() bool {
		active, queued := q.Counts()
		return active == 0 && queued == 0
	}, time.Second, time.Millisecond)
}

func TestQueueProcessorStartsInSubmissionOrder(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	runner := newGatedRunner(a, b, c)

	q := NewQueueProcessor(1, runner.run, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)
	q.Start(ctx)

	for i, id := range []uuid.UUID{a, b, c} {
		require.Eventually(t, func() bool { return len(runner.startedIDs()) == i+1 }, time.Second, time.Millisecond)
		assert.Equal(t, id, runner.startedIDs()[i])
		close(runner.gates[id])
	}

	require.Eventually(t, func() bool {
		active, queued := q.Counts()
		return active == 0 && queued == 0
	}, time.Second, time.Millisecond)
}

func TestQueueProcessorRemove(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	runner := newGatedRunner(a, b)

	q := NewQueueProcessor(1, runner.run, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)
	q.Enqueue(a)
	q.Enqueue(b)

	assert.True(t, q.Remove(b))
	assert.False(t, q.Remove(b))
	assert.False(t, q.Remove(a), "a running job is not in the queue")

	close(runner.gates[a])
	require.Eventually(t, func() bool {
		active, _ := q.Counts()
		return active == 0
	}, time.Second, time.Millisecond)

	assert.Equal(t, []uuid.UUID{a}, runner.startedIDs())
}

func TestQueueProcessorStop(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	runner := newGatedRunner(a, b)

	var wg sync.WaitGroup
	spawn := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	q := NewQueueProcessor(1, runner.run, spawn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)
	q.Enqueue(a)
	q.Enqueue(b)

	q.Stop()
	q.Stop()
	close(runner.gates[a])
	wg.Wait()

	q.Enqueue(uuid.New())

	assert.Equal(t, []uuid.UUID{a}, runner.startedIDs())
	active, queued := q.Counts()
	assert.Equal(t, 0, active)
	assert.Equal(t, 2, queued)
}
