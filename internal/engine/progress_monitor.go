package engine

import (
	"sync"

	"github.com/google/uuid"
)

const listenerBuffer = 16

// ProgressMonitor fans snapshots out to per-job listeners. Intermediate
// snapshots are dropped for listeners that fall behind; the terminal one is
// always delivered, after which the listener channel is closed.
type ProgressMonitor struct {
	mu        sync.Mutex
	listeners map[uuid.UUID]map[uint64]chan Snapshot
	nextID    uint64
	closed    bool
}

func NewProgressMonitor() *ProgressMonitor {
	return &ProgressMonitor{
		listeners: make(map[uuid.UUID]map[uint64]chan Snapshot),
	}
}

// RegisterListener adds a listener for jobID, primed with the current
// snapshot, and returns its channel and a function that removes it.
func (pm *ProgressMonitor) RegisterListener(jobID uuid.UUID, current Snapshot) (<-chan Snapshot, func()) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	ch := make(chan Snapshot, listenerBuffer)
	ch <- current
	if pm.closed {
		close(ch)
		return ch, func() {}
	}

	pm.nextID++
	id := pm.nextID

	if pm.listeners[jobID] == nil {
		pm.listeners[jobID] = make(map[uint64]chan Snapshot)
	}
	pm.listeners[jobID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { pm.unregisterListener(jobID, id) })
	}
}

func (pm *ProgressMonitor) unregisterListener(jobID uuid.UUID, id uint64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	subs := pm.listeners[jobID]
	ch, ok := subs[id]
	if !ok {
		return
	}

	close(ch)
	delete(subs, id)
	if len(subs) == 0 {
		delete(pm.listeners, jobID)
	}
}

// Broadcast forwards s to the listeners of its job.
func (pm *ProgressMonitor) Broadcast(s Snapshot) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	subs := pm.listeners[s.JobID]
	if len(subs) == 0 {
		return
	}

	if !s.Status.IsTerminal() {
		for _, ch := range subs {
			select {
			case ch <- s:
			default:
			}
		}
		return
	}

	for _, ch := range subs {
		deliverLast(ch, s)
		close(ch)
	}
	delete(pm.listeners, s.JobID)
}

// Listeners returns the number of listeners registered for jobID.
func (pm *ProgressMonitor) Listeners(jobID uuid.UUID) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	return len(pm.listeners[jobID])
}

// Stop closes every listener channel; later registrations get a closed channel.
func (pm *ProgressMonitor) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, subs := range pm.listeners {
		for _, ch := range subs {
			close(ch)
		}
	}

	pm.listeners = make(map[uuid.UUID]map[uint64]chan Snapshot)
	pm.closed = true
}

// deliverLast sends s on a buffered channel nobody else sends on, evicting
// the oldest pending snapshot when the buffer is full.
func deliverLast(ch chan Snapshot, s Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
}
