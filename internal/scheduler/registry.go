package scheduler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"crucible/internal/metrics"
	"crucible/model"
)

var ErrWorkerNotFound = errors.New("worker not found")

// workerState is the master-side view of one worker. available_slots is
// derived from capacity minus assignments the master itself made; the
// numbers a worker reports in heartbeats are informational only.
type workerState struct {
	id            string
	capacity      int
	lastHeartbeat time.Time

	// assigned holds jobs dispatched but not yet leased by the worker,
	// keyed to the assignment time for ack-timeout reclaim.
	assigned map[string]time.Time
	// inflight holds leased jobs until a terminal report arrives.
	inflight map[string]struct{}
}

func (w *workerState) availableSlots() int {
	free := w.capacity - len(w.assigned) - len(w.inflight)
	if free < 0 {
		return 0
	}
	return free
}

// Registry is the concurrency-safe worker fleet, keyed by worker id, with
// heartbeat-driven eviction. Workers join and leave at runtime.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*workerState
	changed chan struct{}
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*workerState),
		changed: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Register adds or resets a worker. A re-registration after eviction
// forgets any state from the previous incarnation.
func (r *Registry) Register(id string, capacity int) {
	r.mu.Lock()
	r.workers[id] = &workerState{
		id:            id,
		capacity:      capacity,
		lastHeartbeat: r.now(),
		assigned:      make(map[string]time.Time),
		inflight:      make(map[string]struct{}),
	}
	metrics.LiveWorkers.Set(float64(len(r.workers)))
	r.mu.Unlock()
	r.wake()
}

func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return ErrWorkerNotFound
	}
	w.lastHeartbeat = r.now()
	return nil
}

// Reserve picks the live worker with the most free slots and reserves one
// for the job. The decrement happens inside the registry lock, before any
// dispatch, so concurrent assignment attempts cannot oversubscribe.
func (r *Registry) Reserve(jobID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *workerState
	for _, w := range r.workers {
		if w.availableSlots() == 0 {
			continue
		}
		if best == nil || w.availableSlots() > best.availableSlots() {
			best = w
		}
	}
	if best == nil {
		return "", false
	}
	best.assigned[jobID] = r.now()
	return best.id, true
}

// Lease hands the oldest unacknowledged assignment to the polling worker.
// Delivery is the dispatch acknowledgment.
func (r *Registry) Lease(workerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return "", false
	}
	var oldest string
	var oldestAt time.Time
	for jobID, at := range w.assigned {
		if oldest == "" || at.Before(oldestAt) {
			oldest = jobID
			oldestAt = at
		}
	}
	if oldest == "" {
		return "", false
	}
	delete(w.assigned, oldest)
	w.inflight[oldest] = struct{}{}
	return oldest, true
}

// Release frees the slot a job held on a worker, in any dispatch state.
func (r *Registry) Release(workerID, jobID string) {
	r.mu.Lock()
	if w, ok := r.workers[workerID]; ok {
		delete(w.assigned, jobID)
		delete(w.inflight, jobID)
	}
	r.mu.Unlock()
	r.wake()
}

// Reclaimed is one job taken back from a worker.
type Reclaimed struct {
	WorkerID string
	JobID    string
}

// ExpireAssignments takes back assignments no worker leased within the ack
// timeout, releasing their slots.
func (r *Registry) ExpireAssignments(ackTimeout time.Duration) []Reclaimed {
	r.mu.Lock()
	var out []Reclaimed
	cutoff := r.now().Add(-ackTimeout)
	for _, w := range r.workers {
		for jobID, at := range w.assigned {
			if at.Before(cutoff) {
				delete(w.assigned, jobID)
				out = append(out, Reclaimed{WorkerID: w.id, JobID: jobID})
			}
		}
	}
	r.mu.Unlock()
	if len(out) > 0 {
		r.wake()
	}
	return out
}

// EvictStale removes workers whose last heartbeat is older than the grace
// period and takes back everything they held.
func (r *Registry) EvictStale(grace time.Duration) []Reclaimed {
	r.mu.Lock()
	var out []Reclaimed
	cutoff := r.now().Add(-grace)
	for id, w := range r.workers {
		if w.lastHeartbeat.After(cutoff) {
			continue
		}
		for jobID := range w.assigned {
			out = append(out, Reclaimed{WorkerID: id, JobID: jobID})
		}
		for jobID := range w.inflight {
			out = append(out, Reclaimed{WorkerID: id, JobID: jobID})
		}
		delete(r.workers, id)
	}
	metrics.LiveWorkers.Set(float64(len(r.workers)))
	r.mu.Unlock()
	if len(out) > 0 {
		r.wake()
	}
	return out
}

// Snapshot lists the fleet for /workers. Not used for scheduling decisions.
func (r *Registry) Snapshot() []model.WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, model.WorkerInfo{
			ID:             w.id,
			Capacity:       w.capacity,
			AvailableSlots: w.availableSlots(),
			LastHeartbeat:  w.lastHeartbeat,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Changed signals when capacity may have become available.
func (r *Registry) Changed() <-chan struct{} {
	return r.changed
}

func (r *Registry) wake() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}
