package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// Registry tracks registered workers and their health. Read-mostly:
// routing reads under RLock; registration, health probes, and execution
// outcomes take the write lock.
type Registry struct {
	mu      sync.RWMutex
	workers map[uuid.UUID]*WorkerStatus
	clock   func() time.Time

	// degradeAfter / unhealthyAfter are the consecutive-failure counts
	// that demote a worker's health.
	degradeAfter   int
	unhealthyAfter int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		workers:        make(map[uuid.UUID]*WorkerStatus),
		clock:          time.Now,
		degradeAfter:   2,
		unhealthyAfter: 4,
	}
}

// WithRegistryClock overrides the clock for deterministic testing.
func (r *Registry) WithRegistryClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Register adds a worker in healthy state.
func (r *Registry) Register(w Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.ID]; exists {
		return fmt.Errorf("worker %s already registered", w.ID)
	}
	r.workers[w.ID] = &WorkerStatus{
		Worker:   w,
		Health:   HealthHealthy,
		LastSeen: r.clock(),
	}
	return nil
}

// Deregister removes a worker.
func (r *Registry) Deregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// Get returns a copy of one worker's status.
func (r *Registry) Get(id uuid.UUID) (WorkerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.workers[id]
	if !ok {
		return WorkerStatus{}, false
	}
	return *st, true
}

// Available returns non-draining workers sorted by load then ID, the
// ordering the router's least-loaded/round-robin tie-break relies on.
func (r *Registry) Available() []WorkerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkerStatus, 0, len(r.workers))
	for _, st := range r.workers {
		if !st.Draining() {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActiveTasks != out[j].ActiveTasks {
			return out[i].ActiveTasks < out[j].ActiveTasks
		}
		return out[i].Worker.ID.String() < out[j].Worker.ID.String()
	})
	return out
}

// Acquire marks a worker busy with one more task.
func (r *Registry) Acquire(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.workers[id]; ok {
		st.ActiveTasks++
	}
}

// Release marks a task finished and folds the outcome into health.
func (r *Registry) Release(id uuid.UUID, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workers[id]
	if !ok {
		return
	}
	if st.ActiveTasks > 0 {
		st.ActiveTasks--
	}
	st.LastSeen = r.clock()
	if success {
		st.ConsecutiveFailures = 0
		if st.Health == HealthDegraded || st.Health == HealthUnhealthy {
			st.Health = HealthHealthy
		}
		return
	}
	st.ConsecutiveFailures++
	switch {
	case st.ConsecutiveFailures >= r.unhealthyAfter:
		st.Health = HealthUnhealthy
	case st.ConsecutiveFailures >= r.degradeAfter:
		st.Health = HealthDegraded
	}
}

// Probe records a health probe result.
func (r *Registry) Probe(id uuid.UUID, reachable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workers[id]
	if !ok {
		return
	}
	if !reachable {
		st.Health = HealthOffline
		return
	}
	st.LastSeen = r.clock()
	if st.Health == HealthOffline {
		st.Health = HealthHealthy
		st.ConsecutiveFailures = 0
	}
}

// Stats summarizes the pool.
func (r *Registry) Stats() PoolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := PoolStats{TotalWorkers: len(r.workers)}
	for _, st := range r.workers {
		switch {
		case st.Draining():
			stats.UnhealthyWorkers++
		case st.ActiveTasks > 0:
			stats.BusyWorkers++
		default:
			stats.AvailableWorkers++
		}
	}
	return stats
}

// Workers returns a snapshot of every status, for diagnostics.
func (r *Registry) Workers() []WorkerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerStatus, 0, len(r.workers))
	for _, st := range r.workers {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Worker.ID.String() < out[j].Worker.ID.String()
	})
	return out
}

// specificity scores how precisely a worker's specialties cover the
// required capabilities: exact tag matches outrank kind matches, and
// specialists outrank generalists.
func specificity(w Worker, required []string) int {
	if len(required) == 0 {
		if w.Type == contracts.WorkerGeneralist {
			return 1
		}
		return 0
	}
	score := 0
	for _, req := range required {
		for _, sp := range w.Specialties {
			if string(sp.Kind) == req {
				score += 2
			}
			for _, tag := range sp.Tags {
				if tag == req {
					score += 3
				}
			}
		}
	}
	return score
}
