package dispatch

import (
	"fmt"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// Router assigns subtasks to workers. Capability-tagged tasks match the
// most specific specialist available; ties break least-loaded, then
// round-robin within the load class.
type Router struct {
	registry *Registry
	clock    func() time.Time

	// rr advances on every tie-broken pick so equally loaded workers
	// alternate.
	rr int
}

// NewRouter creates a router over the registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry, clock: time.Now}
}

// WithRouterClock overrides the clock for deterministic testing.
func (r *Router) WithRouterClock(clock func() time.Time) *Router {
	r.clock = clock
	return r
}

// Route produces a RouterDecision for the given subtasks, one assignment
// each, and the worker picked for each assignment.
func (r *Router) Route(taskID string, subtasks []contracts.TaskSpec) (contracts.RouterDecision, map[string]Worker, error) {
	if len(subtasks) == 0 {
		return contracts.RouterDecision{}, nil, fmt.Errorf("route %s: no subtasks", taskID)
	}

	decision := contracts.RouterDecision{
		TaskID:    taskID,
		DecidedAt: r.clock().UTC(),
	}
	picked := make(map[string]Worker, len(subtasks))

	for _, sub := range subtasks {
		worker, reason, err := r.pick(sub.RequiredCapabilities)
		if err != nil {
			return contracts.RouterDecision{}, nil, fmt.Errorf("route %s subtask %s: %w", taskID, sub.ID, err)
		}
		decision.Assignments = append(decision.Assignments, contracts.RouterAssignment{
			SubtaskID:  sub.ID.String(),
			WorkerType: worker.Type,
			Model:      worker.Model,
			Reason:     reason,
		})
		picked[sub.ID.String()] = worker
	}
	return decision, picked, nil
}

// pick selects the best available worker for the required capabilities.
func (r *Router) pick(required []string) (Worker, string, error) {
	available := r.registry.Available()
	if len(available) == 0 {
		return Worker{}, "", contracts.NewFault(contracts.FaultDispatch, "no workers available", nil)
	}

	best := -1
	bestScore := -1
	for i, st := range available {
		score := specificity(st.Worker, required)
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if bestScore <= 0 {
		// No specialist matched; fall back to the least-loaded
		// generalist, round-robin within the load class.
		generalists := filterByType(available, contracts.WorkerGeneralist)
		if len(generalists) == 0 {
			generalists = available
		}
		w := r.roundRobin(generalists)
		return w.Worker, "no capability match; least-loaded generalist", nil
	}

	// Gather every worker tied at the best specificity; Available() is
	// load-sorted, so tie-break is least-loaded then round-robin.
	var tied []WorkerStatus
	minLoad := -1
	for _, st := range available {
		if specificity(st.Worker, required) != bestScore {
			continue
		}
		if minLoad == -1 || st.ActiveTasks < minLoad {
			minLoad = st.ActiveTasks
			tied = tied[:0]
		}
		if st.ActiveTasks == minLoad {
			tied = append(tied, st)
		}
	}
	w := r.roundRobin(tied)
	reason := fmt.Sprintf("capability match (specificity %d)", bestScore)
	if w.Worker.Type == contracts.WorkerSpecialist {
		reason = fmt.Sprintf("most specific specialist (specificity %d)", bestScore)
	}
	return w.Worker, reason, nil
}

func (r *Router) roundRobin(candidates []WorkerStatus) WorkerStatus {
	w := candidates[r.rr%len(candidates)]
	r.rr++
	return w
}

func filterByType(in []WorkerStatus, t contracts.WorkerType) []WorkerStatus {
	var out []WorkerStatus
	for _, st := range in {
		if st.Worker.Type == t {
			out = append(out, st)
		}
	}
	return out
}
