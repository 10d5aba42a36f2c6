package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/observability"
	"github.com/arbiterlabs/arbiter/pkg/retry"
)

// ErrWorkerUnavailable reports that no attempt could reach a worker.
var ErrWorkerUnavailable = errors.New("worker unavailable")

// RetryableError marks a dispatch failure as transient: connection
// failures, timeouts within the retry window, degraded workers. Policy
// violations, schema failures, and cancellations are never retryable.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err may be retried.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// SubtaskResult is the outcome of one subtask execution.
type SubtaskResult struct {
	SubtaskID string
	WorkerID  uuid.UUID
	Result    *contracts.TaskExecutionResult
	Err       error
}

// Config bounds the dispatcher.
type Config struct {
	// MaxConcurrent caps parallel worker executions per task. Zero
	// defaults to the routing decision's assignment count.
	MaxConcurrent int
	// PerWorkerTimeout applies when a TaskSpec carries no timeout.
	PerWorkerTimeout time.Duration
	// WorkerRate throttles dispatches per worker (events/sec); zero
	// disables throttling.
	WorkerRate  rate.Limit
	WorkerBurst int

	Retry   retry.Policy
	Breaker BreakerConfig
}

// DefaultConfig returns the dispatch defaults.
func DefaultConfig() Config {
	return Config{
		PerWorkerTimeout: 60 * time.Second,
		Retry:            retry.DefaultPolicy(),
		Breaker:          DefaultBreakerConfig(),
	}
}

// Dispatcher fans a task out across workers.
type Dispatcher struct {
	cfg      Config
	registry *Registry
	router   *Router
	clock    func() time.Time
	logger   *slog.Logger
	observer func(contracts.ExecutionEvent)
	obs      *observability.Provider

	// admission, when set, gates every execution attempt against a
	// cross-process budget (e.g. Redis-backed for a dispatcher fleet).
	admission       AdmissionStore
	admissionPolicy AdmissionPolicy

	mu        sync.Mutex
	breakers  map[uuid.UUID]*Breaker
	limiters  map[uuid.UUID]*rate.Limiter
	durations []float64
	total     uint64
	succeeded uint64
	failed    uint64
	active    int
	lastExec  *time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithObserver registers a callback receiving execution events; the
// orchestrator feeds these into the provenance log.
func WithObserver(fn func(contracts.ExecutionEvent)) Option {
	return func(d *Dispatcher) { d.observer = fn }
}

// WithObservability attaches tracing/metrics. A nil provider is valid.
func WithObservability(p *observability.Provider) Option {
	return func(d *Dispatcher) { d.obs = p }
}

// WithAdmission gates dispatch attempts against a shared admission store.
func WithAdmission(store AdmissionStore, policy AdmissionPolicy) Option {
	return func(d *Dispatcher) {
		d.admission = store
		d.admissionPolicy = policy
	}
}

// New creates a dispatcher over the registry.
func New(cfg Config, registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		registry: registry,
		router:   NewRouter(registry),
		clock:    time.Now,
		logger:   slog.Default().With("component", "dispatch"),
		breakers: make(map[uuid.UUID]*Breaker),
		limiters: make(map[uuid.UUID]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Router exposes the dispatcher's router.
func (d *Dispatcher) Router() *Router { return d.router }

// Dispatch routes the subtasks and executes them in parallel, up to
// MaxConcurrent at once. It blocks until every subtask finished, failed
// its retries, or observed cancellation. The returned error is non-nil
// only for unrecoverable dispatch errors (routing failure); per-subtask
// failures are reported in the results.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string, subtasks []contracts.TaskSpec) ([]SubtaskResult, contracts.RouterDecision, error) {
	decision, picked, err := d.router.Route(taskID, subtasks)
	if err != nil {
		return nil, contracts.RouterDecision{}, err
	}

	limit := d.cfg.MaxConcurrent
	if limit <= 0 {
		limit = len(decision.Assignments)
	}
	sem := make(chan struct{}, limit)

	results := make([]SubtaskResult, len(subtasks))
	var wg sync.WaitGroup
	for i, sub := range subtasks {
		worker := picked[sub.ID.String()]
		wg.Add(1)
		go func(i int, sub contracts.TaskSpec, worker Worker) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = SubtaskResult{SubtaskID: sub.ID.String(), WorkerID: worker.ID,
					Err: contracts.NewFault(contracts.FaultCancelled, "dispatch", ctx.Err())}
				return
			}
			results[i] = d.executeWithRetry(ctx, sub, worker)
		}(i, sub, worker)
	}
	wg.Wait()

	return results, decision, nil
}

// executeWithRetry runs one subtask on its worker with bounded, jittered
// exponential backoff. Transient failures retry; everything else surfaces
// immediately.
func (d *Dispatcher) executeWithRetry(ctx context.Context, sub contracts.TaskSpec, worker Worker) SubtaskResult {
	res := SubtaskResult{SubtaskID: sub.ID.String(), WorkerID: worker.ID}

	var lastErr error
	for attempt := 0; attempt < d.cfg.Retry.MaxAttempts; attempt++ {
		if !retry.Sleep(ctx.Done(), retry.Params{
			Scope:        "dispatch",
			SubjectID:    worker.ID.String(),
			AttemptIndex: attempt,
		}, d.cfg.Retry) {
			res.Err = contracts.NewFault(contracts.FaultCancelled, "dispatch backoff", ctx.Err())
			return res
		}

		result, err := d.executeOnce(ctx, sub, worker)
		if err == nil {
			res.Result = result
			return res
		}
		lastErr = err
		if !IsRetryable(err) {
			res.Err = err
			return res
		}
		d.logger.WarnContext(ctx, "dispatch attempt failed",
			"task_id", sub.ID.String(), "worker_id", worker.ID.String(),
			"attempt", attempt, "error", err)
	}

	res.Err = contracts.NewFault(contracts.FaultDispatch, "retries exhausted",
		fmt.Errorf("%w: %w", ErrWorkerUnavailable, lastErr))
	return res
}

// executeOnce performs a single attempt: breaker admission, rate limiting,
// per-worker timeout, execution, and outcome bookkeeping.
func (d *Dispatcher) executeOnce(ctx context.Context, sub contracts.TaskSpec, worker Worker) (*contracts.TaskExecutionResult, error) {
	breaker := d.breakerFor(worker.ID)
	if !breaker.Allow() {
		return nil, Retryable(fmt.Errorf("circuit open for worker %s", worker.ID))
	}

	if d.admission != nil {
		allowed, err := d.admission.Allow(ctx, worker.ID.String(), d.admissionPolicy)
		if err != nil {
			return nil, Retryable(fmt.Errorf("admission check: %w", err))
		}
		if !allowed {
			return nil, Retryable(fmt.Errorf("admission denied for worker %s", worker.ID))
		}
	}

	if limiter := d.limiterFor(worker.ID); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, contracts.NewFault(contracts.FaultCancelled, "rate wait", err)
		}
	}

	if st, ok := d.registry.Get(worker.ID); ok && st.Draining() {
		return nil, Retryable(fmt.Errorf("worker %s draining (%s)", worker.ID, st.Health))
	}

	timeout := d.cfg.PerWorkerTimeout
	if sub.TimeoutSeconds > 0 {
		timeout = time.Duration(sub.TimeoutSeconds) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.registry.Acquire(worker.ID)
	d.markActive(1)
	d.obs.DispatchStarted(ctx)
	d.emit(contracts.ExecutionEvent{
		Kind: contracts.ExecutionStarted, TaskID: sub.ID.String(),
		WorkerID: worker.ID.String(), OccurredAt: d.clock().UTC(),
	})

	start := d.clock()
	result, err := worker.Executor.Execute(execCtx, sub, worker.ID)
	elapsed := d.clock().Sub(start)

	success := err == nil && result.Success
	d.registry.Release(worker.ID, success)
	d.markActive(-1)
	d.obs.DispatchEnded(ctx)
	d.obs.RecordDispatch(ctx, worker.ID.String(), elapsed, success)
	d.recordOutcome(success, elapsed)

	if err != nil {
		breaker.Failure()
		if ctx.Err() != nil {
			return nil, contracts.NewFault(contracts.FaultCancelled, "execute", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || execCtx.Err() != nil {
			return nil, Retryable(contracts.NewFault(contracts.FaultTimeout, "execute", err))
		}
		return nil, Retryable(fmt.Errorf("execute on %s: %w", worker.ID, err))
	}

	breaker.Success()
	d.emit(contracts.ExecutionEvent{
		Kind: contracts.ExecutionCompleted, TaskID: sub.ID.String(),
		WorkerID: worker.ID.String(), Detail: fmt.Sprintf("success=%t", result.Success),
		OccurredAt: d.clock().UTC(),
	})
	return &result, nil
}

func (d *Dispatcher) breakerFor(id uuid.UUID) *Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakers[id]
	if !ok {
		b = NewBreaker(d.cfg.Breaker, d.clock)
		d.breakers[id] = b
	}
	return b
}

func (d *Dispatcher) limiterFor(id uuid.UUID) *rate.Limiter {
	if d.cfg.WorkerRate == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[id]
	if !ok {
		burst := d.cfg.WorkerBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(d.cfg.WorkerRate, burst)
		d.limiters[id] = l
	}
	return l
}

func (d *Dispatcher) emit(ev contracts.ExecutionEvent) {
	if d.observer != nil {
		d.observer(ev)
	}
}

func (d *Dispatcher) markActive(delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active += delta
}

// recordOutcome folds one execution into the rolling stats. Durations are
// capped to the most recent window to bound memory.
func (d *Dispatcher) recordOutcome(success bool, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.total++
	if success {
		d.succeeded++
	} else {
		d.failed++
	}
	now := d.clock()
	d.lastExec = &now

	const window = 1024
	d.durations = append(d.durations, float64(elapsed.Milliseconds()))
	if len(d.durations) > window {
		d.durations = d.durations[len(d.durations)-window:]
	}
}

// Health reports the dispatcher-level health view.
func (d *Dispatcher) Health() ExecutorHealth {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := ExecutorHealth{
		Status:          HealthHealthy,
		LastExecutionAt: d.lastExec,
		ActiveTasks:     d.active,
		TotalExecutions: d.total,
	}
	if d.total > 0 {
		h.SuccessRate = float64(d.succeeded) / float64(d.total)
	}
	switch {
	case d.total >= 10 && h.SuccessRate < 0.5:
		h.Status = HealthUnhealthy
	case d.total >= 10 && h.SuccessRate < 0.9:
		h.Status = HealthDegraded
	}
	return h
}

// Stats aggregates execution timing over the recent window.
func (d *Dispatcher) Stats() ExecutionStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := ExecutionStats{
		TotalExecutions:      d.total,
		SuccessfulExecutions: d.succeeded,
		FailedExecutions:     d.failed,
	}
	if len(d.durations) == 0 {
		return stats
	}
	sorted := make([]float64, len(d.durations))
	copy(sorted, d.durations)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	stats.AverageDurationMS = sum / float64(len(sorted))
	stats.MedianDurationMS = percentile(sorted, 0.50)
	stats.P95DurationMS = percentile(sorted, 0.95)
	stats.P99DurationMS = percentile(sorted, 0.99)
	return stats
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
