// Package dispatch executes a working spec via one or more workers with
// bounded concurrency, hierarchical timeouts, cooperative cancellation,
// retries, and per-worker circuit breakers.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// TaskExecutor is the worker capability the dispatcher consumes. Transport
// is the implementer's choice; request and response must be
// schema-compliant.
type TaskExecutor interface {
	Execute(ctx context.Context, spec contracts.TaskSpec, workerID uuid.UUID) (contracts.TaskExecutionResult, error)
}

// HealthState tracks a worker's availability.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthOffline   HealthState = "offline"
)

// Worker is one registered execution target.
type Worker struct {
	ID          uuid.UUID
	Name        string
	Type        contracts.WorkerType
	Model       string
	Specialties []contracts.WorkerSpecialty
	Executor    TaskExecutor
}

// WorkerStatus is the registry's live view of a worker.
type WorkerStatus struct {
	Worker              Worker
	Health              HealthState
	ActiveTasks         int
	ConsecutiveFailures int
	LastSeen            time.Time
}

// Draining reports whether the worker accepts new assignments. Unhealthy
// and offline workers are drained but allowed to finish in-flight work.
func (s WorkerStatus) Draining() bool {
	return s.Health == HealthUnhealthy || s.Health == HealthOffline
}

// PoolStats summarizes the worker pool.
type PoolStats struct {
	TotalWorkers       int     `json:"total_workers"`
	AvailableWorkers   int     `json:"available_workers"`
	BusyWorkers        int     `json:"busy_workers"`
	UnhealthyWorkers   int     `json:"unhealthy_workers"`
	AvgResponseTimeMS  int64   `json:"average_response_time_ms"`
	TotalTasksComplete uint64  `json:"total_tasks_processed"`
	TasksPerSecond     float64 `json:"tasks_per_second"`
}

// ExecutorHealth is the dispatcher-level health view.
type ExecutorHealth struct {
	Status          HealthState `json:"status"`
	LastExecutionAt *time.Time  `json:"last_execution_time,omitempty"`
	ActiveTasks     int         `json:"active_tasks"`
	QueuedTasks     int         `json:"queued_tasks"`
	TotalExecutions uint64      `json:"total_executions"`
	SuccessRate     float64     `json:"success_rate"`
}

// ExecutionStats aggregates execution timing.
type ExecutionStats struct {
	TotalExecutions      uint64  `json:"total_executions"`
	SuccessfulExecutions uint64  `json:"successful_executions"`
	FailedExecutions     uint64  `json:"failed_executions"`
	AverageDurationMS    float64 `json:"average_execution_time_ms"`
	MedianDurationMS     float64 `json:"median_execution_time_ms"`
	P95DurationMS        float64 `json:"p95_execution_time_ms"`
	P99DurationMS        float64 `json:"p99_execution_time_ms"`
}
