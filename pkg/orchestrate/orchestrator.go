package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/council"
	"github.com/arbiterlabs/arbiter/pkg/dispatch"
	"github.com/arbiterlabs/arbiter/pkg/observability"
	"github.com/arbiterlabs/arbiter/pkg/policy"
	"github.com/arbiterlabs/arbiter/pkg/provenance"
)

// Task is one orchestration input: the request, the approved plan, the
// concrete diff under judgment, and the subtasks to dispatch.
type Task struct {
	Request       contracts.TaskRequest
	Spec          contracts.WorkingSpec
	Descriptor    contracts.TaskDescriptor
	Diff          contracts.DiffStats
	TestsAdded    bool
	Deterministic bool
	Waivers       []contracts.Waiver
	Commands      []string
	Subtasks      []contracts.TaskSpec
}

// SummaryProvider supplies the externally computed verification summary
// (claim extractor); the orchestrator passes it through.
type SummaryProvider func(ctx context.Context, taskID string, outputs []contracts.WorkerOutput) contracts.VerificationSummary

// Hooks receive lifecycle notifications, e.g. for metrics.
type Hooks struct {
	OnTransition func(taskID string, from, to State)
}

// Orchestrator drives tasks through validate → dispatch → review →
// aggregate, emitting provenance at every step.
type Orchestrator struct {
	validator  *policy.Validator
	dispatcher *dispatch.Dispatcher
	pool       *council.Pool
	emitter    *provenance.Emitter
	thresholds council.Thresholds
	summarize  SummaryProvider
	hooks      Hooks
	clock      func() time.Time
	logger     *slog.Logger
	obs        *observability.Provider
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithSummaryProvider sets the verification summary capability.
func WithSummaryProvider(fn SummaryProvider) Option {
	return func(o *Orchestrator) { o.summarize = fn }
}

// WithHooks registers lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithThresholds overrides the aggregation thresholds.
func WithThresholds(t council.Thresholds) Option {
	return func(o *Orchestrator) { o.thresholds = t }
}

// WithObservability attaches tracing/metrics. A nil provider is valid.
func WithObservability(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.obs = p }
}

// New wires an orchestrator from its collaborators.
func New(validator *policy.Validator, dispatcher *dispatch.Dispatcher, pool *council.Pool, emitter *provenance.Emitter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		validator:  validator,
		dispatcher: dispatcher,
		pool:       pool,
		emitter:    emitter,
		thresholds: council.DefaultThresholds(),
		clock:      time.Now,
		logger:     slog.Default().With("component", "orchestrate"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives one task to a terminal state. Every terminal state carries a
// FinalVerdict; rejects always carry remediation and constitutional refs.
func (o *Orchestrator) Run(ctx context.Context, task Task) (*Response, error) {
	taskID := task.Descriptor.TaskID
	state := StateReceived

	ctx, span := o.obs.StartSpan(ctx, "orchestrate.run",
		attribute.String("task_id", taskID),
		attribute.Int("risk_tier", task.Descriptor.RiskTier))
	defer span.End()

	if task.Request.Constraints.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Request.Constraints.MaxDuration)
		defer cancel()
	}

	// Ingress contract check. A schema failure rejects immediately:
	// Received → Rejected, enter and exit events only.
	if err := o.checkIngress(task); err != nil {
		o.record(ctx, contracts.EventOrchestrateEnter, taskID, map[string]any{
			"scope_in": task.Descriptor.ScopeIn, "deterministic": task.Deterministic,
		})
		o.record(ctx, contracts.EventOrchestrateExit, taskID, map[string]any{
			"outcome": OutcomeContract, "reason": err.Error(),
		})
		state = o.transition(taskID, state, StateRejected)
		o.obs.RecordError(ctx, string(contracts.FaultContract))
		return o.respond(ctx, taskID, state, contractRejectVerdict(err)), nil
	}

	o.record(ctx, contracts.EventOrchestrateEnter, taskID, map[string]any{
		"scope_in": task.Descriptor.ScopeIn, "deterministic": task.Deterministic,
	})

	// Validating.
	state = o.transition(taskID, state, StateValidating)
	result, err := o.validator.Validate(policy.Input{
		Spec:          task.Spec,
		Descriptor:    task.Descriptor,
		Diff:          task.Diff,
		TestsAdded:    task.TestsAdded,
		Deterministic: task.Deterministic,
		Waivers:       task.Waivers,
		Commands:      task.Commands,
	})
	if err != nil {
		return o.fail(ctx, taskID, state, fmt.Errorf("validate: %w", err))
	}

	hardFails := result.HardFails()
	shortCircuit := len(hardFails) > 0
	o.record(ctx, contracts.EventValidationResult, taskID, map[string]any{
		"result": result, "short_circuit": shortCircuit,
	})

	if shortCircuit {
		verdict := shortCircuitVerdict(hardFails)
		o.record(ctx, contracts.EventFinalVerdict, taskID, verdict)
		o.record(ctx, contracts.EventOrchestrateExit, taskID, map[string]any{"outcome": OutcomeShortCircuit})
		state = o.transition(taskID, state, StateRejected)
		o.obs.RecordError(ctx, string(contracts.FaultPolicy))
		return o.respond(ctx, taskID, state, verdict), nil
	}

	// Dispatching.
	state = o.transition(taskID, state, StateDispatching)
	results, decision, err := o.dispatcher.Dispatch(ctx, taskID, task.Subtasks)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancel(ctx, taskID, state)
		}
		return o.failDispatch(ctx, taskID, state, err)
	}
	for _, res := range results {
		o.record(ctx, contracts.EventWorkerDispatched, taskID, map[string]any{
			"subtask_id": res.SubtaskID,
			"worker_id":  res.WorkerID.String(),
			"success":    res.Err == nil,
			"routing":    decision,
		})
	}
	if ctx.Err() != nil {
		return o.cancel(ctx, taskID, state)
	}

	outputs, warnings := o.collectOutputs(results)
	if len(outputs) == 0 {
		if anyCancelled(results) {
			return o.cancel(ctx, taskID, state)
		}
		return o.failDispatch(ctx, taskID, state,
			contracts.NewFault(contracts.FaultDispatch, "all workers exhausted", dispatch.ErrWorkerUnavailable))
	}

	// Reviewing.
	state = o.transition(taskID, state, StateReviewing)
	delib, err := o.pool.Deliberate(ctx, council.ReviewContext{
		WorkingSpec:   task.Spec,
		WorkerOutputs: outputs,
		EvidenceRefs:  collectEvidence(outputs),
	})
	if err != nil {
		if ctx.Err() != nil {
			return o.cancel(ctx, taskID, state)
		}
		return o.fail(ctx, taskID, state, err)
	}
	for _, wv := range delib.Verdicts {
		o.record(ctx, contracts.EventJudgeVerdict, taskID, map[string]any{
			"verdict": wv.Verdict, "weight": wv.Weight, "rounds": delib.Rounds,
		})
	}
	if delib.EnrichmentOverrun {
		warnings = append(warnings, "evidence enrichment missed its SLA")
	}
	if ctx.Err() != nil {
		return o.cancel(ctx, taskID, state)
	}

	// Aggregating.
	state = o.transition(taskID, state, StateAggregating)
	summary := contracts.VerificationSummary{}
	if o.summarize != nil {
		summary = o.summarize(ctx, taskID, outputs)
	}
	verdict := council.Aggregate(delib, o.thresholds, summary)

	o.record(ctx, contracts.EventFinalVerdict, taskID, verdict)

	var outcome string
	var terminal State
	if verdict.Decision == contracts.DecisionReject {
		outcome, terminal = OutcomeRejected, StateRejected
	} else {
		outcome, terminal = OutcomeCompleted, StateCompleted
	}
	o.record(ctx, contracts.EventOrchestrateExit, taskID, map[string]any{"outcome": outcome})
	state = o.transition(taskID, state, terminal)

	resp := o.respond(ctx, taskID, state, verdict)
	resp.Warnings = append(resp.Warnings, warnings...)
	return resp, nil
}

// checkIngress validates the request and spec artifacts against their
// schemas before any state transition beyond Received.
func (o *Orchestrator) checkIngress(task Task) error {
	raw, err := contracts.Encode(task.Request)
	if err != nil {
		return contracts.NewFault(contracts.FaultContract, "encode request", err)
	}
	if err := contracts.Validate(raw, contracts.KindTaskRequest); err != nil {
		return err
	}
	raw, err = contracts.Encode(task.Spec)
	if err != nil {
		return contracts.NewFault(contracts.FaultContract, "encode spec", err)
	}
	return contracts.Validate(raw, contracts.KindWorkingSpec)
}

// collectOutputs decodes WorkerOutput artifacts from execution results.
// A malformed output is a contract failure for that artifact alone: it is
// skipped with a warning and the task proceeds.
func (o *Orchestrator) collectOutputs(results []dispatch.SubtaskResult) ([]contracts.WorkerOutput, []string) {
	var outputs []contracts.WorkerOutput
	var warnings []string
	for _, res := range results {
		if res.Err != nil || res.Result == nil {
			if res.Err != nil {
				warnings = append(warnings, fmt.Sprintf("subtask %s: %v", res.SubtaskID, res.Err))
			}
			continue
		}
		output, err := contracts.Decode[contracts.WorkerOutput]([]byte(res.Result.Output), contracts.KindWorkerOutput)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("subtask %s: worker output rejected: %v", res.SubtaskID, err))
			continue
		}
		outputs = append(outputs, output)
	}
	return outputs, warnings
}

func (o *Orchestrator) cancel(ctx context.Context, taskID string, from State) (*Response, error) {
	verdict := cancelledVerdict()
	o.record(ctx, contracts.EventFinalVerdict, taskID, verdict)
	o.record(ctx, contracts.EventOrchestrateExit, taskID, map[string]any{"outcome": OutcomeCancelled})
	state := o.transition(taskID, from, StateCancelled)
	o.obs.RecordError(ctx, string(contracts.FaultCancelled))
	return o.respond(ctx, taskID, state, verdict), nil
}

func (o *Orchestrator) fail(ctx context.Context, taskID string, from State, cause error) (*Response, error) {
	o.logger.ErrorContext(ctx, "orchestration failed", "task_id", taskID, "error", cause)
	verdict := failedVerdict(cause, "orchestration failed; see provenance log")
	o.record(ctx, contracts.EventFinalVerdict, taskID, verdict)
	o.record(ctx, contracts.EventOrchestrateExit, taskID, map[string]any{
		"outcome": OutcomeFailed, "reason": cause.Error(),
	})
	state := o.transition(taskID, from, StateFailed)
	o.obs.RecordError(ctx, string(contracts.FaultKindOf(cause)))
	return o.respond(ctx, taskID, state, verdict), cause
}

func (o *Orchestrator) failDispatch(ctx context.Context, taskID string, from State, cause error) (*Response, error) {
	o.logger.ErrorContext(ctx, "dispatch failed", "task_id", taskID, "error", cause)
	verdict := failedVerdict(cause, "worker unavailable")
	o.record(ctx, contracts.EventFinalVerdict, taskID, verdict)
	o.record(ctx, contracts.EventOrchestrateExit, taskID, map[string]any{
		"outcome": OutcomeFailed, "reason": cause.Error(),
	})
	state := o.transition(taskID, from, StateFailed)
	o.obs.RecordError(ctx, string(contracts.FaultDispatch))
	return o.respond(ctx, taskID, state, verdict), cause
}

// record emits one provenance event. Provenance unavailability is
// non-fatal: the task continues in degraded mode and the response carries
// the incomplete-chain flag.
func (o *Orchestrator) record(ctx context.Context, eventType contracts.EventType, taskID string, payload any) {
	if err := o.emitter.Record(ctx, eventType, taskID, payload); err != nil {
		o.logger.WarnContext(ctx, "provenance degraded", "task_id", taskID,
			"event_type", string(eventType), "error", err)
	}
}

func (o *Orchestrator) transition(taskID string, from, to State) State {
	if o.hooks.OnTransition != nil {
		o.hooks.OnTransition(taskID, from, to)
	}
	return to
}

func (o *Orchestrator) respond(ctx context.Context, taskID string, state State, verdict contracts.FinalVerdict) *Response {
	o.obs.RecordOrchestration(ctx, string(state))
	return &Response{
		TaskID:          taskID,
		State:           state,
		Verdict:         verdict,
		ChainIncomplete: o.emitter.Incomplete(taskID),
	}
}

// shortCircuitVerdict synthesizes the reject verdict for hard-fail policy
// violations, citing one constitutional ref per violation code.
func shortCircuitVerdict(hardFails []contracts.Violation) contracts.FinalVerdict {
	refSet := make(map[string]struct{})
	var remediation []string
	remSeen := make(map[string]struct{})
	for _, v := range hardFails {
		if ref, ok := constitutionalRefs[v.Code]; ok {
			refSet[ref] = struct{}{}
		}
		rem := v.Remediation
		if rem == "" {
			rem = v.Message
		}
		key := strings.ToLower(rem)
		if _, dup := remSeen[key]; !dup {
			remSeen[key] = struct{}{}
			remediation = append(remediation, rem)
		}
	}
	refs := make([]string, 0, len(refSet))
	for ref := range refSet {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	return contracts.FinalVerdict{
		Decision:           contracts.DecisionReject,
		Votes:              []contracts.VoteEntry{},
		Dissent:            "CAWS runtime validation failed",
		Remediation:        remediation,
		ConstitutionalRefs: refs,
	}
}

func contractRejectVerdict(cause error) contracts.FinalVerdict {
	return contracts.FinalVerdict{
		Decision:           contracts.DecisionReject,
		Votes:              []contracts.VoteEntry{},
		Dissent:            fmt.Sprintf("artifact contract violated: %v", cause),
		Remediation:        []string{"correct the artifact to satisfy its schema"},
		ConstitutionalRefs: []string{ContractRef},
	}
}

func cancelledVerdict() contracts.FinalVerdict {
	return contracts.FinalVerdict{
		Decision:           contracts.DecisionReject,
		Votes:              []contracts.VoteEntry{},
		Dissent:            "cancelled",
		Remediation:        []string{"resubmit the task"},
		ConstitutionalRefs: []string{LifecycleRef},
	}
}

func failedVerdict(cause error, remediation string) contracts.FinalVerdict {
	return contracts.FinalVerdict{
		Decision:           contracts.DecisionReject,
		Votes:              []contracts.VoteEntry{},
		Dissent:            cause.Error(),
		Remediation:        []string{remediation},
		ConstitutionalRefs: []string{LifecycleRef},
	}
}

func collectEvidence(outputs []contracts.WorkerOutput) []contracts.EvidenceRef {
	var refs []contracts.EvidenceRef
	for _, out := range outputs {
		refs = append(refs, out.EvidenceRefs...)
	}
	return refs
}

func anyCancelled(results []dispatch.SubtaskResult) bool {
	for _, res := range results {
		if contracts.FaultKindOf(res.Err) == contracts.FaultCancelled {
			return true
		}
	}
	return false
}
