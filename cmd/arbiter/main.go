package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/arbiter/pkg/config"
	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/council"
	"github.com/arbiterlabs/arbiter/pkg/crypto"
	"github.com/arbiterlabs/arbiter/pkg/dispatch"
	"github.com/arbiterlabs/arbiter/pkg/observability"
	"github.com/arbiterlabs/arbiter/pkg/orchestrate"
	"github.com/arbiterlabs/arbiter/pkg/policy"
	"github.com/arbiterlabs/arbiter/pkg/provenance"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "demo":
		return runDemo(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: arbiter <demo|verify> [flags]")
}

// runVerify replays a task's provenance chain and reports the first
// break, if any. A Postgres DSN selects the Postgres store; otherwise the
// embedded SQLite database is read. Signature verification requires the
// original key; without one, only digests and chain links are checked.
func runVerify(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", cfg.ProvenancePath, "SQLite provenance store path")
	dsn := fs.String("dsn", cfg.ProvenanceDSN, "Postgres DSN (takes precedence over -db)")
	taskID := fs.String("task", "", "task identifier")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *taskID == "" {
		fmt.Fprintln(stderr, "verify: -task is required")
		return 2
	}

	ctx := context.Background()
	store, closeStore, err := provenance.OpenStore(ctx, *dsn, *dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	n, err := provenance.VerifyTask(ctx, store, nil, *taskID)
	if err != nil {
		fmt.Fprintf(stderr, "verify: chain broken after %d events: %v\n", n, err)
		return 1
	}
	fmt.Fprintf(stdout, "verified %d events for task %s\n", n, *taskID)
	return 0
}

// demoWorker is an in-process worker returning a compliant WorkerOutput.
type demoWorker struct{}

func (demoWorker) Execute(ctx context.Context, spec contracts.TaskSpec, workerID uuid.UUID) (contracts.TaskExecutionResult, error) {
	output := contracts.WorkerOutput{
		Metadata: contracts.WorkerMetadata{
			TaskID:   spec.ID.String(),
			RiskTier: 2,
			Seeds:    &contracts.Seeds{TimeSeed: "0", UUIDSeed: "0", RandomSeed: "0"},
		},
		Artifacts: contracts.WorkerArtifacts{
			Patches: []contracts.Patch{{Path: "src/lib.go", Diff: "+// demo"}},
		},
		Rationale: "demo change",
		SelfAssessment: contracts.SelfAssessment{
			Checklist: contracts.ComplianceSnapshot{
				WithinScope: true, WithinBudget: true, TestsAdded: true, Deterministic: true,
			},
			Confidence: 0.9,
		},
	}
	raw, err := contracts.Encode(output)
	if err != nil {
		return contracts.TaskExecutionResult{}, err
	}
	now := time.Now().UTC()
	return contracts.TaskExecutionResult{
		ExecutionID: uuid.New(),
		TaskID:      spec.ID,
		Success:     true,
		Output:      string(raw),
		StartedAt:   now,
		CompletedAt: now,
		WorkerID:    workerID,
	}, nil
}

// demoJudge passes everything with one reason.
type demoJudge struct{}

func (demoJudge) Review(ctx context.Context, rc council.ReviewContext, cfg council.JudgeConfig) (contracts.JudgeVerdict, error) {
	return contracts.JudgeVerdict{
		JudgeID: "demo-judge",
		Version: "1.0.0",
		Verdict: contracts.JudgePass,
		Reasons: []string{"all acceptance criteria satisfied"},
	}, nil
}

// runDemo drives one happy-path orchestration entirely in process and
// prints the response plus the verified chain length. Observability, the
// Redis admission store, and the S3 provenance archive attach when the
// environment configures them.
func runDemo(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ctx := context.Background()
	cfg := config.Load()

	var obs *observability.Provider
	if cfg.OTelEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		var err error
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			fmt.Fprintf(stderr, "demo: %v\n", err)
			return 1
		}
		defer func() { _ = obs.Shutdown(ctx) }()
	}

	keyring, err := crypto.NewKeyring(crypto.AlgEdDSA, "demo-key")
	if err != nil {
		fmt.Fprintf(stderr, "demo: %v\n", err)
		return 1
	}

	store := provenance.NewMemoryStore()
	emitterOpts := []provenance.EmitterOption{}
	if cfg.ArchiveBucket != "" {
		archive, err := provenance.NewS3Archive(ctx, provenance.S3ArchiveConfig{
			Bucket:   cfg.ArchiveBucket,
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
			Prefix:   "provenance/",
		})
		if err != nil {
			fmt.Fprintf(stderr, "demo: %v\n", err)
			return 1
		}
		emitterOpts = append(emitterOpts, provenance.WithArchive(archive))
	}
	emitter := provenance.NewEmitter(store, keyring, emitterOpts...)

	registry := dispatch.NewRegistry()
	worker := dispatch.Worker{
		ID:       uuid.New(),
		Name:     "demo-generalist",
		Type:     contracts.WorkerGeneralist,
		Model:    "demo-model",
		Executor: demoWorker{},
	}
	if err := registry.Register(worker); err != nil {
		fmt.Fprintf(stderr, "demo: %v\n", err)
		return 1
	}

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.MaxConcurrent = cfg.MaxConcurrent
	dispatchCfg.PerWorkerTimeout = cfg.PerWorkerTimeout
	dispatchOpts := []dispatch.Option{dispatch.WithObservability(obs)}
	if cfg.RedisAddr != "" {
		admission := dispatch.NewRedisAdmissionStore(cfg.RedisAddr, "", 0)
		defer func() { _ = admission.Close() }()
		dispatchOpts = append(dispatchOpts,
			dispatch.WithAdmission(admission, dispatch.AdmissionPolicy{RatePerMinute: 600, Burst: 10}))
	}
	dispatcher := dispatch.New(dispatchCfg, registry, dispatchOpts...)

	pool, err := council.NewPool(council.DefaultPoolConfig(), keyring,
		council.WithPoolObservability(obs))
	if err != nil {
		fmt.Fprintf(stderr, "demo: %v\n", err)
		return 1
	}
	if err := pool.Enroll(council.Enrollment{
		JudgeID: "demo-judge", Version: "1.0.0", Weight: 0.8, Client: demoJudge{},
	}); err != nil {
		fmt.Fprintf(stderr, "demo: %v\n", err)
		return 1
	}

	orch := orchestrate.New(policy.NewValidator(), dispatcher, pool, emitter,
		orchestrate.WithObservability(obs))

	specID := uuid.New()
	task := orchestrate.Task{
		Request: contracts.TaskRequest{
			ID:          uuid.New(),
			Description: "demo task",
			Constraints: contracts.TaskConstraints{RiskTier: 2},
		},
		Spec: contracts.WorkingSpec{
			ID:          specID,
			Title:       "demo",
			Description: "demo working spec",
			RiskTier:    2,
			Scope: contracts.SpecScope{
				InScope:  []string{"src/"},
				OutScope: []string{},
			},
			ChangeBudget:       contracts.BudgetLimits{MaxFiles: 10, MaxLOC: 1000},
			AcceptanceCriteria: []string{"demo passes"},
			Invariants:         []string{},
		},
		Descriptor: contracts.TaskDescriptor{
			TaskID: "DEMO-001", ScopeIn: []string{"src/"}, RiskTier: 2,
		},
		Diff: contracts.DiffStats{
			FilesChanged: 1, LinesChanged: 1, TouchedPaths: []string{"src/lib.go"},
		},
		TestsAdded:    true,
		Deterministic: true,
		Subtasks: []contracts.TaskSpec{{
			ID: uuid.New(), Title: "demo", Description: "demo subtask",
			Priority: contracts.PriorityMedium, WorkingSpecID: specID.String(),
		}},
	}

	resp, err := orch.Run(ctx, task)
	if err != nil {
		fmt.Fprintf(stderr, "demo: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintf(stderr, "demo: %v\n", err)
		return 1
	}

	n, err := provenance.VerifyTask(ctx, store, keyring, "DEMO-001")
	if err != nil {
		fmt.Fprintf(stderr, "demo: chain verification failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "provenance chain verified: %d events\n", n)
	return 0
}
