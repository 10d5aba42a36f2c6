package council

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/crypto"
	"github.com/arbiterlabs/arbiter/pkg/observability"
)

// PoolConfig bounds pool deliberation.
type PoolConfig struct {
	PerJudgeTimeout   time.Duration
	EnrichmentSLA     time.Duration
	MaxDebateRounds   int
	ParallelismBudget int
	Thresholds        Thresholds

	// VersionConstraint gates judge enrollment (semver range).
	VersionConstraint string
}

// DefaultPoolConfig returns the council defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		PerJudgeTimeout:   30 * time.Second,
		EnrichmentSLA:     5 * time.Second,
		MaxDebateRounds:   2,
		ParallelismBudget: 8,
		Thresholds:        DefaultThresholds(),
		VersionConstraint: ">= 1.0.0",
	}
}

// Pool runs enrolled judges over review contexts.
type Pool struct {
	cfg        PoolConfig
	resolver   EvidenceResolver
	keyring    *crypto.Keyring
	clock      func() time.Time
	logger     *slog.Logger
	constraint *semver.Constraints
	obs        *observability.Provider

	mu      sync.RWMutex
	members []Enrollment
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolClock overrides the clock for deterministic testing.
func WithPoolClock(clock func() time.Time) PoolOption {
	return func(p *Pool) { p.clock = clock }
}

// WithResolver sets the evidence enrichment capability.
func WithResolver(r EvidenceResolver) PoolOption {
	return func(p *Pool) { p.resolver = r }
}

// WithPoolObservability attaches tracing/metrics. A nil provider is valid.
func WithPoolObservability(obs *observability.Provider) PoolOption {
	return func(p *Pool) { p.obs = obs }
}

// NewPool creates a pool; keyring signs debate transcripts.
func NewPool(cfg PoolConfig, keyring *crypto.Keyring, opts ...PoolOption) (*Pool, error) {
	constraint, err := semver.NewConstraint(cfg.VersionConstraint)
	if err != nil {
		return nil, contracts.NewFault(contracts.FaultConfiguration,
			fmt.Sprintf("judge version constraint %q", cfg.VersionConstraint), err)
	}
	p := &Pool{
		cfg:        cfg,
		keyring:    keyring,
		clock:      time.Now,
		logger:     slog.Default().With("component", "council"),
		constraint: constraint,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Enroll registers a judge with its weight. Versions outside the pool's
// constraint are refused.
func (p *Pool) Enroll(e Enrollment) error {
	if e.Weight < 0 || e.Weight > 1 {
		return contracts.NewFault(contracts.FaultConfiguration,
			fmt.Sprintf("judge %s weight %v outside [0,1]", e.JudgeID, e.Weight), nil)
	}
	v, err := semver.NewVersion(e.Version)
	if err != nil {
		return contracts.NewFault(contracts.FaultConfiguration,
			fmt.Sprintf("judge %s version %q", e.JudgeID, e.Version), err)
	}
	if !p.constraint.Check(v) {
		return contracts.NewFault(contracts.FaultConfiguration,
			fmt.Sprintf("judge %s version %s violates constraint %s", e.JudgeID, e.Version, p.cfg.VersionConstraint), nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.members = append(p.members, e)
	return nil
}

// Members returns a snapshot of enrollments.
func (p *Pool) Members() []Enrollment {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Enrollment, len(p.members))
	copy(out, p.members)
	return out
}

// Deliberate runs the pool protocol: enrichment, parallel deliberation,
// consensus check, and bounded debate. It never fails on judge behavior;
// a judge that times out, errs, or returns a malformed verdict contributes
// uncertain with weight unchanged.
func (p *Pool) Deliberate(ctx context.Context, rc ReviewContext) (*Deliberation, error) {
	members := p.Members()
	if len(members) == 0 {
		return nil, contracts.NewFault(contracts.FaultJudge, "no judges enrolled", nil)
	}

	ctx, span := p.obs.StartSpan(ctx, "council.deliberate")
	defer span.End()
	started := p.clock()

	delib := &Deliberation{PriorReasons: make(map[string][]string)}
	defer func() {
		p.obs.RecordDeliberation(ctx, delib.Rounds, p.clock().Sub(started), delib.Consensus)
	}()

	// Enrichment with an SLA ceiling: overshoot is a soft failure that
	// records a timing violation and proceeds with unresolved refs.
	if p.resolver != nil && len(rc.EvidenceRefs) > 0 {
		enrichCtx, cancel := context.WithTimeout(ctx, p.cfg.EnrichmentSLA)
		resolved, err := p.resolver.Resolve(enrichCtx, rc.EvidenceRefs)
		cancel()
		if err != nil {
			delib.EnrichmentOverrun = true
			p.logger.WarnContext(ctx, "evidence enrichment missed SLA; proceeding",
				"sla", p.cfg.EnrichmentSLA, "error", err)
		} else {
			rc.EvidenceRefs = resolved
		}
	}

	var contributions []DebateContribution
	round := 0
	for {
		round++
		verdicts := p.runRound(ctx, members, rc, round)
		delib.Verdicts = verdicts
		delib.Rounds = round

		for _, wv := range verdicts {
			contributions = append(contributions, DebateContribution{
				Participant: wv.Verdict.JudgeID,
				Round:       round,
				Content:     strings.Join(wv.Verdict.Reasons, "; "),
				Confidence:  contributionConfidence(wv.Verdict.Verdict),
				Timestamp:   p.clock().UTC(),
			})
		}

		// Consensus gate on the weighted pass mass: at or above the
		// accept threshold, or strictly below the reject threshold.
		passMass, _ := Score(verdicts)
		if passMass >= p.cfg.Thresholds.Accept || passMass < p.cfg.Thresholds.Reject {
			delib.Consensus = true
			break
		}
		if round > p.cfg.MaxDebateRounds {
			// Exhausted: the aggregator resolves with modify, dissent
			// preserved verbatim.
			break
		}
		if ctx.Err() != nil {
			break
		}

		// Non-consensus: enter a debate round. Every judge receives the
		// transcript so far and produces a revised contribution.
		for _, wv := range verdicts {
			delib.PriorReasons[wv.Verdict.JudgeID] = append(
				delib.PriorReasons[wv.Verdict.JudgeID], wv.Verdict.Reasons...)
		}
		compiled := Compile(contributions, round, p.clock().UTC())
		rc.Transcript = &compiled
	}

	compiled := Compile(contributions, delib.Rounds, p.clock().UTC())
	signed, err := Sign(compiled, p.keyring, p.clock().UTC())
	if err != nil {
		return nil, err
	}
	delib.Transcript = signed
	return delib, nil
}

// runRound executes every judge concurrently under the per-judge timeout,
// bounded by a semaphore sized min(num_judges, parallelism_budget).
func (p *Pool) runRound(ctx context.Context, members []Enrollment, rc ReviewContext, round int) []WeightedVerdict {
	budget := p.cfg.ParallelismBudget
	if budget <= 0 || budget > len(members) {
		budget = len(members)
	}
	sem := make(chan struct{}, budget)

	verdicts := make([]WeightedVerdict, len(members))
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m Enrollment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			verdicts[i] = WeightedVerdict{
				Verdict: p.judgeOnce(ctx, m, rc, round),
				Weight:  m.Weight,
			}
		}(i, m)
	}
	wg.Wait()
	return verdicts
}

// judgeOnce invokes one judge. Timeouts, errors, cancellation, and schema
// violations all degrade to an uncertain verdict so one judge can never
// block progress.
func (p *Pool) judgeOnce(ctx context.Context, m Enrollment, rc ReviewContext, round int) contracts.JudgeVerdict {
	judgeCtx, cancel := context.WithTimeout(ctx, p.cfg.PerJudgeTimeout)
	defer cancel()

	cfg := JudgeConfig{Timeout: p.cfg.PerJudgeTimeout}
	verdict, err := m.Client.Review(judgeCtx, rc, cfg)
	if err != nil {
		reason := fmt.Sprintf("judge error in round %d: %v", round, err)
		if judgeCtx.Err() != nil {
			reason = fmt.Sprintf("judge timed out in round %d", round)
		}
		return uncertainVerdict(m, reason)
	}

	raw, err := contracts.Encode(verdict)
	if err == nil {
		err = contracts.Validate(raw, contracts.KindJudgeVerdict)
	}
	if err != nil {
		p.logger.WarnContext(ctx, "malformed judge verdict treated as uncertain",
			"judge_id", m.JudgeID, "error", err)
		return uncertainVerdict(m, fmt.Sprintf("malformed verdict in round %d", round))
	}
	return verdict
}

func uncertainVerdict(m Enrollment, reason string) contracts.JudgeVerdict {
	return contracts.JudgeVerdict{
		JudgeID: m.JudgeID,
		Version: m.Version,
		Verdict: contracts.JudgeUncertain,
		Reasons: []string{reason},
	}
}

func contributionConfidence(v contracts.JudgeDecision) float64 {
	if v == contracts.JudgeUncertain {
		return 0.4
	}
	return 0.9
}
