package council

import (
	"sort"
	"strings"

	"github.com/arbiterlabs/arbiter/pkg/contracts"
)

// CouncilRef is the constitutional clause cited when the council itself
// rejects on quality grounds rather than a policy short-circuit.
const CouncilRef = "CAWS:Quality"

// Score computes the weighted vote masses. Pass mass counts pass votes
// alone; an uncertain vote contributes half its weight to the fail side
// (prefer safety: uncertainty never argues for acceptance).
func Score(verdicts []WeightedVerdict) (passMass, failMass float64) {
	for _, wv := range verdicts {
		switch wv.Verdict.Verdict {
		case contracts.JudgePass:
			passMass += wv.Weight
		case contracts.JudgeFail:
			failMass += wv.Weight
		case contracts.JudgeUncertain:
			failMass += wv.Weight / 2
		}
	}
	return passMass, failMass
}

// Aggregate combines weighted verdicts into one FinalVerdict.
//
// Weights are normalized to sum at most 1; the remainder is abstention
// mass. Dissent joins the reasons of judges disagreeing with the decision,
// ordered by judge_id. Remediation de-duplicates judge suggestions
// case-insensitively, first appearance first.
func Aggregate(delib *Deliberation, thresholds Thresholds, summary contracts.VerificationSummary) contracts.FinalVerdict {
	verdicts := normalize(delib.Verdicts)
	passMass, failMass := Score(verdicts)

	var decision contracts.FinalDecision
	switch {
	case !delib.Consensus:
		// Debate exhausted without consensus: resolve modify, dissent
		// preserved verbatim.
		decision = contracts.DecisionModify
	case passMass == failMass && passMass >= thresholds.Accept && failMass >= thresholds.Reject:
		// Tie meeting both positive thresholds: prefer safety.
		decision = contracts.DecisionModify
	case passMass >= thresholds.Accept && failMass <= thresholds.FailGuard:
		decision = contracts.DecisionAccept
	case failMass >= thresholds.Reject:
		decision = contracts.DecisionReject
	default:
		decision = contracts.DecisionModify
	}

	votes := make([]contracts.VoteEntry, 0, len(verdicts))
	for _, wv := range verdicts {
		votes = append(votes, contracts.VoteEntry{
			JudgeID: wv.Verdict.JudgeID,
			Weight:  wv.Weight,
			Verdict: wv.Verdict.Verdict,
		})
	}

	verdict := contracts.FinalVerdict{
		Decision:            decision,
		Votes:               votes,
		Dissent:             dissent(verdicts, decision, delib.PriorReasons),
		Remediation:         remediation(verdicts, decision),
		ConstitutionalRefs:  []string{},
		VerificationSummary: summary,
	}

	// Any failing judge obliges the verdict to carry remediation and a
	// constitutional reference.
	if hasFail(verdicts) || decision == contracts.DecisionReject {
		if len(verdict.Remediation) == 0 {
			verdict.Remediation = []string{"address the failing judges' objections"}
		}
		verdict.ConstitutionalRefs = []string{CouncilRef}
	}
	return verdict
}

// normalize scales weights down when they exceed 1; the shortfall below 1
// is abstention mass and stays unassigned.
func normalize(verdicts []WeightedVerdict) []WeightedVerdict {
	var sum float64
	for _, wv := range verdicts {
		sum += wv.Weight
	}
	if sum <= 1 {
		return verdicts
	}
	out := make([]WeightedVerdict, len(verdicts))
	for i, wv := range verdicts {
		wv.Weight = wv.Weight / sum
		out[i] = wv
	}
	return out
}

// agreesWith maps a judge verdict onto the final decision it supports.
func agreesWith(v contracts.JudgeDecision, d contracts.FinalDecision) bool {
	switch d {
	case contracts.DecisionAccept:
		return v == contracts.JudgePass
	case contracts.DecisionReject:
		return v == contracts.JudgeFail
	default:
		return v == contracts.JudgeUncertain
	}
}

// dissent joins disagreeing judges' reasons deterministically
// (alphabetical by judge_id), including reasons they held in earlier
// debate rounds.
func dissent(verdicts []WeightedVerdict, decision contracts.FinalDecision, prior map[string][]string) string {
	sorted := make([]WeightedVerdict, len(verdicts))
	copy(sorted, verdicts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Verdict.JudgeID < sorted[j].Verdict.JudgeID
	})

	var parts []string
	seen := make(map[string]struct{})
	add := func(reason string) {
		key := strings.ToLower(reason)
		if _, dup := seen[key]; dup || reason == "" {
			return
		}
		seen[key] = struct{}{}
		parts = append(parts, reason)
	}

	for _, wv := range sorted {
		if agreesWith(wv.Verdict.Verdict, decision) {
			// A judge that revised toward the decision still dissented
			// earlier; preserve those prior reasons.
			for _, r := range prior[wv.Verdict.JudgeID] {
				add(r)
			}
			continue
		}
		for _, r := range wv.Verdict.Reasons {
			add(r)
		}
	}
	return strings.Join(parts, "; ")
}

// remediation aggregates suggestions from judges voting against
// acceptance, de-duplicated case-insensitively, ordered by first
// appearance.
func remediation(verdicts []WeightedVerdict, decision contracts.FinalDecision) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, wv := range verdicts {
		if wv.Verdict.Verdict == contracts.JudgePass {
			continue
		}
		for _, r := range wv.Verdict.Reasons {
			key := strings.ToLower(strings.TrimSpace(r))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func hasFail(verdicts []WeightedVerdict) bool {
	for _, wv := range verdicts {
		if wv.Verdict.Verdict == contracts.JudgeFail {
			return true
		}
	}
	return false
}
