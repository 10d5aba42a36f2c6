package council

import (
	"sort"
	"strings"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/canonicalize"
	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/crypto"
)

// Position is the keyword-level stance extracted from a contribution, used
// for quick consensus detection between full aggregations.
type Position string

const (
	PositionApprove Position = "approve"
	PositionReject  Position = "reject"
	PositionRevise  Position = "revise"
)

// DebateContribution is one judge's signed statement in one round.
type DebateContribution struct {
	Participant string    `json:"participant"`
	Round       int       `json:"round"`
	Content     string    `json:"content"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// CompiledContributions is the full debate record across rounds.
type CompiledContributions struct {
	Contributions    []DebateContribution `json:"contributions"`
	TotalRounds      int                  `json:"total_rounds"`
	ParticipantCount int                  `json:"participant_count"`
	CompiledAt       time.Time            `json:"compilation_timestamp"`
}

// SignedTranscript binds a compiled transcript to the council's key.
type SignedTranscript struct {
	Transcript CompiledContributions `json:"transcript"`
	Signature  string                `json:"signature"`
	Signer     string                `json:"signer"`
	SignedAt   time.Time             `json:"signature_timestamp"`
}

// ContributionAnalysis summarizes debate dynamics.
type ContributionAnalysis struct {
	DominantThemes    []string           `json:"dominant_themes"`
	ConsensusAreas    []string           `json:"consensus_areas"`
	DisagreementAreas []string           `json:"disagreement_areas"`
	Engagement        map[string]float64 `json:"participant_engagement"`
	ConfidenceTrends  []float64          `json:"confidence_trends"`
}

// ExtractPosition reduces a contribution to a stance by keyword scan.
func ExtractPosition(content string) Position {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "approve") || strings.Contains(lower, "accept") || strings.Contains(lower, "pass"):
		return PositionApprove
	case strings.Contains(lower, "reject") || strings.Contains(lower, "fail"):
		return PositionReject
	default:
		return PositionRevise
	}
}

// Compile assembles contributions into a transcript.
func Compile(contributions []DebateContribution, rounds int, now time.Time) CompiledContributions {
	participants := make(map[string]struct{})
	for _, c := range contributions {
		participants[c.Participant] = struct{}{}
	}
	return CompiledContributions{
		Contributions:    contributions,
		TotalRounds:      rounds,
		ParticipantCount: len(participants),
		CompiledAt:       now,
	}
}

// Sign produces a signed transcript over the compiled record's canonical
// hash.
func Sign(transcript CompiledContributions, keyring *crypto.Keyring, now time.Time) (*SignedTranscript, error) {
	digest, err := canonicalize.CanonicalHash(transcript)
	if err != nil {
		return nil, contracts.NewFault(contracts.FaultJudge, "digest transcript", err)
	}
	sig, err := keyring.SignDigest(digest)
	if err != nil {
		return nil, contracts.NewFault(contracts.FaultJudge, "sign transcript", err)
	}
	return &SignedTranscript{
		Transcript: transcript,
		Signature:  sig,
		Signer:     keyring.KeyID(),
		SignedAt:   now,
	}, nil
}

// Analyze extracts debate dynamics from a transcript.
func Analyze(transcript CompiledContributions) ContributionAnalysis {
	analysis := ContributionAnalysis{
		Engagement: make(map[string]float64),
	}
	if len(transcript.Contributions) == 0 {
		return analysis
	}

	positions := make(map[Position][]string)
	themeCounts := make(map[string]int)
	roundConfidence := make(map[int][]float64)

	for _, c := range transcript.Contributions {
		analysis.Engagement[c.Participant]++
		positions[ExtractPosition(c.Content)] = append(positions[ExtractPosition(c.Content)], c.Participant)
		roundConfidence[c.Round] = append(roundConfidence[c.Round], c.Confidence)
		for _, word := range strings.Fields(strings.ToLower(c.Content)) {
			word = strings.Trim(word, ".,;:!?")
			if len(word) > 4 {
				themeCounts[word]++
			}
		}
	}

	rounds := float64(transcript.TotalRounds)
	if rounds > 0 {
		for p := range analysis.Engagement {
			analysis.Engagement[p] /= rounds
		}
	}

	// Themes mentioned by more than one contribution, most frequent first.
	type theme struct {
		word  string
		count int
	}
	var themes []theme
	for w, n := range themeCounts {
		if n > 1 {
			themes = append(themes, theme{w, n})
		}
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].count != themes[j].count {
			return themes[i].count > themes[j].count
		}
		return themes[i].word < themes[j].word
	})
	for i, t := range themes {
		if i == 5 {
			break
		}
		analysis.DominantThemes = append(analysis.DominantThemes, t.word)
	}

	// A position held by every participant is consensus; positions held
	// by a strict subset mark disagreement.
	total := transcript.ParticipantCount
	for pos, holders := range positions {
		unique := make(map[string]struct{})
		for _, h := range holders {
			unique[h] = struct{}{}
		}
		if len(unique) == total && total > 0 {
			analysis.ConsensusAreas = append(analysis.ConsensusAreas, string(pos))
		} else if len(unique) > 0 {
			analysis.DisagreementAreas = append(analysis.DisagreementAreas, string(pos))
		}
	}
	sort.Strings(analysis.ConsensusAreas)
	sort.Strings(analysis.DisagreementAreas)

	for round := 1; round <= transcript.TotalRounds; round++ {
		vals := roundConfidence[round]
		if len(vals) == 0 {
			continue
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		analysis.ConfidenceTrends = append(analysis.ConfidenceTrends, sum/float64(len(vals)))
	}
	return analysis
}
