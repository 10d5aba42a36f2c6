package contracts

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFinalVerdict() FinalVerdict {
	return FinalVerdict{
		Decision: DecisionAccept,
		Votes: []VoteEntry{
			{JudgeID: "tech", Weight: 0.4, Verdict: JudgePass},
			{JudgeID: "safety", Weight: 0.3, Verdict: JudgePass},
		},
		Dissent:            "",
		Remediation:        []string{},
		ConstitutionalRefs: []string{},
		VerificationSummary: VerificationSummary{
			ClaimsTotal: 4, ClaimsVerified: 4, CoveragePct: 100,
		},
	}
}

func TestFinalVerdictRoundTrip(t *testing.T) {
	v := sampleFinalVerdict()

	encoded, err := Encode(v)
	require.NoError(t, err)

	decoded, err := Decode[FinalVerdict](encoded, KindFinalVerdict)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	// Canonical form is a fixed point: encode(decode(encode(v))) == encode(v).
	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestEncodeIsKeyOrdered(t *testing.T) {
	encoded, err := Encode(sampleFinalVerdict())
	require.NoError(t, err)

	// constitutional_refs sorts before decision sorts before dissent.
	s := string(encoded)
	assert.Less(t, strings.Index(s, `"constitutional_refs"`), strings.Index(s, `"decision"`))
	assert.Less(t, strings.Index(s, `"decision"`), strings.Index(s, `"dissent"`))
	assert.NotContains(t, s, "\n")
}

func TestDecodeMissingJudgeID(t *testing.T) {
	raw := []byte(`{"version":"1.0","verdict":"pass","reasons":[]}`)

	_, err := Decode[JudgeVerdict](raw, KindJudgeVerdict)
	require.Error(t, err)

	var cerr *ContractError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindJudgeVerdict, cerr.Kind)
	require.NotEmpty(t, cerr.Issues)

	found := false
	for _, iss := range cerr.Issues {
		if iss.InstancePath == "" && strings.Contains(iss.Message, "judge_id") {
			found = true
		}
	}
	assert.True(t, found, "expected a root-level issue naming judge_id, got %v", cerr.Issues)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode[JudgeVerdict]([]byte(`{}`), Kind("Mystery"))
	require.Error(t, err)

	var cerr *ContractError
	require.True(t, errors.As(err, &cerr))
	assert.ErrorContains(t, err, "unknown artifact kind")
}

func TestDecodeRejectsWrongEnum(t *testing.T) {
	raw := []byte(`{"judge_id":"j","version":"1.0","verdict":"maybe","reasons":[]}`)
	_, err := Decode[JudgeVerdict](raw, KindJudgeVerdict)
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedJudgeVerdict(t *testing.T) {
	v := JudgeVerdict{
		JudgeID: "tech",
		Version: "1.0",
		Verdict: JudgePass,
		Reasons: []string{"all checks passed"},
		Evidence: []EvidenceItem{
			{Kind: EvidenceTest, Ref: "tests/unit", Summary: "unit tests green"},
		},
	}
	raw, err := Encode(v)
	require.NoError(t, err)
	require.NoError(t, Validate(raw, KindJudgeVerdict))
}

func TestFaultKindOf(t *testing.T) {
	err := NewFault(FaultDispatch, "exhausted", errors.New("boom"))
	assert.Equal(t, FaultDispatch, FaultKindOf(err))
	assert.Equal(t, FaultKind(""), FaultKindOf(errors.New("plain")))

	wrapped := NewFault(FaultTimeout, "outer", err)
	assert.Equal(t, FaultTimeout, FaultKindOf(wrapped))
}
