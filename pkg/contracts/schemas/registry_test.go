package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCompilesEveryEmbeddedSchema(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	for _, kind := range []string{
		"TaskRequest", "TaskResponse", "WorkingSpec", "WorkerOutput",
		"JudgeVerdict", "FinalVerdict", "RouterDecision",
		"ExecutionArtifacts", "QualityReport", "RefinementDecision",
	} {
		assert.True(t, reg.Has(kind), "missing schema for %s", kind)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)
	b, err := Default()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestValidateReportsIssuePaths(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	issues, err := reg.Validate("JudgeVerdict", []byte(`{"judge_id":"j","version":"1","verdict":"nope","reasons":[]}`))
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	assert.Equal(t, "/verdict", issues[0].InstancePath)
}

func TestValidateUnknownKind(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	_, err = reg.Validate("NoSuchKind", []byte(`{}`))
	assert.ErrorContains(t, err, "unknown artifact kind")
}

func TestValidateMalformedJSON(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	issues, err := reg.Validate("JudgeVerdict", []byte(`{not json`))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "invalid JSON")
}
