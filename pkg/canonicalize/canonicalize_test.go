package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSSortsKeys(t *testing.T) {
	input := map[string]any{"zebra": 1, "alpha": 2, "mid": map[string]any{"b": 1, "a": 2}}
	out, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":2,"b":1},"zebra":1}`, string(out))
}

func TestJCSStableAcrossCalls(t *testing.T) {
	type artifact struct {
		B string `json:"b"`
		A string `json:"a"`
		N int    `json:"n"`
	}
	v := artifact{B: "two", A: "one", N: 42}

	first, err := JCS(v)
	require.NoError(t, err)
	second, err := JCS(v)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]string{"k": "<a> & </a>"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<a> & </a>")
}

func TestCanonicalHashDiffers(t *testing.T) {
	h1, err := CanonicalHash(map[string]int{"a": 1})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]int{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestNFCNormalization(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	require.NotEqual(t, composed, decomposed)
	assert.Equal(t, NFC(composed), NFC(decomposed))
}
