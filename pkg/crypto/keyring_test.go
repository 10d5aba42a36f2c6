package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyAllAlgorithms(t *testing.T) {
	for _, alg := range []Algorithm{AlgRS256, AlgES256, AlgEdDSA} {
		t.Run(string(alg), func(t *testing.T) {
			kr, err := NewKeyring(alg, "test-key")
			require.NoError(t, err)
			require.Equal(t, alg, kr.Algorithm())

			sig, err := kr.SignDigest("sha256:abc123")
			require.NoError(t, err)
			require.NotEmpty(t, sig)

			require.NoError(t, kr.VerifyDigest(sig, "sha256:abc123"))
		})
	}
}

func TestVerifyRejectsDigestMismatch(t *testing.T) {
	kr, err := NewKeyring(AlgEdDSA, "test-key")
	require.NoError(t, err)

	sig, err := kr.SignDigest("sha256:original")
	require.NoError(t, err)

	err = kr.VerifyDigest(sig, "sha256:tampered")
	assert.ErrorContains(t, err, "digest mismatch")
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signer, err := NewKeyring(AlgEdDSA, "signer")
	require.NoError(t, err)
	other, err := NewKeyring(AlgEdDSA, "other")
	require.NoError(t, err)

	sig, err := signer.SignDigest("sha256:abc")
	require.NoError(t, err)

	assert.Error(t, other.VerifyDigest(sig, "sha256:abc"))
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := NewKeyring(Algorithm("HS256"), "k")
	assert.ErrorContains(t, err, "unsupported algorithm")
}

func TestSeededKeyringIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a, err := NewEdDSAKeyringFromSeed(seed, "seeded")
	require.NoError(t, err)
	b, err := NewEdDSAKeyringFromSeed(seed, "seeded")
	require.NoError(t, err)

	sigA, err := a.SignDigest("sha256:x")
	require.NoError(t, err)
	require.NoError(t, b.VerifyDigest(sigA, "sha256:x"))
}
