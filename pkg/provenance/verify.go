package provenance

import (
	"context"
	"fmt"

	"github.com/arbiterlabs/arbiter/pkg/canonicalize"
	"github.com/arbiterlabs/arbiter/pkg/contracts"
	"github.com/arbiterlabs/arbiter/pkg/crypto"
)

// VerifyChain replays a task's events, recomputing every digest and
// checking every signature. It returns the number of verified events, or
// an error naming the first break in the chain.
func VerifyChain(events []contracts.ProvenanceEvent, keyring *crypto.Keyring) (int, error) {
	parent := contracts.ChainRoot
	for i, ev := range events {
		if ev.ParentDigest != parent {
			return i, fmt.Errorf("event %d (%s): parent digest %q does not extend %q",
				i, ev.EventType, ev.ParentDigest, parent)
		}

		digest, err := canonicalize.CanonicalHash(ev.SigningBody())
		if err != nil {
			return i, fmt.Errorf("event %d (%s): digest recompute failed: %w", i, ev.EventType, err)
		}
		if digest != ev.Digest {
			return i, fmt.Errorf("event %d (%s): digest mismatch: recorded %q recomputed %q",
				i, ev.EventType, ev.Digest, digest)
		}

		if keyring != nil {
			if err := keyring.VerifyDigest(ev.Signature, ev.Digest); err != nil {
				return i, fmt.Errorf("event %d (%s): %w", i, ev.EventType, err)
			}
		}

		parent = ev.Digest
	}
	return len(events), nil
}

// VerifyTask loads a task's events from the store and verifies the chain.
func VerifyTask(ctx context.Context, store Store, keyring *crypto.Keyring, taskID string) (int, error) {
	events, err := store.Events(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("load events for %s: %w", taskID, err)
	}
	return VerifyChain(events, keyring)
}
