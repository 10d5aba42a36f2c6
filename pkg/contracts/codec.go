package contracts

import (
	"encoding/json"
	"fmt"

	"github.com/arbiterlabs/arbiter/pkg/canonicalize"
	"github.com/arbiterlabs/arbiter/pkg/contracts/schemas"
)

// Encode serializes an artifact to its canonical wire form: key-ordered,
// UTF-8, no insignificant whitespace. Identical artifacts map to identical
// bytes.
func Encode(artifact any) ([]byte, error) {
	b, err := canonicalize.JCS(artifact)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

// Validate checks raw JSON against the registered schema for kind.
// Returns a *ContractError describing every violation, or nil.
func Validate(raw []byte, kind Kind) error {
	reg, err := schemas.Default()
	if err != nil {
		return WrapContractError(kind, err)
	}
	issues, err := reg.Validate(string(kind), raw)
	if err != nil {
		return WrapContractError(kind, err)
	}
	if len(issues) == 0 {
		return nil
	}
	converted := make([]ValidationIssue, 0, len(issues))
	for _, iss := range issues {
		converted = append(converted, ValidationIssue{
			InstancePath: iss.InstancePath,
			SchemaPath:   iss.SchemaPath,
			Message:      iss.Message,
		})
	}
	return NewContractError(kind, converted)
}

// Decode validates raw JSON against the schema for kind and unmarshals it
// into T. Schema failure is fatal for the artifact (fail closed) but must
// not abort unrelated tasks; callers receive a *ContractError they can
// classify.
func Decode[T any](raw []byte, kind Kind) (T, error) {
	var out T
	if err := Validate(raw, kind); err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, WrapContractError(kind, err)
	}
	return out, nil
}
