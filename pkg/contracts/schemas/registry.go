// Package schemas embeds the JSON Schemas for every boundary artifact and
// compiles them once at startup. Validation is side-effect free; a schema
// that fails to compile is a startup error (fail closed).
package schemas

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed *.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://arbiterlabs.io/schemas/"

// Issue locates one schema violation.
type Issue struct {
	InstancePath string
	SchemaPath   string
	Message      string
}

// Registry holds compiled schemas keyed by artifact kind.
type Registry struct {
	compiled map[string]*jsonschema.Schema
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the process-wide registry, compiling the embedded schemas
// on first use. Initialized once, never mutated after.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Load()
	})
	return defaultReg, defaultErr
}

// Load compiles every embedded schema into a fresh registry.
func Load() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	entries, err := fs.Glob(schemaFS, "*.schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema glob failed: %w", err)
	}
	sort.Strings(entries)

	// Two passes: register every resource first so cross-schema $refs
	// resolve without network access, then compile.
	for _, name := range entries {
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("schema read %s: %w", name, err)
		}
		url := schemaBaseURL + name
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema load %s: %w", name, err)
		}
	}

	reg := &Registry{compiled: make(map[string]*jsonschema.Schema, len(entries))}
	for _, name := range entries {
		compiled, err := compiler.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("schema compile %s: %w", name, err)
		}
		kind := strings.TrimSuffix(name, ".schema.json")
		reg.compiled[kind] = compiled
	}
	return reg, nil
}

// Kinds lists the artifact kinds the registry knows, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.compiled))
	for k := range r.compiled {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Has reports whether the registry carries a schema for kind.
func (r *Registry) Has(kind string) bool {
	_, ok := r.compiled[kind]
	return ok
}

// Validate checks raw JSON against the schema for kind. A nil slice means
// the document conforms. Unknown kinds are rejected.
func (r *Registry) Validate(kind string, raw []byte) ([]Issue, error) {
	schema, ok := r.compiled[kind]
	if !ok {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []Issue{{InstancePath: "", SchemaPath: "", Message: fmt.Sprintf("invalid JSON: %v", err)}}, nil
	}

	err := schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if ok := asValidationError(err, &verr); !ok {
		return []Issue{{Message: err.Error()}}, nil
	}
	return flatten(verr), nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	if v, ok := err.(*jsonschema.ValidationError); ok {
		*target = v
		return true
	}
	return false
}

// flatten converts the nested cause tree into leaf issues with stable order.
func flatten(verr *jsonschema.ValidationError) []Issue {
	out := verr.BasicOutput()
	issues := make([]Issue, 0, len(out.Errors))
	for _, e := range out.Errors {
		// Branch nodes repeat their children's messages; keep leaves only.
		if strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		issues = append(issues, Issue{
			InstancePath: e.InstanceLocation,
			SchemaPath:   e.KeywordLocation,
			Message:      e.Error,
		})
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].InstancePath != issues[j].InstancePath {
			return issues[i].InstancePath < issues[j].InstancePath
		}
		return issues[i].SchemaPath < issues[j].SchemaPath
	})
	return issues
}
