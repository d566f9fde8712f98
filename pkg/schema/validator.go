// Package schema validates artifact payloads against JSON Schemas stored
// under the maestro home.
package schema

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tombee/maestro/pkg/errors"
)

// Report is the outcome of validating one payload.
type Report struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"errors,omitempty"`
}

var schemaIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validator compiles schemas from a directory and caches the compiled form.
type Validator struct {
	dir string

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator creates a Validator over dir, which holds <schema-id>.json
// files.
func NewValidator(dir string) *Validator {
	return &Validator{
		dir:      dir,
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks a decoded payload against the named schema. Schema
// problems are reported, not returned as errors; an error means the schema
// itself could not be loaded or compiled.
func (v *Validator) Validate(data any, schemaID string) (*Report, error) {
	schema, err := v.compile(schemaID)
	if err != nil {
		return nil, err
	}

	if err := schema.Validate(data); err != nil {
		var verr *jsonschema.ValidationError
		if stderrors.As(err, &verr) {
			return &Report{Problems: flatten(verr)}, nil
		}
		return nil, fmt.Errorf("validate against %s: %w", schemaID, err)
	}
	return &Report{Valid: true}, nil
}

// ValidateBytes decodes a raw JSON payload and validates it.
func (v *Validator) ValidateBytes(data []byte, schemaID string) (*Report, error) {
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &Report{Problems: []string{fmt.Sprintf("payload is not valid JSON: %v", err)}}, nil
	}
	return v.Validate(decoded, schemaID)
}

// ValidateArtifact validates and converts a failing report into a
// SchemaValidationError for the stepper.
func (v *Validator) ValidateArtifact(artifactName string, data []byte, schemaID string) error {
	report, err := v.ValidateBytes(data, schemaID)
	if err != nil {
		return err
	}
	if report.Valid {
		return nil
	}
	return &errors.SchemaValidationError{
		Artifact: artifactName,
		SchemaID: schemaID,
		Problems: report.Problems,
	}
}

// EvictCaches drops all compiled schemas.
func (v *Validator) EvictCaches() {
	v.mu.Lock()
	v.compiled = make(map[string]*jsonschema.Schema)
	v.mu.Unlock()
}

func (v *Validator) compile(schemaID string) (*jsonschema.Schema, error) {
	if !schemaIDPattern.MatchString(schemaID) {
		return nil, &errors.ValidationError{
			Field:   "schema",
			Message: fmt.Sprintf("unsafe schema id %q", schemaID),
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if schema, ok := v.compiled[schemaID]; ok {
		return schema, nil
	}

	raw, err := os.ReadFile(filepath.Join(v.dir, schemaID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "schema", ID: schemaID}
		}
		return nil, fmt.Errorf("load schema %s: %w", schemaID, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", schemaID, err)
	}

	compiler := jsonschema.NewCompiler()
	resource := schemaID + ".json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", schemaID, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", schemaID, err)
	}

	v.compiled[schemaID] = schema
	return schema, nil
}

// flatten collects the leaf causes of a validation error.
func flatten(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		return []string{err.Error()}
	}
	var problems []string
	for _, cause := range err.Causes {
		problems = append(problems, flatten(cause)...)
	}
	return problems
}
