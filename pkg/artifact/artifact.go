// Package artifact defines the per-run artifact registry: persisted artifact
// records plus an in-memory indexed view with O(1) lookup by name, id, type,
// and step.
package artifact

import "time"

// ValidationStatus is the schema-validation state of an artifact.
type ValidationStatus string

const (
	// ValidationPending indicates the artifact has not been validated yet.
	ValidationPending ValidationStatus = "pending"
	// ValidationPass indicates the artifact passed schema validation.
	ValidationPass ValidationStatus = "pass"
	// ValidationFail indicates the artifact failed schema validation.
	ValidationFail ValidationStatus = "fail"
)

// PublishStatus is the publishing state of an artifact.
type PublishStatus string

const (
	// PublishPending indicates no publish attempt has completed.
	PublishPending PublishStatus = "pending"
	// PublishSuccess indicates the artifact was published.
	PublishSuccess PublishStatus = "success"
	// PublishFailed indicates the last publish attempt failed.
	PublishFailed PublishStatus = "failed"
)

// PublishAttempt records a single attempt to publish an artifact to a target.
type PublishAttempt struct {
	Target      string        `json:"target"`
	Status      PublishStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	AttemptedAt time.Time     `json:"attempted_at"`
}

// Artifact is one registered output of a workflow step.
// Names are unique within a run's registry.
type Artifact struct {
	Name         string   `json:"name"`
	ID           string   `json:"id,omitempty"`
	Step         int      `json:"step"`
	Agent        string   `json:"agent"`
	Path         string   `json:"path"`
	Version      int      `json:"version"`
	Dependencies []string `json:"dependencies,omitempty"`

	ValidationStatus ValidationStatus `json:"validationStatus"`
	Schema           string           `json:"schema,omitempty"`

	// Metadata carries free-form metadata; the "type" key drives the
	// byType index.
	Metadata map[string]any `json:"metadata,omitempty"`

	Publishable     bool             `json:"publishable,omitempty"`
	Published       bool             `json:"published,omitempty"`
	PublishedAt     *time.Time       `json:"published_at,omitempty"`
	PublishTargets  []string         `json:"publish_targets,omitempty"`
	PublishAttempts []PublishAttempt `json:"publish_attempts,omitempty"`
	PublishStatus   PublishStatus    `json:"publish_status,omitempty"`
	PublishError    string           `json:"publish_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Type returns the artifact type from metadata, or "" when untyped.
func (a *Artifact) Type() string {
	if a.Metadata == nil {
		return ""
	}
	if t, ok := a.Metadata["type"].(string); ok {
		return t
	}
	return ""
}

// Clone creates a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}

	clone := *a

	if a.Dependencies != nil {
		clone.Dependencies = make([]string, len(a.Dependencies))
		copy(clone.Dependencies, a.Dependencies)
	}
	if a.Metadata != nil {
		clone.Metadata = cloneMap(a.Metadata)
	}
	if a.PublishedAt != nil {
		publishedAt := *a.PublishedAt
		clone.PublishedAt = &publishedAt
	}
	if a.PublishTargets != nil {
		clone.PublishTargets = make([]string, len(a.PublishTargets))
		copy(clone.PublishTargets, a.PublishTargets)
	}
	if a.PublishAttempts != nil {
		clone.PublishAttempts = make([]PublishAttempt, len(a.PublishAttempts))
		copy(clone.PublishAttempts, a.PublishAttempts)
	}

	return &clone
}

// cloneMap deep-copies a metadata map. Nested maps and slices are copied;
// scalar values are shared.
func cloneMap(m map[string]any) map[string]any {
	clone := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			clone[k] = cloneMap(val)
		case []any:
			s := make([]any, len(val))
			for i, item := range val {
				if nested, ok := item.(map[string]any); ok {
					s[i] = cloneMap(nested)
				} else {
					s[i] = item
				}
			}
			clone[k] = s
		default:
			clone[k] = v
		}
	}
	return clone
}
