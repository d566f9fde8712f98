package run

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/tombee/maestro/pkg/errors"
)

// MaxIDLength is the maximum length of a run id.
const MaxIDLength = 128

// idPattern matches filename-safe run ids: alphanumerics and hyphens only.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidateID checks that a run id is non-empty, filename-safe, and within
// the length limit.
func ValidateID(id string) error {
	if id == "" {
		return &errors.ValidationError{
			Field:   "run_id",
			Message: "run id cannot be empty",
		}
	}
	if len(id) > MaxIDLength {
		return &errors.ValidationError{
			Field:   "run_id",
			Message: fmt.Sprintf("run id exceeds %d characters", MaxIDLength),
		}
	}
	if !idPattern.MatchString(id) {
		return &errors.ValidationError{
			Field:      "run_id",
			Message:    fmt.Sprintf("run id %q contains invalid characters", id),
			Suggestion: "use only letters, digits, and hyphens",
		}
	}
	return nil
}

// NewID generates a collision-resistant run id from a random UUID, with an
// optional prefix. The exists probe is consulted so the generator can retry
// on the (vanishingly unlikely) collision.
func NewID(prefix string, exists func(id string) bool) (string, error) {
	if prefix != "" {
		if err := ValidateID(prefix); err != nil {
			return "", err
		}
	}

	for attempt := 0; attempt < 5; attempt++ {
		id := uuid.NewString()
		if prefix != "" {
			id = prefix + "-" + id
		}
		if len(id) > MaxIDLength {
			return "", &errors.ValidationError{
				Field:   "prefix",
				Message: "prefix leaves no room for the generated id",
			}
		}
		if exists == nil || !exists(id) {
			return id, nil
		}
	}

	return "", &errors.ValidationError{
		Field:   "run_id",
		Message: "could not generate a unique run id",
	}
}
