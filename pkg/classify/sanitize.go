package classify

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/tombee/maestro/pkg/errors"
)

// Input bounds for classification requests.
const (
	MaxDescriptionLength = 10000
	MaxFilePatterns      = 50
	MaxPatternLength     = 500
)

// shellMetaChars are rejected in file patterns so the classifier can never
// be used to smuggle shell syntax into downstream tooling.
const shellMetaChars = ";|&$`<>"

// sanitizeDescription strips control characters and enforces the length
// bound. Newlines and tabs collapse to single spaces.
func sanitizeDescription(description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", &errors.ValidationError{
			Field:      "description",
			Message:    "description is required",
			Suggestion: "provide a short statement of the task",
		}
	}
	if len(description) > MaxDescriptionLength {
		return "", &errors.ValidationError{
			Field:      "description",
			Message:    fmt.Sprintf("description exceeds %d characters", MaxDescriptionLength),
			Suggestion: "shorten the description; detail belongs in referenced files",
		}
	}

	var b strings.Builder
	b.Grow(len(description))
	for _, r := range description {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// validateFilePatterns enforces the pattern bounds and rejects patterns that
// could escape the project root or carry shell syntax.
func validateFilePatterns(patterns []string) error {
	if len(patterns) > MaxFilePatterns {
		return &errors.ValidationError{
			Field:      "files",
			Message:    fmt.Sprintf("too many file patterns (%d > %d)", len(patterns), MaxFilePatterns),
			Suggestion: "collapse related patterns with globs",
		}
	}

	for i, pattern := range patterns {
		field := fmt.Sprintf("files[%d]", i)
		switch {
		case pattern == "":
			return &errors.ValidationError{Field: field, Message: "empty file pattern"}
		case len(pattern) > MaxPatternLength:
			return &errors.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("pattern exceeds %d characters", MaxPatternLength),
			}
		case strings.ContainsRune(pattern, 0):
			return &errors.ValidationError{Field: field, Message: "pattern contains a null byte"}
		case strings.ContainsAny(pattern, shellMetaChars):
			return &errors.ValidationError{
				Field:      field,
				Message:    "pattern contains shell metacharacters",
				Suggestion: "use plain glob syntax",
			}
		case filepath.IsAbs(pattern):
			return &errors.ValidationError{
				Field:      field,
				Message:    "absolute paths are not allowed",
				Suggestion: "use paths relative to the project root",
			}
		case containsDotDot(pattern):
			return &errors.ValidationError{
				Field:      field,
				Message:    "parent directory traversal is not allowed",
				Suggestion: "use paths relative to the project root",
			}
		}
	}
	return nil
}

func containsDotDot(pattern string) bool {
	for _, part := range strings.Split(filepath.ToSlash(pattern), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
