package condition

import (
	"regexp"
	"strings"
)

// Context is the typed evaluation context for conditions.
type Context struct {
	// Config holds workflow configuration values, addressed as config.<field>.
	Config map[string]any

	// StepOutput holds the previous step's output, addressed as
	// step.output.<field>.
	StepOutput map[string]any

	// Env holds environment variables, addressed as env.<VAR>.
	Env map[string]string

	// Artifacts holds artifact-derived values, addressed as
	// artifacts.<dotted.path>.
	Artifacts map[string]any

	// Providers is the sequence probed by providers.includes('X').
	Providers []string

	// TopLevel is the fallback surface for bare identifiers.
	TopLevel map[string]any
}

// snakeCasePattern matches bare identifiers resolved by truthy lookup.
var snakeCasePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// resolve looks up a variable reference, returning the value and whether the
// path exists. Missing paths resolve to (nil, false): "undefined".
func (c *Context) resolve(ref string) (any, bool) {
	switch {
	case strings.HasPrefix(ref, "config."):
		return lookupPath(c.Config, strings.TrimPrefix(ref, "config."))

	case strings.HasPrefix(ref, "step.output."):
		return lookupPath(c.StepOutput, strings.TrimPrefix(ref, "step.output."))

	case strings.HasPrefix(ref, "env."):
		if c.Env == nil {
			return nil, false
		}
		v, ok := c.Env[strings.TrimPrefix(ref, "env.")]
		if !ok {
			return nil, false
		}
		return v, true

	case strings.HasPrefix(ref, "artifacts."):
		return lookupPath(c.Artifacts, strings.TrimPrefix(ref, "artifacts."))
	}

	// Bare snake_case identifier: truthy lookup in config, artifacts,
	// env (uppercased), then top-level.
	if !snakeCasePattern.MatchString(ref) {
		return nil, false
	}
	if v, ok := lookupPath(c.Config, ref); ok {
		return v, true
	}
	if v, ok := lookupPath(c.Artifacts, ref); ok {
		return v, true
	}
	if c.Env != nil {
		if v, ok := c.Env[strings.ToUpper(ref)]; ok {
			return v, true
		}
	}
	return lookupPath(c.TopLevel, ref)
}

// isReference reports whether a token is a recognised variable surface.
func isReference(token string) bool {
	for _, prefix := range []string{"config.", "step.output.", "env.", "artifacts."} {
		if strings.HasPrefix(token, prefix) && len(token) > len(prefix) {
			return true
		}
	}
	return snakeCasePattern.MatchString(token)
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil || path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current any = m
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
