package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/maestro/pkg/errors"
)

// Builder assembles executor contexts from personas and constraint files
// under the maestro home.
type Builder struct {
	home   string
	logger *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder creates a Builder rooted at the maestro home directory, which
// holds agents/<name>.md personas and context/ constraint files.
func NewBuilder(home string, opts ...Option) *Builder {
	b := &Builder{
		home:   home,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the context for one step. A missing persona is a hard
// error; missing constraint files are skipped silently.
func (b *Builder) Build(req *Request) (*Context, error) {
	if req.Agent == "" {
		return nil, &errors.ValidationError{Field: "agent", Message: "agent name is required"}
	}
	if req.Packet != nil {
		if err := req.Packet.Validate(); err != nil {
			return nil, err
		}
	}

	persona, err := b.loadPersona(req.Agent)
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	prompt.WriteString(persona)
	if !strings.HasSuffix(persona, "\n") {
		prompt.WriteString("\n")
	}
	prompt.WriteString("## Constraints\n")
	prompt.WriteString(b.loadConstraints(req.Injections))
	prompt.WriteString("## Task\n")
	prompt.WriteString(taskBlock(req))

	return &Context{
		SystemPrompt: prompt.String(),
		Messages:     append([]Message(nil), req.History...),
		Tools:        AllowedTools(req.Agent),
	}, nil
}

// Validate checks the packet's mandatory fields.
func (p *Packet) Validate() error {
	if strings.TrimSpace(p.Goal) == "" {
		return &errors.ValidationError{Field: "goal", Message: "context packet requires a goal"}
	}
	if strings.TrimSpace(p.DefinitionOfDone) == "" {
		return &errors.ValidationError{Field: "definitionOfDone", Message: "context packet requires a definition of done"}
	}
	return nil
}

func (b *Builder) loadPersona(agent string) (string, error) {
	path := filepath.Join(b.home, "agents", agent+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &errors.NotFoundError{Resource: "persona", ID: agent}
		}
		return "", fmt.Errorf("load persona for %s: %w", agent, err)
	}
	return string(data), nil
}

// loadConstraints concatenates the named injection files that exist.
func (b *Builder) loadConstraints(injections []string) string {
	var out strings.Builder
	for _, name := range injections {
		rel, ok := knownInjections[name]
		if !ok {
			b.logger.Debug("ignoring unknown injection", "injection", name)
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.home, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		out.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			out.WriteString("\n")
		}
	}
	return out.String()
}

// taskBlock renders the task text, followed by the context packet when one
// is attached.
func taskBlock(req *Request) string {
	var out strings.Builder
	if req.Task != "" {
		out.WriteString(req.Task)
		out.WriteString("\n")
	}

	p := req.Packet
	if p == nil {
		return out.String()
	}

	fmt.Fprintf(&out, "\nGoal: %s\n", p.Goal)
	if len(p.Constraints) > 0 {
		out.WriteString("Constraints:\n")
		for _, constraint := range p.Constraints {
			fmt.Fprintf(&out, "- %s\n", constraint)
		}
	}
	if len(p.References) > 0 {
		out.WriteString("References:\n")
		for _, ref := range p.References {
			fmt.Fprintf(&out, "- %s\n", ref)
		}
	}
	fmt.Fprintf(&out, "Definition of done: %s\n", p.DefinitionOfDone)
	return out.String()
}
