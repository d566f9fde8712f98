// Package patterns records agent execution outcomes per task type and offers
// advisory routing suggestions derived from them.
package patterns

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Outcome is the recorded result of one agent chain execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Execution is one line of the append-only registry.
type Execution struct {
	Task            string    `json:"task"`
	TaskType        string    `json:"task_type"`
	Agents          []string  `json:"agents"`
	Outcome         Outcome   `json:"outcome"`
	DurationMinutes float64   `json:"duration_minutes"`
	Feedback        string    `json:"feedback,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Metadata aggregates the registry.
type Metadata struct {
	TotalExecutions int `json:"totalExecutions"`
}

// Registry is the loaded view of all recorded executions.
type Registry struct {
	TaskTypes map[string][]Execution `json:"task_types"`
	Metadata  Metadata               `json:"metadata"`
}

// Suggestion is an advisory routing improvement. The router includes it in
// its result but never applies it silently.
type Suggestion struct {
	HasRecommendations bool     `json:"hasRecommendations"`
	Confidence         string   `json:"confidence"`
	Recommendations    []string `json:"recommendations"`
}

// minExecutionsForSuggestion is how many recorded executions a task type
// needs before the learner will recommend anything.
const minExecutionsForSuggestion = 3

var taskTypeFilePattern = regexp.MustCompile(`[^a-z0-9_-]+`)

// Learner appends executions to per-task-type NDJSON streams under dir and
// answers suggestion queries from an in-memory snapshot of those streams.
type Learner struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	snapshot *Registry
}

// Option configures a Learner.
type Option func(*Learner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Learner) { l.logger = logger }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) { l.now = now }
}

// New creates a Learner rooted at dir. The directory is created on first
// write.
func New(dir string, opts ...Option) *Learner {
	l := &Learner{
		dir:    dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an execution to the task type's stream. A zero timestamp is
// filled with the current time.
func (l *Learner) Record(exec Execution) error {
	if exec.TaskType == "" {
		return fmt.Errorf("record execution: task type is required")
	}
	if exec.Timestamp.IsZero() {
		exec.Timestamp = l.now().UTC()
	}

	line, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	f, err := os.OpenFile(l.streamPath(exec.TaskType), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("record execution: %w", err)
	}

	if l.snapshot != nil {
		key := normalizeTaskType(exec.TaskType)
		l.snapshot.TaskTypes[key] = append(l.snapshot.TaskTypes[key], exec)
		l.snapshot.Metadata.TotalExecutions++
	}
	return nil
}

// Snapshot loads the full registry. The result is cached until EvictCaches
// or the next load failure.
func (l *Learner) Snapshot() (*Registry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.snapshot != nil {
		return cloneRegistry(l.snapshot), nil
	}

	registry := &Registry{TaskTypes: make(map[string][]Execution)}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.snapshot = registry
			return cloneRegistry(registry), nil
		}
		return nil, fmt.Errorf("load pattern registry: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ndjson") {
			continue
		}
		taskType := strings.TrimSuffix(entry.Name(), ".ndjson")
		execs, err := l.readStream(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		registry.TaskTypes[taskType] = execs
		registry.Metadata.TotalExecutions += len(execs)
	}

	l.snapshot = registry
	return cloneRegistry(registry), nil
}

// EvictCaches drops the in-memory snapshot.
func (l *Learner) EvictCaches() {
	l.mu.Lock()
	l.snapshot = nil
	l.mu.Unlock()
}

// SuggestRoutingImprovement inspects the recorded executions for the task
// type and proposes chain changes. Fewer than three executions yields no
// recommendation.
func (l *Learner) SuggestRoutingImprovement(task, taskType string, currentChain []string) (*Suggestion, error) {
	registry, err := l.Snapshot()
	if err != nil {
		return nil, err
	}

	execs := registry.TaskTypes[normalizeTaskType(taskType)]
	if len(execs) < minExecutionsForSuggestion {
		return &Suggestion{Confidence: "low"}, nil
	}

	suggestion := &Suggestion{Confidence: confidenceFor(len(execs))}

	if lead, rate, count := bestLeadAgent(execs); count >= minExecutionsForSuggestion && rate >= 0.7 {
		if len(currentChain) > 0 && currentChain[0] != lead {
			suggestion.Recommendations = append(suggestion.Recommendations,
				fmt.Sprintf("agent %s led %d %s executions with %.0f%% success; consider it as primary instead of %s",
					lead, count, taskType, rate*100, currentChain[0]))
		}
	}

	if rate := successRate(execs); rate < 0.5 {
		suggestion.Recommendations = append(suggestion.Recommendations,
			fmt.Sprintf("%s executions succeed only %.0f%% of the time; consider adding a review step", taskType, rate*100))
	}

	suggestion.HasRecommendations = len(suggestion.Recommendations) > 0
	return suggestion, nil
}

func (l *Learner) streamPath(taskType string) string {
	return filepath.Join(l.dir, normalizeTaskType(taskType)+".ndjson")
}

func (l *Learner) readStream(path string) ([]Execution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load pattern stream: %w", err)
	}
	defer f.Close()

	var execs []Execution
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var exec Execution
		if err := json.Unmarshal([]byte(line), &exec); err != nil {
			// A torn trailing line from a crashed writer is skipped, not fatal.
			l.logger.Warn("skipping malformed pattern record", "path", path, "error", err)
			continue
		}
		execs = append(execs, exec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load pattern stream: %w", err)
	}
	return execs, nil
}

func normalizeTaskType(taskType string) string {
	return taskTypeFilePattern.ReplaceAllString(strings.ToLower(taskType), "")
}

func confidenceFor(executions int) string {
	switch {
	case executions >= 10:
		return "high"
	case executions >= 5:
		return "medium"
	default:
		return "low"
	}
}

func successRate(execs []Execution) float64 {
	if len(execs) == 0 {
		return 0
	}
	var ok int
	for _, exec := range execs {
		if exec.Outcome == OutcomeSuccess {
			ok++
		}
	}
	return float64(ok) / float64(len(execs))
}

// bestLeadAgent returns the first-position agent with the highest success
// rate, with ties broken alphabetically for determinism.
func bestLeadAgent(execs []Execution) (agent string, rate float64, count int) {
	type tally struct{ total, ok int }
	leads := make(map[string]*tally)
	for _, exec := range execs {
		if len(exec.Agents) == 0 {
			continue
		}
		t := leads[exec.Agents[0]]
		if t == nil {
			t = &tally{}
			leads[exec.Agents[0]] = t
		}
		t.total++
		if exec.Outcome == OutcomeSuccess {
			t.ok++
		}
	}

	names := make([]string, 0, len(leads))
	for name := range leads {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := leads[name]
		r := float64(t.ok) / float64(t.total)
		if r > rate {
			agent, rate, count = name, r, t.total
		}
	}
	return agent, rate, count
}

func cloneRegistry(r *Registry) *Registry {
	clone := &Registry{
		TaskTypes: make(map[string][]Execution, len(r.TaskTypes)),
		Metadata:  r.Metadata,
	}
	for taskType, execs := range r.TaskTypes {
		clone.TaskTypes[taskType] = append([]Execution(nil), execs...)
	}
	return clone
}
