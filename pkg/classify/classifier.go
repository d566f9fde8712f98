// Package classify scores task descriptions into a complexity level, a task
// type, and the quality gates the orchestrator must enforce for the task.
package classify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Result is the outcome of classifying a task.
type Result struct {
	Complexity   Complexity `json:"complexity"`
	TaskType     string     `json:"taskType"`
	PrimaryAgent string     `json:"primaryAgent"`
	Gates        Gates      `json:"gates"`

	Files             []string `json:"files,omitempty"`
	FileCount         int      `json:"fileCount"`
	CrossModule       bool     `json:"crossModule"`
	SecuritySensitive bool     `json:"securitySensitive"`

	// Reasoning records, in order, every signal that shaped the outcome.
	Reasoning []string `json:"reasoning"`
}

// Classifier scores task descriptions against the keyword and pattern tables
// and adjusts for the files the task touches.
type Classifier struct {
	logger *slog.Logger
	root   string
	now    func() time.Time
	files  *fileResolver
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// WithRoot sets the project root that file patterns resolve against.
func WithRoot(root string) Option {
	return func(c *Classifier) { c.root = root }
}

// WithClock overrides the clock, used by tests to age the glob cache.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// New creates a Classifier rooted at the current directory by default.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		logger: slog.Default(),
		root:   ".",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.files = newFileResolver(c.root, c.logger, c.now)
	return c
}

// EvictCaches drops the glob resolution cache.
func (c *Classifier) EvictCaches() {
	c.files.evict()
}

// Classify scores a task description and its file patterns. The returned
// reasoning lists every adjustment in the order it was applied.
func (c *Classifier) Classify(description string, filePatterns []string) (*Result, error) {
	description, err := sanitizeDescription(description)
	if err != nil {
		return nil, err
	}
	if err := validateFilePatterns(filePatterns); err != nil {
		return nil, err
	}

	result := &Result{}
	lower := strings.ToLower(description)

	result.Complexity = c.scoreComplexity(description, lower, result)
	c.scoreTaskType(description, lower, result)

	result.Files = c.files.resolve(filePatterns)
	result.FileCount = len(result.Files)
	result.CrossModule = crossModule(filePatterns, result.Files)
	c.adjustForFiles(result)
	c.adjustForHints(lower, result)
	c.applySecurityFloor(lower, result)

	result.Gates = gatesByComplexity[result.Complexity]
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("Gates for %s: planner=%t review=%t impactAnalysis=%t",
			result.Complexity, result.Gates.Planner, result.Gates.Review, result.Gates.ImpactAnalysis))

	c.logger.Debug("task classified",
		"complexity", result.Complexity,
		"task_type", result.TaskType,
		"agent", result.PrimaryAgent,
		"files", result.FileCount,
		"cross_module", result.CrossModule)
	return result, nil
}

// scoreComplexity picks the highest-scoring complexity level. Ties resolve
// toward the higher level; no signal at all defaults to moderate.
func (c *Classifier) scoreComplexity(description, lower string, result *Result) Complexity {
	best := Moderate
	bestScore := 0.0
	for _, level := range complexityOrder {
		score := complexityTables[level].score(description, lower)
		if score > 0 && score >= bestScore {
			best = level
			bestScore = score
		}
	}

	if bestScore == 0 {
		result.Reasoning = append(result.Reasoning, "No complexity signals matched; defaulting to moderate")
	} else {
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("Description scored %.1f for %s complexity", bestScore, best))
	}
	return best
}

// scoreTaskType picks the highest-scoring task type; ties resolve by the
// declared priority order. No signal defaults to IMPLEMENTATION.
func (c *Classifier) scoreTaskType(description, lower string, result *Result) {
	best := taskTypeTables[len(taskTypeTables)-1]
	bestScore := 0.0
	for _, entry := range taskTypeTables {
		score := entry.table.score(description, lower)
		if score > bestScore {
			best = entry
			bestScore = score
		}
	}

	result.TaskType = best.taskType
	result.PrimaryAgent = best.primaryAgent
	if bestScore == 0 {
		result.Reasoning = append(result.Reasoning, "No task type signals matched; defaulting to IMPLEMENTATION")
	} else {
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("Description scored %.1f for %s, routed to %s", bestScore, best.taskType, best.primaryAgent))
	}
}

// adjustForFiles applies the file-count rules. Critical is never downgraded.
func (c *Classifier) adjustForFiles(result *Result) {
	if result.CrossModule {
		result.Reasoning = append(result.Reasoning, "Cross-module changes detected")
	}

	before := result.Complexity
	switch {
	case result.FileCount >= 6 || result.CrossModule:
		result.Complexity = result.Complexity.AtLeast(Complex)
	case result.FileCount >= 2:
		result.Complexity = result.Complexity.AtLeast(Moderate)
	case result.FileCount == 1 && before != Critical:
		result.Complexity = result.Complexity.atMost(Simple)
	}

	if result.Complexity != before {
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("File scope (%d files) adjusted complexity from %s to %s",
				result.FileCount, before, result.Complexity))
	}
}

// adjustForHints applies explicit file-scope hints from the description.
func (c *Classifier) adjustForHints(lower string, result *Result) {
	before := result.Complexity
	switch {
	case singleFileHint.MatchString(lower) && before != Critical && before.Rank() > Trivial.Rank():
		result.Complexity = complexityOrder[before.Rank()-1]
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("Single-file hint lowered complexity from %s to %s", before, result.Complexity))
	case multipleFileHint.MatchString(lower) && before.Rank() < Critical.Rank():
		result.Complexity = complexityOrder[before.Rank()+1]
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("Multiple-file hint raised complexity from %s to %s", before, result.Complexity))
	}
}

// applySecurityFloor clamps security-sensitive tasks to at least complex.
func (c *Classifier) applySecurityFloor(lower string, result *Result) {
	for _, pattern := range securityFloorPatterns {
		if pattern.MatchString(lower) {
			result.SecuritySensitive = true
			break
		}
	}
	if !result.SecuritySensitive {
		return
	}

	before := result.Complexity
	result.Complexity = result.Complexity.AtLeast(Complex)
	if result.Complexity != before {
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("Security-sensitive keywords raised complexity from %s to %s", before, result.Complexity))
	} else {
		result.Reasoning = append(result.Reasoning, "Security-sensitive keywords detected")
	}
}

// score sums keyword hits (weight 1) and pattern hits (weight 1.5).
func (t scoreTable) score(description, lower string) float64 {
	score := 0.0
	for _, keyword := range t.keywords {
		if strings.Contains(lower, keyword) {
			score += keywordWeight
		}
	}
	for _, pattern := range t.patterns {
		if pattern.MatchString(description) {
			score += patternWeight
		}
	}
	return score
}
