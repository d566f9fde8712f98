package route

import (
	"sort"

	"github.com/tombee/maestro/pkg/classify"
)

// Chain is one row of the routing matrix: the ordered agent segments and the
// workflow a task type executes under.
type Chain struct {
	Primary    string   `json:"primary"`
	Supporting []string `json:"supporting,omitempty"`
	Review     []string `json:"review,omitempty"`
	Approval   []string `json:"approval,omitempty"`
	Workflow   string   `json:"workflow"`
}

// routingMatrix maps task types to their base chains.
var routingMatrix = map[string]Chain{
	"SECURITY": {
		Primary:    "security-architect",
		Supporting: []string{"developer"},
		Review:     []string{"code-reviewer"},
		Approval:   []string{"tech-lead"},
		Workflow:   "security-review",
	},
	"DATABASE": {
		Primary:    "database-architect",
		Supporting: []string{"developer"},
		Review:     []string{"code-reviewer"},
		Workflow:   "database-change",
	},
	"UI_UX": {
		Primary:    "ui-engineer",
		Supporting: []string{"developer"},
		Review:     []string{"design-reviewer", "code-reviewer"},
		Workflow:   "ui-feature",
	},
	"INFRASTRUCTURE": {
		Primary:  "platform-engineer",
		Review:   []string{"code-reviewer"},
		Approval: []string{"tech-lead"},
		Workflow: "infrastructure-change",
	},
	"PERFORMANCE": {
		Primary:    "performance-engineer",
		Supporting: []string{"developer"},
		Review:     []string{"code-reviewer"},
		Workflow:   "performance-tuning",
	},
	"TESTING": {
		Primary:  "test-engineer",
		Review:   []string{"code-reviewer"},
		Workflow: "test-improvement",
	},
	"DOCUMENTATION": {
		Primary:  "technical-writer",
		Workflow: "docs-update",
	},
	"REFACTORING": {
		Primary:    "architect",
		Supporting: []string{"developer"},
		Review:     []string{"code-reviewer"},
		Workflow:   "refactor",
	},
	"IMPLEMENTATION": {
		Primary:  "developer",
		Review:   []string{"code-reviewer"},
		Workflow: "feature-development",
	},
}

// TriggerLevel gates when a cross-cutting trigger fires.
type TriggerLevel string

const (
	TriggerAlways       TriggerLevel = "always"
	TriggerCritical     TriggerLevel = "critical"
	TriggerUITasks      TriggerLevel = "ui_tasks"
	TriggerModeratePlus TriggerLevel = "moderate_plus"
	TriggerComplexPlus  TriggerLevel = "complex_plus"
)

type crossCuttingTrigger struct {
	keywords []string
	level    TriggerLevel
}

// crossCuttingTriggers add agents to any chain when their keywords appear in
// the task and the trigger level is compatible with the classified
// complexity.
var crossCuttingTriggers = map[string]crossCuttingTrigger{
	"security-architect": {
		keywords: []string{"auth", "security", "encryption", "secret", "credential", "permission"},
		level:    TriggerAlways,
	},
	"incident-commander": {
		keywords: []string{"incident", "outage", "data loss"},
		level:    TriggerCritical,
	},
	"accessibility-reviewer": {
		keywords: []string{"accessibility", "a11y", "wcag", "screen reader"},
		level:    TriggerUITasks,
	},
	"performance-engineer": {
		keywords: []string{"performance", "latency", "scale", "throughput"},
		level:    TriggerModeratePlus,
	},
	"architect": {
		keywords: []string{"architecture", "migration", "redesign", "breaking change"},
		level:    TriggerComplexPlus,
	},
}

// compatible reports whether a trigger level fires for the classification.
func (l TriggerLevel) compatible(c *classify.Result) bool {
	switch l {
	case TriggerAlways, TriggerCritical:
		return true
	case TriggerUITasks:
		return c.TaskType == "UI_UX"
	case TriggerModeratePlus:
		return c.Complexity.Rank() >= classify.Moderate.Rank()
	case TriggerComplexPlus:
		return c.Complexity.Rank() >= classify.Complex.Rank()
	}
	return false
}

// planReviewers names the plan reviewer per task type, consulted when the
// planner gate is on.
var planReviewers = map[string]string{
	"SECURITY":       "security-architect",
	"DATABASE":       "database-architect",
	"UI_UX":          "ui-engineer",
	"INFRASTRUCTURE": "platform-engineer",
}

const defaultPlanReviewer = "architect"

// signoffsByWorkflow names the mandatory signoff roles per workflow.
var signoffsByWorkflow = map[string][]string{
	"security-review":       {"tech-lead", "security-architect"},
	"infrastructure-change": {"tech-lead"},
	"database-change":       {"database-architect"},
}

// skipLists drop agents from a task type's chain. Trivial tasks additionally
// skip the review and approval segments entirely.
var skipLists = map[string][]string{
	"DOCUMENTATION": {"code-reviewer"},
}

// Primary returns the matrix primary agent for a task type, falling back to
// the IMPLEMENTATION row.
func Primary(taskType string) string {
	if chain, ok := routingMatrix[taskType]; ok {
		return chain.Primary
	}
	return routingMatrix["IMPLEMENTATION"].Primary
}

// TaskTypes lists the task types the matrix routes, sorted.
func TaskTypes() []string {
	types := make([]string, 0, len(routingMatrix))
	for taskType := range routingMatrix {
		types = append(types, taskType)
	}
	sort.Strings(types)
	return types
}
