// Package route turns a classified task into an ordered agent chain with
// reviewers, signoffs, and a security decision.
package route

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/tombee/maestro/internal/util"
	"github.com/tombee/maestro/pkg/classify"
	"github.com/tombee/maestro/pkg/patterns"
)

// Advisor supplies advisory routing suggestions from recorded executions.
type Advisor interface {
	SuggestRoutingImprovement(task, taskType string, currentChain []string) (*patterns.Suggestion, error)
}

// Result is the routing decision for one task.
type Result struct {
	Classification *classify.Result `json:"classification"`
	Workflow       string           `json:"workflow"`
	FullChain      []string         `json:"fullChain"`
	CrossCutting   []string         `json:"crossCutting,omitempty"`
	PlanReviewer   string           `json:"planReviewer,omitempty"`
	Signoffs       []string         `json:"signoffs,omitempty"`
	Security       Enforcement      `json:"securityEnforcement"`

	// Blocked halts the stepper until an approval clears the run.
	Blocked bool `json:"blocked"`

	// Suggestion is advisory only; the matrix is never overridden silently.
	Suggestion *patterns.Suggestion `json:"patternSuggestion,omitempty"`
}

// Router resolves tasks against the routing matrix.
type Router struct {
	classifier *classify.Classifier
	advisor    Advisor
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithAdvisor attaches a pattern learner for advisory suggestions.
func WithAdvisor(advisor Advisor) Option {
	return func(r *Router) { r.advisor = advisor }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New creates a Router on top of a classifier.
func New(classifier *classify.Classifier, opts ...Option) *Router {
	r := &Router{
		classifier: classifier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route classifies the task and builds its execution chain.
func (r *Router) Route(description string, filePatterns []string) (*Result, error) {
	classification, err := r.classifier.Classify(description, filePatterns)
	if err != nil {
		return nil, err
	}

	chain, ok := routingMatrix[classification.TaskType]
	if !ok {
		chain = routingMatrix["IMPLEMENTATION"]
	}

	lower := strings.ToLower(description)
	result := &Result{
		Classification: classification,
		Workflow:       chain.Workflow,
		CrossCutting:   r.crossCutting(lower, classification),
		Security:       enforceSecurity(lower),
	}

	if classification.Gates.Planner {
		result.PlanReviewer = planReviewers[classification.TaskType]
		if result.PlanReviewer == "" {
			result.PlanReviewer = defaultPlanReviewer
		}
	}

	result.Signoffs = append([]string(nil), signoffsByWorkflow[chain.Workflow]...)
	if result.Security.RequireSignoff {
		result.Signoffs = append(result.Signoffs, "security-architect")
	}
	result.Signoffs = util.Dedupe(result.Signoffs)

	result.FullChain = r.buildChain(chain, classification, result)
	if result.Security.Blocking {
		result.Blocked = true
		r.logger.Warn("routing blocked by security enforcement",
			"priority", result.Security.Priority,
			"categories", result.Security.Categories)
	}

	r.consultAdvisor(description, result)
	return result, nil
}

// buildChain assembles primary, supporting, cross-cutting, review, and
// approval segments in order, honouring skip lists. Security enforcement
// wins over skips: required agents are always present.
func (r *Router) buildChain(chain Chain, classification *classify.Result, result *Result) []string {
	ordered := []string{chain.Primary}
	ordered = append(ordered, chain.Supporting...)
	ordered = append(ordered, result.CrossCutting...)

	if classification.Complexity != classify.Trivial {
		ordered = append(ordered, chain.Review...)
		ordered = append(ordered, chain.Approval...)
	}
	ordered = append(ordered, result.Security.RequiredAgents...)

	skipped := make(map[string]struct{})
	required := make(map[string]struct{})
	for _, agent := range skipLists[classification.TaskType] {
		skipped[agent] = struct{}{}
	}
	for _, agent := range result.Security.RequiredAgents {
		required[agent] = struct{}{}
	}

	filtered := ordered[:0]
	for _, agent := range ordered {
		if _, skip := skipped[agent]; skip {
			if _, keep := required[agent]; !keep {
				continue
			}
		}
		filtered = append(filtered, agent)
	}
	return util.Dedupe(filtered)
}

// crossCutting returns the triggered agents in deterministic order.
func (r *Router) crossCutting(lower string, classification *classify.Result) []string {
	agents := make([]string, 0, len(crossCuttingTriggers))
	for agent := range crossCuttingTriggers {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	var triggered []string
	for _, agent := range agents {
		trigger := crossCuttingTriggers[agent]
		if trigger.level.compatible(classification) && matchesAny(lower, trigger.keywords) {
			triggered = append(triggered, agent)
		}
	}
	return triggered
}

// consultAdvisor attaches a pattern suggestion. Advisory reads never fail
// the routing call.
func (r *Router) consultAdvisor(description string, result *Result) {
	if r.advisor == nil {
		return
	}
	suggestion, err := r.advisor.SuggestRoutingImprovement(description, result.Classification.TaskType, result.FullChain)
	if err != nil {
		r.logger.Warn("pattern suggestion unavailable", "error", err)
		return
	}
	result.Suggestion = suggestion
}
