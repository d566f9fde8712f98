package route

import "strings"

// Enforcement is the security decision attached to every routing result.
// Unlike the condition evaluator, enforcement fails closed: a blocking match
// halts the run until an approval clears it.
type Enforcement struct {
	Priority       string   `json:"priority"`
	Blocking       bool     `json:"blocking"`
	RequireSignoff bool     `json:"requireSignoff"`
	Categories     []string `json:"categories,omitempty"`
	RequiredAgents []string `json:"requiredAgents,omitempty"`
}

const (
	PriorityNone     = "none"
	PriorityElevated = "elevated"
	PriorityCritical = "critical"
)

type securityCategory struct {
	name           string
	keywords       []string
	priority       string
	blocking       bool
	requireSignoff bool
	requiredAgents []string
}

var securityCategories = []securityCategory{
	{
		name:           "authentication",
		keywords:       []string{"oauth", "jwt", "login", "sso", "authentication", "auth flow", "single sign-on"},
		priority:       PriorityCritical,
		blocking:       true,
		requireSignoff: true,
		requiredAgents: []string{"security-architect"},
	},
	{
		name:           "secrets-management",
		keywords:       []string{"secret", "credential", "api key", "private key", "password storage"},
		priority:       PriorityCritical,
		blocking:       true,
		requireSignoff: true,
		requiredAgents: []string{"security-architect"},
	},
	{
		name:           "encryption",
		keywords:       []string{"encrypt", "decrypt", "tls", "cryptograph", "key rotation"},
		priority:       PriorityCritical,
		blocking:       true,
		requireSignoff: true,
		requiredAgents: []string{"security-architect"},
	},
	{
		name:           "access-control",
		keywords:       []string{"permission", "rbac", "acl", "access control", "authorization"},
		priority:       PriorityElevated,
		requireSignoff: true,
		requiredAgents: []string{"security-architect"},
	},
	{
		name:           "input-validation",
		keywords:       []string{"injection", "xss", "csrf", "sanitiz", "untrusted input"},
		priority:       PriorityElevated,
		requiredAgents: []string{"security-architect"},
	},
}

// enforceSecurity scans the task for security categories and merges the
// matched categories into a single decision.
func enforceSecurity(lower string) Enforcement {
	decision := Enforcement{Priority: PriorityNone}
	agents := make(map[string]struct{})

	for _, category := range securityCategories {
		if !matchesAny(lower, category.keywords) {
			continue
		}
		decision.Categories = append(decision.Categories, category.name)
		decision.Blocking = decision.Blocking || category.blocking
		decision.RequireSignoff = decision.RequireSignoff || category.requireSignoff
		if priorityRank(category.priority) > priorityRank(decision.Priority) {
			decision.Priority = category.priority
		}
		for _, agent := range category.requiredAgents {
			if _, ok := agents[agent]; !ok {
				agents[agent] = struct{}{}
				decision.RequiredAgents = append(decision.RequiredAgents, agent)
			}
		}
	}
	return decision
}

func matchesAny(lower string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func priorityRank(priority string) int {
	switch priority {
	case PriorityCritical:
		return 2
	case PriorityElevated:
		return 1
	}
	return 0
}
