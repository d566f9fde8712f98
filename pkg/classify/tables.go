package classify

import "regexp"

// Complexity levels, ordered from trivial to critical.
type Complexity string

const (
	Trivial  Complexity = "trivial"
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
	Critical Complexity = "critical"
)

// complexityOrder ranks levels for clamping and comparisons.
var complexityOrder = []Complexity{Trivial, Simple, Moderate, Complex, Critical}

// Rank returns the ordinal of the complexity level.
func (c Complexity) Rank() int {
	for i, level := range complexityOrder {
		if level == c {
			return i
		}
	}
	return -1
}

// AtLeast clamps c up to the floor level.
func (c Complexity) AtLeast(floor Complexity) Complexity {
	if c.Rank() < floor.Rank() {
		return floor
	}
	return c
}

// atMost clamps c down to the cap level.
func (c Complexity) atMost(cap Complexity) Complexity {
	if c.Rank() > cap.Rank() {
		return cap
	}
	return c
}

// Gates are the mandatory quality gates derived from complexity.
type Gates struct {
	Planner        bool `json:"planner"`
	Review         bool `json:"review"`
	ImpactAnalysis bool `json:"impactAnalysis"`
}

// gatesByComplexity is the fixed complexity-to-gates table.
var gatesByComplexity = map[Complexity]Gates{
	Trivial:  {},
	Simple:   {Review: true},
	Moderate: {Planner: true, Review: true},
	Complex:  {Planner: true, Review: true, ImpactAnalysis: true},
	Critical: {Planner: true, Review: true, ImpactAnalysis: true},
}

// scoreTable pairs keywords (weight 1) with regex patterns (weight 1.5).
type scoreTable struct {
	keywords []string
	patterns []*regexp.Regexp
}

const (
	keywordWeight = 1.0
	patternWeight = 1.5
)

// complexityTables score each complexity level against the description.
var complexityTables = map[Complexity]scoreTable{
	Trivial: {
		keywords: []string{"typo", "readme", "comment", "whitespace", "rename variable", "changelog"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bfix(?:ing)?\s+(?:a\s+)?typo\b`),
			regexp.MustCompile(`(?i)\bupdate\s+(?:the\s+)?docs?\b`),
		},
	},
	Simple: {
		keywords: []string{"small", "minor", "tweak", "adjust", "bump", "simple"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bsmall\s+(?:fix|change)\b`),
			regexp.MustCompile(`(?i)\bone[- ]liner?\b`),
		},
	},
	Moderate: {
		keywords: []string{"add", "implement", "update", "extend", "endpoint", "feature"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\badd\s+(?:a\s+)?(?:new\s+)?feature\b`),
			regexp.MustCompile(`(?i)\bimplement\s+\w+`),
		},
	},
	Complex: {
		keywords: []string{"refactor", "redesign", "migrate", "migration", "architecture", "integrate", "overhaul"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\brefactor(?:ing)?\s+\w+`),
			regexp.MustCompile(`(?i)\bacross\s+(?:multiple|all)\s+\w+`),
			regexp.MustCompile(`(?i)\bbreaking\s+changes?\b`),
		},
	},
	Critical: {
		keywords: []string{"production incident", "outage", "data loss", "vulnerability", "exploit", "urgent", "hotfix"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bsecurity\s+(?:audit|incident|breach)\b`),
			regexp.MustCompile(`(?i)\bcve-\d{4}-\d+\b`),
		},
	},
}

// taskTypeEntry declares a task type, its routing agent, and its scoring
// table. Priority breaks score ties deterministically (lower wins).
type taskTypeEntry struct {
	taskType     string
	primaryAgent string
	priority     int
	table        scoreTable
}

// taskTypeTables score each task type. Order is the declared priority order.
var taskTypeTables = []taskTypeEntry{
	{
		taskType:     "SECURITY",
		primaryAgent: "security-architect",
		priority:     1,
		table: scoreTable{
			keywords: []string{"security", "auth", "authentication", "authorization", "login", "password", "oauth", "jwt", "encryption", "vulnerability", "credential"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\baccess\s+control\b`),
				regexp.MustCompile(`(?i)\bpenetration\s+test`),
			},
		},
	},
	{
		taskType:     "DATABASE",
		primaryAgent: "database-architect",
		priority:     2,
		table: scoreTable{
			keywords: []string{"database", "schema", "migration", "sql", "query", "index", "table"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bdata\s+model\b`),
				regexp.MustCompile(`(?i)\b(?:postgres|sqlite|mysql)\b`),
			},
		},
	},
	{
		taskType:     "UI_UX",
		primaryAgent: "ui-engineer",
		priority:     3,
		table: scoreTable{
			keywords: []string{"frontend", "component", "layout", "css", "styling", "accessibility", "design"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bu[ix]\b`),
				regexp.MustCompile(`(?i)\buser\s+interface\b`),
				regexp.MustCompile(`(?i)\bresponsive\b`),
			},
		},
	},
	{
		taskType:     "INFRASTRUCTURE",
		primaryAgent: "platform-engineer",
		priority:     4,
		table: scoreTable{
			keywords: []string{"deploy", "deployment", "pipeline", "docker", "kubernetes", "terraform", "infrastructure"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bci/cd\b`),
				regexp.MustCompile(`(?i)\bgithub\s+actions\b`),
			},
		},
	},
	{
		taskType:     "PERFORMANCE",
		primaryAgent: "performance-engineer",
		priority:     5,
		table: scoreTable{
			keywords: []string{"performance", "latency", "slow", "optimize", "optimization", "memory leak", "profiling"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bp\d{2}\s+latency\b`),
			},
		},
	},
	{
		taskType:     "TESTING",
		primaryAgent: "test-engineer",
		priority:     6,
		table: scoreTable{
			keywords: []string{"test", "tests", "coverage", "unit test", "integration test", "e2e", "flaky"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\btest\s+suite\b`),
			},
		},
	},
	{
		taskType:     "DOCUMENTATION",
		primaryAgent: "technical-writer",
		priority:     7,
		table: scoreTable{
			keywords: []string{"documentation", "docs", "readme", "typo", "guide", "tutorial", "changelog"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bapi\s+reference\b`),
			},
		},
	},
	{
		taskType:     "REFACTORING",
		primaryAgent: "architect",
		priority:     8,
		table: scoreTable{
			keywords: []string{"refactor", "refactoring", "cleanup", "restructure", "tech debt", "simplify"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bextract\s+(?:method|function|module)\b`),
			},
		},
	},
	{
		taskType:     "IMPLEMENTATION",
		primaryAgent: "developer",
		priority:     9,
		table: scoreTable{
			keywords: []string{"implement", "add", "build", "create", "feature", "endpoint", "fix", "bug"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bnew\s+feature\b`),
			},
		},
	},
}

// securityFloorPatterns clamp complexity to at least complex when matched.
var securityFloorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bauth\w*`),
	regexp.MustCompile(`(?i)\bpassword\b`),
	regexp.MustCompile(`(?i)\bcredential`),
	regexp.MustCompile(`(?i)\btoken\b`),
	regexp.MustCompile(`(?i)\boauth\b`),
	regexp.MustCompile(`(?i)\bjwt\b`),
	regexp.MustCompile(`(?i)\bencryption\b`),
	regexp.MustCompile(`(?i)\bsecret`),
	regexp.MustCompile(`(?i)\bpermission`),
	regexp.MustCompile(`(?i)\baccess\s+control\b`),
}

// file-scope hints from the description.
var (
	singleFileHint   = regexp.MustCompile(`(?i)\bsingle\s+file\b`)
	multipleFileHint = regexp.MustCompile(`(?i)\bmultiple\s+files\b`)
)
