package agent

// knownInjections maps injection names to the constraint files they load,
// relative to the maestro home. Unknown injection names are ignored.
var knownInjections = map[string]string{
	"architecture":  "context/architecture.md",
	"style-guide":   "context/style-guide.md",
	"project-rules": "context/project-rules.md",
}

// toolAllowLists is the static per-agent tool allow-list. Agents without an
// entry fall back to read-only tools.
var toolAllowLists = map[string][]string{
	"developer":            {"read_file", "write_file", "search", "run_tests"},
	"test-engineer":        {"read_file", "write_file", "search", "run_tests"},
	"technical-writer":     {"read_file", "write_file", "search"},
	"ui-engineer":          {"read_file", "write_file", "search"},
	"database-architect":   {"read_file", "write_file", "search", "run_sql"},
	"platform-engineer":    {"read_file", "write_file", "search", "run_shell"},
	"performance-engineer": {"read_file", "search", "run_tests", "profile"},
	"architect":            {"read_file", "search"},
	"code-reviewer":        {"read_file", "search"},
	"design-reviewer":      {"read_file", "search"},
	"security-architect":   {"read_file", "search"},
	"tech-lead":            {"read_file", "search"},
}

// defaultTools is the allow-list for agents not in the table.
var defaultTools = []string{"read_file", "search"}

// AllowedTools returns a copy of the agent's tool allow-list.
func AllowedTools(agent string) []string {
	tools, ok := toolAllowLists[agent]
	if !ok {
		tools = defaultTools
	}
	return append([]string(nil), tools...)
}
