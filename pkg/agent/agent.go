// Package agent builds the execution context handed to an executor adapter:
// the system prompt assembled from the agent's persona and named constraint
// injections, the prior message history, and the agent's tool allow-list.
package agent

// Message represents a message in the conversation history.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// Context is the fully assembled input for one executor invocation.
type Context struct {
	// SystemPrompt is persona + constraints + task block
	SystemPrompt string `json:"system_prompt"`

	// Messages is the prior conversation history (may be empty)
	Messages []Message `json:"messages"`

	// Tools is the agent's static tool allow-list
	Tools []string `json:"tools"`
}

// Packet optionally narrows a step to an explicit goal and completion
// criteria. Goal and DefinitionOfDone are mandatory when a packet is used.
type Packet struct {
	Goal             string   `json:"goal"`
	Constraints      []string `json:"constraints,omitempty"`
	References       []string `json:"references,omitempty"`
	DefinitionOfDone string   `json:"definitionOfDone"`
}

// Request identifies the step a context is being built for.
type Request struct {
	Agent      string
	RunID      string
	Step       int
	Task       string
	Injections []string
	History    []Message
	Packet     *Packet
}
