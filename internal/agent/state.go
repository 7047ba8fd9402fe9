package agent

import (
	"github.com/kagenti/mcp-injector/internal/llm"
	"github.com/kagenti/mcp-injector/internal/toolregistry"
)

// State is scoped to a single caller request; the handler constructs
// one per request, shares it across every Loop.Run of a virtual-model
// provider chain, and discards it afterward.
type State struct {
	// Messages is the conversation so far; grows with each iteration.
	Messages []llm.Message

	// Discovered maps a namespaced tool name (mcp__server__tool) to its
	// schema, for tools whose schema was fetched via get_tool_schema
	// during this request.
	Discovered map[string]toolregistry.Schema

	// Iteration is the strictly increasing, cap-bounded loop counter.
	Iteration int
}

// NewState creates agent state seeded with the prepared conversation.
func NewState(messages []llm.Message) *State {
	return &State{
		Messages:   messages,
		Discovered: map[string]toolregistry.Schema{},
	}
}

// DiscoveredTools renders the discovered map as a Tool list, for
// rebuilding the outbound tools array each iteration.
func (s *State) DiscoveredTools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(s.Discovered))
	for name, schema := range s.Discovered {
		var params any
		if len(schema.InputSchema) > 0 {
			params = rawJSON(schema.InputSchema)
		}
		tools = append(tools, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        name,
				Description: schema.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}
