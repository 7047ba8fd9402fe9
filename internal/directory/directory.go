// Package directory builds the system message that advertises MCP tools
// to the upstream, and the meta-tool definitions appended to every
// outbound request (get_tool_schema always, clojure-eval only when
// enabled).
package directory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kagenti/mcp-injector/internal/config"
	"github.com/kagenti/mcp-injector/internal/llm"
	"github.com/kagenti/mcp-injector/internal/toolregistry"
)

const protocolNotice = `## Remote Capabilities (Injected)
You have access to namespaced tools (prefix: mcp__).

### Remote Directory:
%s

### CALL PROTOCOL:
1. IDENTIFY tool in the directory above.
2. DISCOVER: Call get_tool_schema(server, tool) to get parameters.
3. EXECUTE: Call mcp__<server>__<tool>(...) with the discovered parameters.

DO NOT guess parameters for mcp__ tools. You MUST discover them first via get_tool_schema.`

// Message builds the system-role directory message for the given
// per-server tool lists. Returns "", false if servers is empty (spec
// §4.4: injection is skipped when no servers are configured).
func Message(servers []*config.ServerConfig, toolsByServer map[string][]toolregistry.Schema) (string, bool) {
	if len(servers) == 0 {
		return "", false
	}

	ids := make([]string, 0, len(servers))
	for _, sc := range servers {
		ids = append(ids, sc.ID)
	}
	sort.Strings(ids)

	var lines []string
	for _, id := range ids {
		tools := toolsByServer[id]
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Tool)
		}
		lines = append(lines, fmt.Sprintf("- mcp__%s: %s", id, strings.Join(names, ", ")))
	}

	return fmt.Sprintf(protocolNotice, strings.Join(lines, "\n")), true
}

// GetToolSchemaFunction is the get_tool_schema meta-tool's function
// definition, always present in the outbound tools array.
func GetToolSchemaFunction() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        "get_tool_schema",
			Description: "Return the input schema of a named tool on a named MCP server.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"server": map[string]any{"type": "string"},
					"tool":   map[string]any{"type": "string"},
				},
				"required": []string{"server", "tool"},
			},
		},
	}
}

// ClojureEvalFunction is the clojure-eval meta-tool's function
// definition. Gated by evalEnabled: disabled by default, and when
// enabled its execution is restricted to a sandboxed arithmetic
// expression language (see internal/agent's evalArithmetic), not
// arbitrary host code.
func ClojureEvalFunction() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        "clojure-eval",
			Description: "Evaluate a host-language expression and return its printed result.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{"type": "string"},
				},
				"required": []string{"code"},
			},
		},
	}
}

// MetaTools returns the meta-tool function definitions to append to
// every outbound request's tools array. evalEnabled gates clojure-eval
// behind its explicit opt-in.
func MetaTools(evalEnabled bool) []llm.Tool {
	tools := []llm.Tool{GetToolSchemaFunction()}
	if evalEnabled {
		tools = append(tools, ClojureEvalFunction())
	}
	return tools
}
