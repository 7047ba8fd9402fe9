package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kagenti/mcp-injector/internal/config"
	"github.com/kagenti/mcp-injector/internal/llm"
	"github.com/kagenti/mcp-injector/internal/toolregistry"
)

// kind classifies one tool call.
type kind int

const (
	kindMeta kind = iota
	kindNativeEval
	kindMCP
	kindPassThrough
)

func classify(name string) kind {
	switch {
	case name == "get_tool_schema":
		return kindMeta
	case name == "clojure-eval":
		return kindNativeEval
	case strings.HasPrefix(name, "mcp__"):
		return kindMCP
	default:
		return kindPassThrough
	}
}

// Executor executes the non-pass-through tool calls the upstream emits.
// evalEnabled gates the clojure-eval meta-tool.
type Executor struct {
	registry    *toolregistry.Registry
	servers     []*config.ServerConfig
	logger      *slog.Logger
	evalEnabled bool
}

// NewExecutor creates an executor bound to the configured servers.
func NewExecutor(registry *toolregistry.Registry, servers []*config.ServerConfig, evalEnabled bool, logger *slog.Logger) *Executor {
	return &Executor{registry: registry, servers: servers, logger: logger, evalEnabled: evalEnabled}
}

func (e *Executor) serverByID(id string) *config.ServerConfig {
	for _, sc := range e.servers {
		if sc.ID == id {
			return sc
		}
	}
	return nil
}

// Partition splits toolCalls into the ones this executor must handle
// (meta/native/mcp) versus pass-through calls the caller must execute
// itself.
func Partition(toolCalls []llm.ToolCall) (handled, passThrough []llm.ToolCall) {
	for _, tc := range toolCalls {
		if classify(tc.Function.Name) == kindPassThrough {
			passThrough = append(passThrough, tc)
		} else {
			handled = append(handled, tc)
		}
	}
	return handled, passThrough
}

// Execute runs one tool call and returns its JSON-encodable result
// content, per the classification rules above. state.Discovered is
// updated for get_tool_schema calls.
func (e *Executor) Execute(ctx context.Context, tc llm.ToolCall, state *State) any {
	var args map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return map[string]any{
				"error":   "Malformed tool arguments JSON",
				"details": err.Error(),
			}
		}
	}

	switch classify(tc.Function.Name) {
	case kindMeta:
		return e.executeGetToolSchema(ctx, args, state)
	case kindNativeEval:
		return e.executeEval(args)
	case kindMCP:
		return e.executeMCPTool(ctx, tc.Function.Name, args, state)
	default:
		// Pass-through calls never reach Execute (see Partition); this
		// path exists only for defensive completeness.
		return map[string]any{"error": "tool is not handled by this gateway"}
	}
}

func (e *Executor) executeGetToolSchema(ctx context.Context, args map[string]any, state *State) any {
	server, _ := args["server"].(string)
	tool, _ := args["tool"].(string)

	sc := e.serverByID(server)
	if sc == nil {
		return map[string]any{"error": fmt.Sprintf("unknown server %q", server)}
	}

	schema, err := e.registry.GetSchema(ctx, sc, tool)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}

	fullName := schema.FullName()
	state.Discovered[fullName] = *schema

	var inputSchema any
	if len(schema.InputSchema) > 0 {
		inputSchema = rawJSON(schema.InputSchema)
	}
	return map[string]any{
		"name":        fullName,
		"description": schema.Description,
		"inputSchema": inputSchema,
	}
}

func (e *Executor) executeEval(args map[string]any) any {
	if !e.evalEnabled {
		return map[string]any{"error": "Eval error: clojure-eval is disabled on this gateway"}
	}
	code, _ := args["code"].(string)
	result, err := evalArithmetic(code)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("Eval error: %s", err.Error())}
	}
	return result
}

// executeMCPTool implements the hallucination trap: a
// mcp__-prefixed call is only dispatched once its schema has been
// discovered in this request's state.
func (e *Executor) executeMCPTool(ctx context.Context, fullName string, args map[string]any, state *State) any {
	server, tool, ok := splitNamespacedName(fullName)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("malformed tool name %q", fullName)}
	}

	sc := e.serverByID(server)
	if sc == nil {
		return map[string]any{
			"error": fmt.Sprintf("Protocol Violation: Parameters for '%s' are unknown. You MUST call 'get_tool_schema' first to discover them.", fullName),
		}
	}

	if _, discovered := state.Discovered[fullName]; !discovered {
		return map[string]any{
			"error": fmt.Sprintf("Protocol Violation: Parameters for '%s' are unknown. You MUST call 'get_tool_schema' first to discover them.", fullName),
		}
	}

	result, err := e.registry.CallTool(ctx, sc, tool, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return result
}

// splitNamespacedName parses mcp__<server>__<tool>, splitting on the
// LAST "__" so server or tool names may themselves contain "__".
func splitNamespacedName(fullName string) (server, tool string, ok bool) {
	const prefix = "mcp__"
	if !strings.HasPrefix(fullName, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullName, prefix)
	idx := strings.LastIndex(rest, "__")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+2:], true
}
