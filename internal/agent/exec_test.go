package agent

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-injector/internal/config"
	"github.com/kagenti/mcp-injector/internal/llm"
	"github.com/kagenti/mcp-injector/internal/toolregistry"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHallucinationTrap_UndiscoveredMCPCallIsRejected(t *testing.T) {
	registry := toolregistry.New(silentLogger())
	servers := []*config.ServerConfig{{ID: "stripe"}}
	executor := NewExecutor(registry, servers, false, silentLogger())
	state := NewState(nil)

	tc := llm.ToolCall{
		ID:   "1",
		Type: "function",
		Function: llm.ToolCallFunction{
			Name:      "mcp__stripe__retrieve_customer",
			Arguments: `{"customer_id":"c1"}`,
		},
	}

	result := executor.Execute(context.Background(), tc, state)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, resultMap["error"], "Protocol Violation")
}

func TestHallucinationTrap_DiscoveredToolNameIsAllowedThrough(t *testing.T) {
	registry := toolregistry.New(silentLogger())
	servers := []*config.ServerConfig{{ID: "stripe"}}
	executor := NewExecutor(registry, servers, false, silentLogger())
	state := NewState(nil)

	fullName := "mcp__stripe__retrieve_customer"
	state.Discovered[fullName] = toolregistry.Schema{Server: "stripe", Tool: "retrieve_customer"}

	server, tool, ok := splitNamespacedName(fullName)
	require.True(t, ok)
	assert.Equal(t, "stripe", server)
	assert.Equal(t, "retrieve_customer", tool)

	_, discovered := state.Discovered[fullName]
	assert.True(t, discovered)

	tc := llm.ToolCall{
		ID:   "1",
		Type: "function",
		Function: llm.ToolCallFunction{
			Name:      fullName,
			Arguments: `{"customer_id":"c1"}`,
		},
	}

	// The server has no reachable endpoint, so dispatch fails with a
	// transport error rather than the hallucination trap's violation.
	result := executor.Execute(context.Background(), tc, state)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, resultMap["error"], "Protocol Violation")
}

func TestExecute_MalformedArgumentsJSON(t *testing.T) {
	registry := toolregistry.New(silentLogger())
	executor := NewExecutor(registry, nil, false, silentLogger())
	state := NewState(nil)

	tc := llm.ToolCall{
		ID:   "1",
		Type: "function",
		Function: llm.ToolCallFunction{
			Name:      "mcp__stripe__retrieve_customer",
			Arguments: `{not json`,
		},
	}

	result := executor.Execute(context.Background(), tc, state)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Malformed tool arguments JSON", resultMap["error"])
}

func TestSplitNamespacedName_SplitsOnLastDoubleUnderscore(t *testing.T) {
	server, tool, ok := splitNamespacedName("mcp__my__server__my_tool")
	require.True(t, ok)
	assert.Equal(t, "my__server", server)
	assert.Equal(t, "my_tool", tool)
}

func TestPartition_SeparatesPassThroughFromHandled(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "1", Function: llm.ToolCallFunction{Name: "get_tool_schema"}},
		{ID: "2", Function: llm.ToolCallFunction{Name: "caller_owned_tool"}},
		{ID: "3", Function: llm.ToolCallFunction{Name: "mcp__server__tool"}},
	}

	handled, passThrough := Partition(calls)

	require.Len(t, handled, 2)
	require.Len(t, passThrough, 1)
	assert.Equal(t, "caller_owned_tool", passThrough[0].Function.Name)
}

func TestClojureEval_DisabledByDefault(t *testing.T) {
	registry := toolregistry.New(silentLogger())
	executor := NewExecutor(registry, nil, false, silentLogger())
	state := NewState(nil)

	tc := llm.ToolCall{
		ID:       "1",
		Function: llm.ToolCallFunction{Name: "clojure-eval", Arguments: `{"code":"(+ 1 2)"}`},
	}

	result := executor.Execute(context.Background(), tc, state)
	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, resultMap["error"], "disabled")
}

func TestClojureEval_EnabledEvaluatesArithmetic(t *testing.T) {
	result, err := evalArithmetic("(1 + 2) * 3")
	require.NoError(t, err)
	assert.Equal(t, "9", result)
}

func TestClojureEval_RejectsNonArithmeticSyntax(t *testing.T) {
	_, err := evalArithmetic(`os.Exit(1)`)
	assert.Error(t, err)
}
