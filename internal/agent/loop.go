// Package agent implements the per-request agent loop: iterative
// upstream calls interleaved with tool-call execution.
package agent

import (
	"context"
	"encoding/json"

	"github.com/kagenti/mcp-injector/internal/llm"
)

const maxIterationsMessage = "Maximum iterations reached. Here's what I found so far:"

// Loop runs the agent loop for one caller request.
type Loop struct {
	client        *llm.Client
	executor      *Executor
	metaTools     []llm.Tool
	maxIterations int
}

// NewLoop creates a loop bound to client and executor. metaTools is
// attached to every outbound request via llm.Prepare.
func NewLoop(client *llm.Client, executor *Executor, metaTools []llm.Tool, maxIterations int) *Loop {
	return &Loop{
		client:        client,
		executor:      executor,
		metaTools:     metaTools,
		maxIterations: maxIterations,
	}
}

// Run executes the loop against req's conversation, resetting
// state.Messages to req.Messages and state.Iteration to 0 on entry,
// returning the terminal Result. fallbacks
// is attached to every outbound request via llm.Prepare; callers routing
// through a virtual model must pass nil, since virtual and upstream
// fallbacks are mutually exclusive.
func (l *Loop) Run(ctx context.Context, req llm.ChatRequest, fallbacks []string, state *State) llm.Result {
	state.Messages = req.Messages
	state.Iteration = 0

	for {
		if state.Iteration >= l.maxIterations {
			return l.maxIterationsResult(req)
		}

		outbound := req
		outbound.Messages = state.Messages
		prepared := llm.Prepare(outbound, fallbacks, l.metaTools, state.DiscoveredTools())

		result := l.client.Send(ctx, prepared)
		if !result.Success {
			return result
		}

		if len(result.Data.Choices) == 0 {
			return result
		}
		msg := result.Data.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			return result
		}

		handled, passThrough := Partition(msg.ToolCalls)
		if len(handled) == 0 || len(passThrough) > 0 {
			// Any pass-through tool call, alone or alongside handled
			// ones, must reach the caller unmodified so it can execute
			// or answer it itself.
			return result
		}

		state.Messages = append(state.Messages, msg)
		for _, tc := range handled {
			toolResult := l.executor.Execute(ctx, tc, state)
			content, _ := json.Marshal(toolResult)
			state.Messages = append(state.Messages, llm.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
				Content:    string(content),
			})
		}

		state.Iteration++
	}
}

// maxIterationsResult synthesizes the terminal "Maximum iterations
// reached" response. This is a successful response, not a 5xx: the
// caller asked a question and got a partial, truthful answer.
func (l *Loop) maxIterationsResult(req llm.ChatRequest) llm.Result {
	return llm.Result{
		Success: true,
		Status:  200,
		Data: &llm.ChatResponse{
			Model: req.Model,
			Choices: []llm.Choice{{
				Index: 0,
				Message: llm.Message{
					Role:    "assistant",
					Content: maxIterationsMessage,
				},
				FinishReason: "length",
			}},
		},
	}
}
