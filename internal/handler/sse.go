package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kagenti/mcp-injector/internal/llm"
)

// chunk mirrors one OpenAI-compatible chat.completion.chunk event.
type chunk struct {
	ID      string  `json:"id,omitempty"`
	Object  string  `json:"object"`
	Model   string  `json:"model"`
	Choices []delta `json:"choices"`
}

type delta struct {
	Index        int          `json:"index"`
	Delta        deltaContent `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

type deltaContent struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
}

// writeSSE synthesizes the SSE stream encoding of resp's final message,
// as a sequence of chat.completion.chunk events.
func writeSSE(w http.ResponseWriter, resp *llm.ChatResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	var msg llm.Message
	if len(resp.Choices) > 0 {
		msg = resp.Choices[0].Message
	}

	writeEvent(w, chunk{
		Object: "chat.completion.chunk",
		Model:  resp.Model,
		Choices: []delta{{
			Index:        0,
			Delta:        deltaContent{Role: "assistant"},
			FinishReason: nil,
		}},
	})

	if msg.Content != "" {
		writeEvent(w, chunk{
			Object: "chat.completion.chunk",
			Model:  resp.Model,
			Choices: []delta{{
				Index:        0,
				Delta:        deltaContent{Content: msg.Content},
				FinishReason: nil,
			}},
		})
	}

	if len(msg.ToolCalls) > 0 {
		writeEvent(w, chunk{
			Object: "chat.completion.chunk",
			Model:  resp.Model,
			Choices: []delta{{
				Index:        0,
				Delta:        deltaContent{ToolCalls: msg.ToolCalls},
				FinishReason: nil,
			}},
		})
	}

	finishReason := "stop"
	if len(msg.ToolCalls) > 0 {
		finishReason = "tool_calls"
	}
	writeEvent(w, finalChunk{
		Object: "chat.completion.chunk",
		Model:  resp.Model,
		Choices: []delta{{
			Index:        0,
			Delta:        deltaContent{},
			FinishReason: &finishReason,
		}},
		Usage: resp.Usage,
	})

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// finalChunk adds the usage object carried only by the terminal event.
type finalChunk struct {
	Object  string    `json:"object"`
	Model   string    `json:"model"`
	Choices []delta   `json:"choices"`
	Usage   llm.Usage `json:"usage"`
}

func writeEvent(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// writeChatError packages an error as a JSON body with a status code
// when not streaming, or an SSE error-then-[DONE] body when streaming,
// with the HTTP status reflecting the translated status.
func writeChatError(w http.ResponseWriter, streaming bool, status int, errType llm.ErrorType, message string, details any) {
	body := map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	}
	if details != nil {
		body["error"].(map[string]any)["details"] = details
	}

	if !streaming {
		writeJSONError(w, status, errType, message, details)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(status)
	data, _ := json.Marshal(body)
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeJSONError(w http.ResponseWriter, status int, errType llm.ErrorType, message string, details any) {
	body := map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	}
	if details != nil {
		body["error"].(map[string]any)["details"] = details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
