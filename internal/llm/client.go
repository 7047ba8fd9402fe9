package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// requestTimeout is the upstream HTTP call timeout.
const requestTimeout = 60 * time.Second

// Result is the outcome of one upstream chat-completion call.
type Result struct {
	Success bool
	Status  int
	Data    *ChatResponse
	Error   *ErrorBody
}

// ErrorBody is the caller-facing error shape.
type ErrorBody struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// Client issues chat-completion calls to one upstream base URL.
type Client struct {
	baseURL string
	http    *http.Client
	stats   *StatsTracker
}

// NewClient creates a client bound to baseURL.
func NewClient(baseURL string, stats *StatsTracker) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		stats:   stats,
	}
}

// Prepare transforms the caller's payload before send:
// forces stream=false and drops stream_options, attaches the fallbacks
// array, sets tools to metaTools ∪ discovered ∪ callerTools deduplicated
// by name in first-seen order, and strips any tool-call index field.
func Prepare(req ChatRequest, fallbacks []string, metaTools []Tool, discovered []Tool) ChatRequest {
	out := req
	out.Stream = false
	out.StreamOptions = nil
	out.Fallbacks = fallbacks

	out.Tools = dedupeTools(metaTools, discovered, req.Tools)

	out.Messages = make([]Message, len(req.Messages))
	for i, m := range req.Messages {
		if len(m.ToolCalls) > 0 {
			stripped := make([]ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				tc.Index = nil
				stripped[j] = tc
			}
			m.ToolCalls = stripped
		}
		out.Messages[i] = m
	}

	return out
}

func dedupeTools(groups ...[]Tool) []Tool {
	seen := map[string]bool{}
	var out []Tool
	for _, group := range groups {
		for _, t := range group {
			if seen[t.Function.Name] {
				continue
			}
			seen[t.Function.Name] = true
			out = append(out, t)
		}
	}
	return out
}

// Send issues one chat-completion call and classifies the result.
func (c *Client) Send(ctx context.Context, req ChatRequest) Result {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{Success: false, Status: http.StatusInternalServerError, Error: &ErrorBody{
			Type:    ErrorInternal,
			Message: fmt.Sprintf("encode request: %v", err),
		}}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Status: http.StatusInternalServerError, Error: &ErrorBody{
			Type:    ErrorInternal,
			Message: fmt.Sprintf("build request: %v", err),
		}}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Success: false, Status: http.StatusGatewayTimeout, Error: &ErrorBody{
				Type:    ErrorTimeout,
				Message: "upstream request timed out",
			}}
		}
		translated := Translate(err.Error(), http.StatusServiceUnavailable, ErrorServiceUnavailable)
		return Result{Success: false, Status: translated.Status, Error: &ErrorBody{
			Type:    translated.Type,
			Message: translated.Message,
			Details: translated.Details,
		}}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Success: false, Status: http.StatusBadGateway, Error: &ErrorBody{
			Type:    ErrorUpstream,
			Message: fmt.Sprintf("read upstream body: %v", err),
		}}
	}

	return c.classify(resp.StatusCode, respBody, req.Model)
}

func (c *Client) classify(status int, body []byte, requestedModel string) Result {
	switch {
	case status == http.StatusOK:
		var data ChatResponse
		if err := json.Unmarshal(body, &data); err != nil {
			return Result{Success: false, Status: http.StatusBadGateway, Error: &ErrorBody{
				Type:    ErrorUpstream,
				Message: fmt.Sprintf("decode upstream response: %v", err),
			}}
		}
		model := data.ExtraFields.ModelRequested
		if model == "" {
			model = data.Model
		}
		if model == "" {
			model = requestedModel
		}
		c.stats.RecordSuccess(model, data.Usage.PromptTokens, data.Usage.CompletionTokens, data.Usage.TotalTokens)
		return Result{Success: true, Status: status, Data: &data}

	case status == http.StatusTooManyRequests:
		c.stats.RecordRateLimit(requestedModel)
		return Result{Success: false, Status: status, Error: &ErrorBody{
			Type:    ErrorRateLimit,
			Message: "rate limit exceeded",
		}}

	case status >= 500:
		c.stats.RecordError(requestedModel)
		msg := deepestErrorMessage(body)
		translated := Translate(msg, status, ErrorUpstream)
		return Result{Success: false, Status: translated.Status, Error: &ErrorBody{
			Type:    translated.Type,
			Message: translated.Message,
			Details: translated.Details,
		}}

	default:
		c.stats.RecordError(requestedModel)
		return Result{Success: false, Status: http.StatusBadGateway, Error: &ErrorBody{
			Type:    ErrorUpstream,
			Message: fmt.Sprintf("upstream returned status %d", status),
			Details: map[string]any{"original_status": status},
		}}
	}
}
