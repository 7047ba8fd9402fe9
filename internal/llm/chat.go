package llm

import "encoding/json"

// ToolFunction is the function definition carried by a tool entry in a
// ChatRequest's tools array.
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Tool is one entry of a ChatRequest's tools array.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolCallFunction is the function invocation carried by a ToolCall.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one entry of an assistant message's tool_calls array.
type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// Message is one entry of a ChatRequest's messages array.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ChatRequest is an OpenAI-compatible chat-completion request, extended
// with the fallbacks array this gateway attaches. Extra
// holds any caller-supplied fields this type doesn't model explicitly
// (temperature, max_tokens,...); they ride through unchanged.
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions any            `json:"stream_options,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	Fallbacks     []string       `json:"fallbacks,omitempty"`
	Extra         map[string]any `json:"-"`
}

// MarshalJSON merges Extra into the top-level object alongside the
// named fields, so unmodeled caller fields survive the prepare step.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type alias ChatRequest
	named, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return named, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(named, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the named fields and stashes everything else
// into Extra.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = ChatRequest(a)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	known := map[string]bool{
		"model": true, "messages": true, "stream": true,
		"stream_options": true, "tools": true, "fallbacks": true,
	}
	for k, v := range all {
		if known[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = map[string]any{}
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return err
		}
		r.Extra[k] = decoded
	}
	return nil
}

// Usage mirrors the OpenAI-compatible usage object.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one entry of a ChatResponse's choices array.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ExtraFields is the upstream-specific metadata envelope:
// its Provider/ModelRequested are surfaced to stats and error bodies,
// but RawResponse is never echoed to the caller.
type ExtraFields struct {
	Provider       string          `json:"provider,omitempty"`
	ModelRequested string          `json:"model_requested,omitempty"`
	RawResponse    json.RawMessage `json:"raw_response,omitempty"`
}

// ChatResponse is an OpenAI-compatible chat-completion response.
type ChatResponse struct {
	ID          string      `json:"id,omitempty"`
	Object      string      `json:"object,omitempty"`
	Created     int64       `json:"created,omitempty"`
	Model       string      `json:"model"`
	Choices     []Choice    `json:"choices"`
	Usage       Usage       `json:"usage"`
	ExtraFields ExtraFields `json:"extra_fields,omitempty"`
}

// rawErrorEnvelope is the shape of an upstream error body, used to
// extract the deepest error message.
type rawErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	ExtraFields struct {
		RawResponse struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"raw_response"`
	} `json:"extra_fields"`
}

// deepestErrorMessage extracts the most specific error message from an
// upstream error body, preferring extra_fields.raw_response.error.message.
func deepestErrorMessage(body []byte) string {
	var env rawErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return string(body)
	}
	if env.ExtraFields.RawResponse.Error.Message != "" {
		return env.ExtraFields.RawResponse.Error.Message
	}
	if env.Error.Message != "" {
		return env.Error.Message
	}
	return string(body)
}
