package mcptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
)

// HTTPTransport implements the MCP Streamable-HTTP binding against one
// endpoint URL.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger

	nextID int64

	mu        sync.Mutex
	sessionID string
	haveInit  bool
}

// NewHTTPTransport creates a transport bound to url, attaching headers to
// every request it sends.
func NewHTTPTransport(url string, headers map[string]string, logger *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{},
		logger:  logger,
	}
}

func (t *HTTPTransport) nextReqID() int {
	return int(atomic.AddInt64(&t.nextID, 1))
}

// Initialize performs the initialize handshake and, on success, posts
// notifications/initialized with the returned session header attached.
func (t *HTTPTransport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	alreadyInit := t.haveInit
	t.mu.Unlock()
	if alreadyInit {
		return nil
	}

	req := newRequest(t.nextReqID(), "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: ClientName, Version: ClientVersion},
	})

	resp, httpResp, err := t.post(ctx, req, "")
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize: %s", resp.Error.String())
	}

	var ir initializeResult
	if err := json.Unmarshal(resp.Result, &ir); err == nil && ir.ProtocolVersion != "" {
		if !slices.Contains(mcp.ValidProtocolVersions, ir.ProtocolVersion) {
			t.logger.Warn("server returned unrecognized protocol version", "version", ir.ProtocolVersion)
		}
	}

	sessionID := findSessionHeader(httpResp.Header)

	t.mu.Lock()
	t.sessionID = sessionID
	t.haveInit = true
	t.mu.Unlock()

	notif := newNotification("notifications/initialized", map[string]any{})
	if _, _, err := t.post(ctx, notif, sessionID); err != nil {
		t.logger.Warn("notifications/initialized failed", "url", t.url, "error", err)
	}
	return nil
}

// findSessionHeader returns the value of the response header whose
// lowercased name is "mcp-session-id" (case-insensitive).
func findSessionHeader(h http.Header) string {
	for name, vals := range h {
		if strings.EqualFold(name, "Mcp-Session-Id") && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func (t *HTTPTransport) currentSession() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *HTTPTransport) discardSession() {
	t.mu.Lock()
	t.sessionID = ""
	t.haveInit = false
	t.mu.Unlock()
}

// post sends one JSON-RPC envelope and parses the reply, which may be
// delivered as application/json or text/event-stream.
func (t *HTTPTransport) post(ctx context.Context, msg request, sessionID string) (*response, *http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("MCP-Protocol-Version", ProtocolVersion)
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}
	for name, val := range t.headers {
		httpReq.Header.Set(name, val)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNoContent {
		return &response{JSONRPC: "2.0"}, httpResp, nil
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		data, _ := io.ReadAll(httpResp.Body)
		return nil, httpResp, &httpStatusError{status: httpResp.StatusCode, body: string(data)}
	}

	contentType := httpResp.Header.Get("Content-Type")
	wantID := msg.ID

	var resp *response
	if strings.Contains(contentType, "text/event-stream") {
		resp, err = parseSSE(httpResp.Body, wantID)
	} else {
		var r response
		data, readErr := io.ReadAll(httpResp.Body)
		if readErr != nil {
			return nil, httpResp, fmt.Errorf("read response body: %w", readErr)
		}
		if err = json.Unmarshal(data, &r); err == nil {
			resp = &r
		}
	}
	if err != nil {
		return nil, httpResp, fmt.Errorf("parse response: %w", err)
	}
	if resp == nil {
		resp = &response{JSONRPC: "2.0"}
	}
	return resp, httpResp, nil
}

// parseSSE scans body for "data: <json>" lines and returns the first
// whose id matches wantID; lines without an id (notifications) are
// ignored.
func parseSSE(body io.Reader, wantID *int) (*response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var r response
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			continue
		}
		if r.ID == nil {
			continue
		}
		if wantID == nil || *r.ID == *wantID {
			return &r, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan sse body: %w", err)
	}
	return nil, fmt.Errorf("no matching sse frame for request id")
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.status, e.body)
}

// isSessionExpiry reports whether err represents one of the HTTP
// statuses that should cause a one-time session discard-and-retry
// (400/401/404).
func isSessionExpiry(err error) bool {
	se, ok := err.(*httpStatusError)
	if !ok {
		return false
	}
	switch se.status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
		return true
	}
	return false
}

// ListTools issues tools/list over the current session, retrying once
// with a fresh initialize on session expiry.
func (t *HTTPTransport) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var lr listToolsResult
	if err := json.Unmarshal(result, &lr); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return lr.Tools, nil
}

// CallTool issues tools/call, retrying once with a fresh initialize on
// session expiry.
func (t *HTTPTransport) CallTool(ctx context.Context, name string, arguments any) (*ToolCallResult, error) {
	result, err := t.call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var tr ToolCallResult
	if err := json.Unmarshal(result, &tr); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &tr, nil
}

func (t *HTTPTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := t.Initialize(ctx); err != nil {
		return nil, err
	}

	req := newRequest(t.nextReqID(), method, params)
	resp, _, err := t.post(ctx, req, t.currentSession())
	if err != nil {
		if isSessionExpiry(err) {
			t.discardSession()
			if err := t.Initialize(ctx); err != nil {
				return nil, err
			}
			resp, _, err = t.post(ctx, req, t.currentSession())
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %s", method, resp.Error.String())
	}
	return resp.Result, nil
}

// Close discards the cached session, so the next request starts with a
// fresh initialize. There is no persistent connection to release. The
// tool registry calls it on reset.
func (t *HTTPTransport) Close() error {
	t.discardSession()
	return nil
}
