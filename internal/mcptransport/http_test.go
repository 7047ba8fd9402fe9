package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

func TestHTTPTransport_SessionHandshakeOrder(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json, text/event-stream", r.Header.Get("Accept"))
		msg := decodeRequest(t, r)
		method, _ := msg["method"].(string)
		methods = append(methods, method)

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", "sess-123")
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": map[string]any{}})
		case "notifications/initialized":
			w.WriteHeader(http.StatusNoContent)
		case "tools/list":
			assert.Equal(t, "sess-123", r.Header.Get("Mcp-Session-Id"))
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": map[string]any{"tools": []any{}}})
		}
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.URL, nil, silentLogger())
	_, err := transport.ListTools(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"initialize", "notifications/initialized", "tools/list"}, methods)
}

func TestHTTPTransport_SSEResponseParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg := decodeRequest(t, r)
		method, _ := msg["method"].(string)
		w.Header().Set("Content-Type", "text/event-stream")
		switch method {
		case "initialize":
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Mcp-Session-Id", "s1")
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": map[string]any{}})
		case "notifications/initialized":
			w.WriteHeader(http.StatusNoContent)
		case "tools/list":
			id := msg["id"]
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", mustJSON(map[string]any{"jsonrpc": "2.0", "method": "notifications/progress"}))
			fmt.Fprintf(w, "data: %s\n\n", mustJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{"tools": []any{map[string]any{"name": "t1", "description": "d", "inputSchema": map[string]any{}}}}}))
		}
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.URL, nil, silentLogger())
	tools, err := transport.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "t1", tools[0].Name)
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestHTTPTransport_RetriesOnceOnSessionExpiry(t *testing.T) {
	var initCount int32
	var toolsCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg := decodeRequest(t, r)
		method, _ := msg["method"].(string)
		switch method {
		case "initialize":
			atomic.AddInt32(&initCount, 1)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Mcp-Session-Id", "sess")
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": map[string]any{}})
		case "notifications/initialized":
			w.WriteHeader(http.StatusNoContent)
		case "tools/list":
			n := atomic.AddInt32(&toolsCalls, 1)
			if n == 1 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": map[string]any{"tools": []any{}}})
		}
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.URL, nil, silentLogger())
	_, err := transport.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&initCount), "expected one retry, causing a second initialize")
}
