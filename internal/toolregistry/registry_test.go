package toolregistry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-injector/internal/config"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixtureMCPServer answers initialize/notifications.initialized/tools.list
// with a fixed two-tool list, counting how many times tools/list actually
// runs the list (vs served from cache by the caller).
func fixtureMCPServer(t *testing.T, listCount *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		method, _ := req["method"].(string)
		id := req["id"]

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "initialize":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": id,
				"result": map[string]any{"protocolVersion": "2025-03-26", "capabilities": map[string]any{}, "serverInfo": map[string]any{"name": "stripe", "version": "1"}},
			})
		case "notifications/initialized":
			w.WriteHeader(http.StatusNoContent)
		case "tools/list":
			if listCount != nil {
				atomic.AddInt32(listCount, 1)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": id,
				"result": map[string]any{"tools": []map[string]any{
					{"name": "retrieve_customer", "description": "gets a customer", "inputSchema": map[string]any{"type": "object"}},
					{"name": "charge", "description": "charges a customer", "inputSchema": map[string]any{"type": "object"}},
				}},
			})
		}
	}))
}

func TestDiscoverTools_CachesAfterFirstCall(t *testing.T) {
	var listCount int32
	srv := fixtureMCPServer(t, &listCount)
	defer srv.Close()

	r := New(silentLogger())
	sc := &config.ServerConfig{ID: "stripe", URL: srv.URL}

	_, err := r.DiscoverTools(context.Background(), sc, nil)
	require.NoError(t, err)
	_, err = r.DiscoverTools(context.Background(), sc, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&listCount), "second call should be served from cache")
}

func TestDiscoverTools_AllowListFiltering(t *testing.T) {
	srv := fixtureMCPServer(t, nil)
	defer srv.Close()

	r := New(silentLogger())
	sc := &config.ServerConfig{ID: "stripe", URL: srv.URL}

	all, err := r.DiscoverTools(context.Background(), sc, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := r.DiscoverTools(context.Background(), sc, []string{"Retrieve_Customer"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "retrieve_customer", filtered[0].Tool)

	none, err := r.DiscoverTools(context.Background(), sc, []string{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDiscoverTools_FailureDoesNotPoisonCache(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		method, _ := req["method"].(string)
		id := req["id"]
		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "initialize":
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{}})
		case "notifications/initialized":
			w.WriteHeader(http.StatusNoContent)
		case "tools/list":
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{"tools": []any{}}})
		}
	}))
	defer srv.Close()

	r := New(silentLogger())
	sc := &config.ServerConfig{ID: "stripe", URL: srv.URL}

	_, err := r.DiscoverTools(context.Background(), sc, nil)
	assert.Error(t, err)

	tools, err := r.DiscoverTools(context.Background(), sc, nil)
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestWarmUp_DoesNotAbortOnFailure(t *testing.T) {
	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	unreachable.Close() // closed immediately: connection refused on every attempt

	srv := fixtureMCPServer(t, nil)
	defer srv.Close()

	r := New(silentLogger())
	servers := []*config.ServerConfig{
		{ID: "down", URL: unreachable.URL},
		{ID: "stripe", URL: srv.URL},
	}

	done := make(chan struct{})
	go func() {
		r.WarmUp(context.Background(), servers)
		close(done)
	}()
	<-done

	tools, _ := r.Snapshot()
	assert.NotContains(t, tools, "down")
	assert.Contains(t, tools, "stripe")
}

func TestReset_ClearsCacheAndClosesTransports(t *testing.T) {
	srv := fixtureMCPServer(t, nil)
	defer srv.Close()

	r := New(silentLogger())
	sc := &config.ServerConfig{ID: "stripe", URL: srv.URL}

	_, err := r.DiscoverTools(context.Background(), sc, nil)
	require.NoError(t, err)

	tools, live := r.Snapshot()
	require.Contains(t, tools, "stripe")
	require.Contains(t, live, "stripe")

	r.Reset()

	tools, live = r.Snapshot()
	assert.Empty(t, tools)
	assert.Empty(t, live)
}

func TestGetSchema_ReturnsNamedTool(t *testing.T) {
	srv := fixtureMCPServer(t, nil)
	defer srv.Close()

	r := New(silentLogger())
	sc := &config.ServerConfig{ID: "stripe", URL: srv.URL}

	schema, err := r.GetSchema(context.Background(), sc, "charge")
	require.NoError(t, err)
	assert.Equal(t, "mcp__stripe__charge", schema.FullName())

	_, err = r.GetSchema(context.Background(), sc, "nonexistent")
	assert.Error(t, err)
}
