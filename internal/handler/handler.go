// Package handler implements the gateway's HTTP surface: the
// OpenAI-compatible chat-completions endpoint and the read-only admin
// endpoints.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kagenti/mcp-injector/internal/agent"
	"github.com/kagenti/mcp-injector/internal/config"
	"github.com/kagenti/mcp-injector/internal/directory"
	"github.com/kagenti/mcp-injector/internal/llm"
	"github.com/kagenti/mcp-injector/internal/toolregistry"
)

// Handler wires every component into the HTTP surface.
type Handler struct {
	cfg      *config.GatewayConfig
	registry *toolregistry.Registry
	client   *llm.Client
	router   *llm.Router
	stats    *llm.StatsTracker
	logger   *slog.Logger

	evalEnabled bool
	startedAt   int64
	version     string
	warmingUp   func() bool
}

// New creates a request handler.
func New(cfg *config.GatewayConfig, registry *toolregistry.Registry, client *llm.Client, router *llm.Router, stats *llm.StatsTracker, evalEnabled bool, version string, warmingUp func() bool, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:         cfg,
		registry:    registry,
		client:      client,
		router:      router,
		stats:       stats,
		logger:      logger,
		evalEnabled: evalEnabled,
		version:     version,
		warmingUp:   warmingUp,
	}
}

// Mux builds the complete HTTP route table.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /api/v1/stats", h.handleStats)
	mux.HandleFunc("GET /api/v1/status", h.handleStatus)
	mux.HandleFunc("GET /api/v1/mcp/tools", h.handleMCPTools)
	mux.HandleFunc("POST /api/v1/mcp/reset", h.handleMCPReset)
	mux.HandleFunc("GET /api/v1/llm/state", h.handleLLMState)
	mux.HandleFunc("POST /api/v1/llm/cooldowns/reset", h.handleCooldownsReset)
	return h.recoverMiddleware(mux)
}

// recoverMiddleware converts any uncaught panic into a 500
// internal_error response.
func (h *Handler) recoverMiddleware(next http.Handler) *http.ServeMux {
	wrapped := http.NewServeMux()
	wrapped.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic in request handling", "recovered", rec)
				writeJSONError(w, http.StatusInternalServerError, llm.ErrorInternal, "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
	return wrapped
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req llm.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeChatError(w, false, http.StatusBadRequest, llm.ErrorJSONParse,
			"Failed to parse JSON body. Please ensure your request is valid JSON.", nil)
		return
	}

	ctx := r.Context()
	streaming := req.Stream

	toolsByServer := map[string][]toolregistry.Schema{}
	for _, sc := range h.cfg.Servers {
		schemas, err := h.registry.DiscoverTools(ctx, sc, sc.Tools)
		if err != nil {
			h.logger.Warn("per-request discovery failed", "server", sc.ID, "error", err)
			continue
		}
		toolsByServer[sc.ID] = schemas
	}

	if directoryMsg, ok := directory.Message(h.cfg.Servers, toolsByServer); ok {
		req.Messages = append([]llm.Message{{Role: "system", Content: directoryMsg}}, req.Messages...)
	}

	metaTools := directory.MetaTools(h.evalEnabled)
	executor := agent.NewExecutor(h.registry, h.cfg.Servers, h.evalEnabled, h.logger)
	loop := agent.NewLoop(h.client, executor, metaTools, h.cfg.MaxIterations)
	state := agent.NewState(req.Messages)

	runnerWithFallbacks := func(fallbacks []string) llm.AgentRunner {
		return func(runCtx context.Context, candidate llm.ChatRequest) llm.Result {
			return loop.Run(runCtx, candidate, fallbacks, state)
		}
	}

	var result llm.Result
	if vm := h.cfg.VirtualModelByName(req.Model); vm != nil {
		// Virtual and upstream fallbacks are mutually exclusive: every
		// candidate in the provider chain gets no fallbacks array.
		result = h.router.Route(ctx, vm, req, runnerWithFallbacks(nil))
	} else {
		result = runnerWithFallbacks(h.cfg.Fallbacks)(ctx, req)
	}

	h.respond(w, result, req.Model, streaming)
}

func (h *Handler) respond(w http.ResponseWriter, result llm.Result, requestedModel string, streaming bool) {
	if !result.Success {
		status := result.Status
		errType := llm.ErrorInternal
		msg := "internal error"
		var details any
		if result.Error != nil {
			errType = result.Error.Type
			msg = result.Error.Message
			details = result.Error.Details
		}
		writeChatError(w, streaming, status, errType, msg, details)
		return
	}

	result.Data.Model = requestedModel
	result.Data.ExtraFields.RawResponse = nil

	if !streaming {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(result.Data)
		return
	}

	writeSSE(w, result.Data)
}
