package handler

import (
	"encoding/json"
	"net/http"
)

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stats": h.stats.Snapshot()})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": h.version,
	}
	if h.warmingUp != nil && h.warmingUp() {
		body["warming_up"] = true
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleMCPTools(w http.ResponseWriter, r *http.Request) {
	tools, liveTransports := h.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":          tools,
		"http_sessions":  liveTransports,
		"stdio_sessions": liveTransports,
	})
}

func (h *Handler) handleMCPReset(w http.ResponseWriter, r *http.Request) {
	h.registry.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

func (h *Handler) handleLLMState(w http.ResponseWriter, r *http.Request) {
	cooldowns := h.router.Snapshot()
	out := make(map[string]string, len(cooldowns))
	for provider, expiry := range cooldowns {
		out[provider] = expiry.Format(timeFormat)
	}
	body := map[string]any{
		"cooldowns": out,
		"usage":     h.stats.Snapshot(),
	}
	if h.warmingUp != nil && h.warmingUp() {
		body["warming_up"] = true
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleCooldownsReset(w http.ResponseWriter, r *http.Request) {
	h.router.ResetCooldowns()
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
