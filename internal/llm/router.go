package llm

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kagenti/mcp-injector/internal/config"
)

// AgentRunner runs the full agent loop against the upstream for one
// prepared request, returning the final Result. Implemented by
// internal/agent to avoid an import cycle.
type AgentRunner func(ctx context.Context, req ChatRequest) Result

// Router maps a caller-requested virtual model name to an ordered
// provider chain, retrying on a configurable status set with a
// per-provider cooldown.
type Router struct {
	cfg *config.GatewayConfig
	now func() time.Time

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

// NewRouter creates a router bound to cfg's virtual models.
func NewRouter(cfg *config.GatewayConfig) *Router {
	return &Router{
		cfg:       cfg,
		now:       time.Now,
		cooldowns: map[string]time.Time{},
	}
}

// IsVirtualModel reports whether name matches a configured VirtualModel.
func (r *Router) IsVirtualModel(name string) bool {
	return r.cfg.VirtualModelByName(name) != nil
}

// inCooldown reports whether provider is currently in cooldown,
// lazily dropping an expired entry on observation.
func (r *Router) inCooldown(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.cooldowns[provider]
	if !ok {
		return false
	}
	if r.now().After(expiry) {
		delete(r.cooldowns, provider)
		return false
	}
	return true
}

func (r *Router) setCooldown(provider string, minutes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[provider] = r.now().Add(time.Duration(minutes) * time.Minute)
}

// Route runs req through the virtual model's provider chain, skipping
// providers in cooldown, setting a cooldown on a retry-triggering
// failure and advancing to the next candidate, and returning the first
// success or the final failure.
func (r *Router) Route(ctx context.Context, vm *config.VirtualModel, req ChatRequest, run AgentRunner) Result {
	var lastErr Result
	haveErr := false

	for _, provider := range vm.Chain {
		if r.inCooldown(provider) {
			continue
		}

		candidate := req
		candidate.Model = provider
		candidate.Fallbacks = nil

		result := run(ctx, candidate)
		if result.Success {
			return result
		}

		lastErr = result
		haveErr = true

		if result.Error != nil && vm.RetryOn[result.Status] {
			r.setCooldown(provider, vm.CooldownMinutes)
			continue
		}
		return result
	}

	if !haveErr {
		return Result{Success: false, Status: http.StatusBadGateway, Error: &ErrorBody{
			Type:    ErrorAllProvidersFailed,
			Message: "all providers in cooldown or chain empty",
		}}
	}

	msg := ""
	if lastErr.Error != nil {
		msg = lastErr.Error.Message
	}
	translated := Translate(msg, http.StatusBadGateway, ErrorAllProvidersFailed)
	return Result{Success: false, Status: translated.Status, Error: &ErrorBody{
		Type:    ErrorAllProvidersFailed,
		Message: translated.Message,
		Details: lastErr.Error,
	}}
}

// Snapshot returns the current cooldown map (provider -> expiry), for
// the admin llm-state endpoint.
func (r *Router) Snapshot() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.cooldowns))
	now := r.now()
	for provider, expiry := range r.cooldowns {
		if now.After(expiry) {
			continue
		}
		out[provider] = expiry
	}
	return out
}

// ResetCooldowns empties the cooldown map.
func (r *Router) ResetCooldowns() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns = map[string]time.Time{}
}
