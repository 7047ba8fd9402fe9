package llm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-injector/internal/config"
)

func testVirtualModel() *config.VirtualModel {
	return &config.VirtualModel{
		Name:            "brain",
		Chain:           []string{"providerA/model", "providerB/model"},
		CooldownMinutes: 5,
		RetryOn:         map[int]bool{429: true},
	}
}

func TestRouter_FallsBackOnRetryableStatus(t *testing.T) {
	cfg := &config.GatewayConfig{VirtualModels: map[string]*config.VirtualModel{}}
	r := NewRouter(cfg)
	vm := testVirtualModel()

	var called []string
	runner := func(ctx context.Context, req ChatRequest) Result {
		called = append(called, req.Model)
		if req.Model == "providerA/model" {
			return Result{Success: false, Status: 429, Error: &ErrorBody{Type: ErrorRateLimit}}
		}
		return Result{Success: true, Status: 200, Data: &ChatResponse{Model: req.Model}}
	}

	result := r.Route(context.Background(), vm, ChatRequest{Model: "brain"}, runner)

	require.True(t, result.Success)
	assert.Equal(t, []string{"providerA/model", "providerB/model"}, called)
}

func TestRouter_SkipsProviderInCooldown(t *testing.T) {
	cfg := &config.GatewayConfig{VirtualModels: map[string]*config.VirtualModel{}}
	r := NewRouter(cfg)
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixedNow }
	vm := testVirtualModel()

	var called []string
	runner := func(ctx context.Context, req ChatRequest) Result {
		called = append(called, req.Model)
		if req.Model == "providerA/model" {
			return Result{Success: false, Status: 429, Error: &ErrorBody{Type: ErrorRateLimit}}
		}
		return Result{Success: true, Status: 200, Data: &ChatResponse{Model: req.Model}}
	}

	first := r.Route(context.Background(), vm, ChatRequest{Model: "brain"}, runner)
	require.True(t, first.Success)
	assert.Equal(t, []string{"providerA/model", "providerB/model"}, called)

	called = nil
	second := r.Route(context.Background(), vm, ChatRequest{Model: "brain"}, runner)
	require.True(t, second.Success)
	assert.Equal(t, []string{"providerB/model"}, called, "providerA should be skipped while in cooldown")
}

func TestRouter_NonRetryableStatusAbortsImmediately(t *testing.T) {
	cfg := &config.GatewayConfig{VirtualModels: map[string]*config.VirtualModel{}}
	r := NewRouter(cfg)
	vm := testVirtualModel()

	var called []string
	runner := func(ctx context.Context, req ChatRequest) Result {
		called = append(called, req.Model)
		return Result{Success: false, Status: http.StatusInternalServerError, Error: &ErrorBody{Type: ErrorUpstream, Message: "boom"}}
	}

	result := r.Route(context.Background(), vm, ChatRequest{Model: "brain"}, runner)

	require.False(t, result.Success)
	assert.Equal(t, []string{"providerA/model"}, called)
}
