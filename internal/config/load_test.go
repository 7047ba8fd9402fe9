package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_ServersAndVirtualModels(t *testing.T) {
	path := writeTempConfig(t, `
servers:
  stripe:
    url: "http://localhost:9001/mcp"
    tools: ["retrieve_customer"]
  fsserver:
    cmd: "mcp-fs-server"
    args: ["--root", "/tmp"]

llm-gateway:
  url: "http://localhost:9000"
  fallbacks:
    - "openai/gpt-4"
    - provider: anthropic
      model: claude-3
  virtual-models:
    brain:
      chain: ["openai/gpt-4", "anthropic/claude-3"]
      cooldown-minutes: 10
      retry-on: [429, 500]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "http://localhost:9000", cfg.UpstreamURL)
	require.Equal(t, []string{"openai/gpt-4", "anthropic/claude-3"}, cfg.Fallbacks)

	stripe := cfg.ServerByID("stripe")
	require.NotNil(t, stripe)
	assert.Equal(t, TransportHTTP, stripe.Transport())
	assert.True(t, stripe.AllowsTool("Retrieve_Customer"))
	assert.False(t, stripe.AllowsTool("charge"))

	fsserver := cfg.ServerByID("fsserver")
	require.NotNil(t, fsserver)
	assert.Equal(t, TransportStdio, fsserver.Transport())
	assert.Equal(t, []string{"--root", "/tmp"}, fsserver.Args)

	vm := cfg.VirtualModelByName("brain")
	require.NotNil(t, vm)
	assert.Equal(t, 10, vm.CooldownMinutes)
	assert.True(t, vm.RetryOn[429])
	assert.True(t, vm.RetryOn[500])
}

func TestLoad_DefaultsAppliedWhenUnset(t *testing.T) {
	path := writeTempConfig(t, `
llm-gateway:
  url: "http://localhost:9000"
  virtual-models:
    brain:
      chain: ["openai/gpt-4"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	vm := cfg.VirtualModelByName("brain")
	require.NotNil(t, vm)
	assert.Equal(t, DefaultCooldownMinutes, vm.CooldownMinutes)
	assert.Equal(t, DefaultRetryOn(), vm.RetryOn)
	assert.Equal(t, 10, cfg.MaxIterations)
}

func TestLoad_EnvOverridesFileValues(t *testing.T) {
	path := writeTempConfig(t, `
llm-gateway:
  url: "http://file-configured:9000"
`)
	t.Setenv("MCP_INJECTOR_LLM_URL", "http://env-configured:9000")
	t.Setenv("MCP_INJECTOR_MAX_ITERATIONS", "42")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env-configured:9000", cfg.UpstreamURL)
	assert.Equal(t, 42, cfg.MaxIterations)
}

func TestEnvRef_ResolvesFromEnvironment(t *testing.T) {
	t.Setenv("STRIPE_TOKEN", "sk-123")
	path := writeTempConfig(t, `
servers:
  stripe:
    url: "http://localhost:9001/mcp"
    headers:
      Authorization:
        env: STRIPE_TOKEN
        prefix: "Bearer "
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	stripe := cfg.ServerByID("stripe")
	require.NotNil(t, stripe)
	assert.Equal(t, "Bearer sk-123", stripe.Headers["Authorization"])
}

func TestEnvRef_UnsetVariableResolvesEmpty(t *testing.T) {
	path := writeTempConfig(t, `
servers:
  stripe:
    url: "http://localhost:9001/mcp"
    headers:
      Authorization:
        env: THIS_VAR_IS_DEFINITELY_NOT_SET
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	stripe := cfg.ServerByID("stripe")
	require.NotNil(t, stripe)
	assert.Equal(t, "", stripe.Headers["Authorization"])
}

func TestRegisterObserver_NotifiedOnNotify(t *testing.T) {
	cfg := &GatewayConfig{}
	var seen *GatewayConfig
	cfg.RegisterObserver(observerFunc(func(ctx context.Context, c *GatewayConfig) { seen = c }))
	cfg.Notify(context.Background())
	assert.Same(t, cfg, seen)
}

type observerFunc func(ctx context.Context, c *GatewayConfig)

func (f observerFunc) OnConfigChange(ctx context.Context, c *GatewayConfig) { f(ctx, c) }
