package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// rawServer mirrors the on-disk shape of one entry under "servers".
type rawServer struct {
	URL     string            `mapstructure:"url"`
	Cmd     string            `mapstructure:"cmd"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]any    `mapstructure:"env"`
	Cwd     any               `mapstructure:"cwd"`
	Headers map[string]any    `mapstructure:"headers"`
	Tools   []string          `mapstructure:"tools"`
}

type rawVirtualModel struct {
	Chain           []string `mapstructure:"chain"`
	CooldownMinutes int      `mapstructure:"cooldown-minutes"`
	RetryOn         []int    `mapstructure:"retry-on"`
}

type rawLLMGateway struct {
	URL           string                     `mapstructure:"url"`
	Fallbacks     []any                      `mapstructure:"fallbacks"`
	VirtualModels map[string]rawVirtualModel `mapstructure:"virtual-models"`
}

// Load reads a gateway configuration from path (YAML or JSON, viper
// auto-detects from the extension), applies MCP_INJECTOR_* environment
// overrides, and resolves env-ref values. Env overrides take precedence
// over file values; file values take precedence over defaults.
func Load(path string) (*GatewayConfig, error) {
	v := viper.New()
	v.SetDefault("llm-gateway.max-iterations", 10)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var servers map[string]rawServer
	if err := v.UnmarshalKey("servers", &servers); err != nil {
		return nil, fmt.Errorf("decode servers: %w", err)
	}

	var gw rawLLMGateway
	if err := v.UnmarshalKey("llm-gateway", &gw); err != nil {
		return nil, fmt.Errorf("decode llm-gateway: %w", err)
	}

	cfg := &GatewayConfig{
		UpstreamURL:   gw.URL,
		VirtualModels: map[string]*VirtualModel{},
		MaxIterations: v.GetInt("llm-gateway.max-iterations"),
	}

	for _, f := range gw.Fallbacks {
		cfg.Fallbacks = append(cfg.Fallbacks, fallbackString(f))
	}

	for name, rvm := range gw.VirtualModels {
		vm := &VirtualModel{
			Name:            name,
			Chain:           rvm.Chain,
			CooldownMinutes: rvm.CooldownMinutes,
		}
		if vm.CooldownMinutes == 0 {
			vm.CooldownMinutes = DefaultCooldownMinutes
		}
		if len(rvm.RetryOn) > 0 {
			vm.RetryOn = map[int]bool{}
			for _, code := range rvm.RetryOn {
				vm.RetryOn[code] = true
			}
		} else {
			vm.RetryOn = DefaultRetryOn()
		}
		cfg.VirtualModels[name] = vm
	}

	for id, rs := range servers {
		sc := &ServerConfig{
			ID:   id,
			URL:  resolveEnvRefString(rs.URL),
			Cmd:  resolveEnvRefString(rs.Cmd),
			Args: rs.Args,
			Tools: rs.Tools,
		}
		if rs.Cwd != nil {
			sc.Cwd = resolveEnvRefAny(rs.Cwd)
		}
		if len(rs.Env) > 0 {
			sc.Env = map[string]string{}
			for k, val := range rs.Env {
				sc.Env[k] = resolveEnvRefAny(val)
			}
		}
		if len(rs.Headers) > 0 {
			sc.Headers = map[string]string{}
			for k, val := range rs.Headers {
				// viper lowercases map keys; store header names in
				// canonical form ("Authorization").
				sc.Headers[http.CanonicalHeaderKey(k)] = resolveEnvRefAny(val)
			}
		}
		cfg.Servers = append(cfg.Servers, sc)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *GatewayConfig) {
	if url := os.Getenv("MCP_INJECTOR_LLM_URL"); url != "" {
		cfg.UpstreamURL = url
	}
	if maxIter := os.Getenv("MCP_INJECTOR_MAX_ITERATIONS"); maxIter != "" {
		if n, err := strconv.Atoi(maxIter); err == nil {
			cfg.MaxIterations = n
		}
	}
}

// fallbackString renders a fallback entry (either a plain
// "provider/model" string or a {:provider _ :model _} map) as a
// provider string.
func fallbackString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		provider, _ := t["provider"].(string)
		model, _ := t["model"].(string)
		return ProviderString(provider, model)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// envRef is the decoded shape of an {:env NAME :prefix s :suffix s} map.
type envRef struct {
	Env    string
	Prefix string
	Suffix string
}

// resolveEnvRefAny resolves a config value that may be a plain string or
// an env-ref map. Returns "" if an env-ref names an unset variable.
func resolveEnvRefAny(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		ref := envRef{}
		if name, ok := t["env"].(string); ok {
			ref.Env = name
		}
		if p, ok := t["prefix"].(string); ok {
			ref.Prefix = p
		}
		if s, ok := t["suffix"].(string); ok {
			ref.Suffix = s
		}
		if ref.Env == "" {
			return ""
		}
		val, ok := os.LookupEnv(ref.Env)
		if !ok {
			return ""
		}
		return ref.Prefix + val + ref.Suffix
	default:
		return ""
	}
}

// resolveEnvRefString is like resolveEnvRefAny but accepts an already
// plain string in the common case (viper unmarshals scalar string fields
// directly), falling back to env-ref syntax embedded as "${NAME}".
func resolveEnvRefString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:start])
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s[start:])
			break
		}
		name := s[start+2 : start+end]
		b.WriteString(os.Getenv(name))
		s = s[start+end+1:]
	}
	return b.String()
}
