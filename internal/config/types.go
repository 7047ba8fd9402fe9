// Package config provides configuration types for the gateway, its MCP
// servers and virtual models.
package config

import (
	"context"
	"fmt"
)

// Transport discriminates how a ServerConfig reaches its MCP server.
type Transport int

const (
	// TransportHTTP speaks MCP Streamable-HTTP against a URL endpoint.
	TransportHTTP Transport = iota
	// TransportStdio spawns a subprocess and speaks newline-delimited
	// JSON-RPC over its stdin/stdout.
	TransportStdio
)

// ServerConfig describes one upstream MCP tool server.
type ServerConfig struct {
	ID string

	// URL is set for TransportHTTP.
	URL string

	// Cmd, Args, Env and Cwd are set for TransportStdio. Env values and Cwd
	// may be env-refs, already resolved by the loader.
	Cmd  string
	Args []string
	Env  map[string]string
	Cwd  string

	// Headers are attached to every HTTP MCP request for this server.
	Headers map[string]string

	// Tools is the allow-list: nil means "all tools", an empty slice means
	// "no tools", a populated slice filters tools/list by name
	// (case-insensitive).
	Tools []string
}

// Transport reports which transport this server is configured for.
func (s *ServerConfig) Transport() Transport {
	if s.Cmd != "" {
		return TransportStdio
	}
	return TransportHTTP
}

// AllowsTool reports whether toolName passes this server's allow-list.
func (s *ServerConfig) AllowsTool(toolName string) bool {
	if s.Tools == nil {
		return true
	}
	for _, allowed := range s.Tools {
		if equalFold(allowed, toolName) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// VirtualModel maps a caller-visible model name to an ordered chain of
// provider strings, with cooldown and retry-status configuration.
type VirtualModel struct {
	Name             string
	Chain            []string
	CooldownMinutes  int
	RetryOn          map[int]bool
}

// DefaultRetryOn is the retry-on set used when a VirtualModel doesn't
// configure its own.
func DefaultRetryOn() map[int]bool {
	return map[int]bool{429: true, 500: true}
}

// DefaultCooldownMinutes is used when a VirtualModel doesn't set its own.
const DefaultCooldownMinutes = 5

// GatewayConfig is the whole configuration loaded at startup.
type GatewayConfig struct {
	UpstreamURL   string
	Fallbacks     []string
	VirtualModels map[string]*VirtualModel
	Servers       []*ServerConfig
	MaxIterations int

	observers []Observer
}

// Observer is notified when the configuration changes (e.g. a hot reload).
type Observer interface {
	OnConfigChange(ctx context.Context, cfg *GatewayConfig)
}

// ReplaceFrom copies other's loaded fields into c in place, preserving
// c's registered observers. Used on hot reload, so observers registered
// against the original *GatewayConfig keep seeing updates through it.
func (c *GatewayConfig) ReplaceFrom(other *GatewayConfig) {
	c.UpstreamURL = other.UpstreamURL
	c.Fallbacks = other.Fallbacks
	c.VirtualModels = other.VirtualModels
	c.Servers = other.Servers
	c.MaxIterations = other.MaxIterations
}

// RegisterObserver registers obs to be notified on future config changes.
func (c *GatewayConfig) RegisterObserver(obs Observer) {
	c.observers = append(c.observers, obs)
}

// Notify notifies all registered observers of a configuration change.
func (c *GatewayConfig) Notify(ctx context.Context) {
	for _, obs := range c.observers {
		obs.OnConfigChange(ctx, c)
	}
}

// ServerByID returns the configured server with the given id, or nil.
func (c *GatewayConfig) ServerByID(id string) *ServerConfig {
	for _, s := range c.Servers {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// VirtualModelByName returns the configured virtual model with the given
// name, or nil if name isn't a virtual model.
func (c *GatewayConfig) VirtualModelByName(name string) *VirtualModel {
	return c.VirtualModels[name]
}

// ProviderString renders a "provider/model" string, matching the wire
// format used in fallbacks chains.
func ProviderString(provider, model string) string {
	return fmt.Sprintf("%s/%s", provider, model)
}
