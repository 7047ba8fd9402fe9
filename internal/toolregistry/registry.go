// Package toolregistry caches MCP server tool lists and resolves
// namespaced tool calls to the owning transport.
package toolregistry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kagenti/mcp-injector/internal/config"
	"github.com/kagenti/mcp-injector/internal/mcptransport"
)

// Schema is a cached tool definition, namespaced to its owning server.
type Schema struct {
	Server      string
	Tool        string
	Description string
	InputSchema []byte
}

// FullName returns the on-wire namespaced tool name mcp__<server>__<tool>.
func (s Schema) FullName() string {
	return "mcp__" + s.Server + "__" + s.Tool
}

// Registry owns all tool caches, HTTP sessions and stdio children for
// configured servers (this package owns it exclusively).
type Registry struct {
	logger *slog.Logger

	mu         sync.Mutex
	transports map[string]mcptransport.Transport
	cache      map[string][]Schema // serverID -> raw, unfiltered tool list
}

// New creates an empty registry. Server configs are passed to each call;
// transports are created lazily on first use of each server.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:     logger,
		transports: map[string]mcptransport.Transport{},
		cache:      map[string][]Schema{},
	}
}

func (r *Registry) transportFor(sc *config.ServerConfig) mcptransport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.transports[sc.ID]; ok {
		return t
	}
	var t mcptransport.Transport
	switch sc.Transport() {
	case config.TransportStdio:
		t = mcptransport.NewStdioTransport(sc.Cmd, sc.Args, sc.Env, sc.Cwd, r.logger)
	default:
		t = mcptransport.NewHTTPTransport(sc.URL, sc.Headers, r.logger)
	}
	r.transports[sc.ID] = t
	return t
}

// DiscoverTools returns the cached tool list for sc, issuing tools/list
// on first use. If allowList is non-nil, the returned view is filtered
// to tools present in it (case-insensitive); an empty non-nil allowList
// yields no tools; a nil allowList yields all tools. The filter is
// applied after caching, so different callers may request different
// views of the same cache entry.
func (r *Registry) DiscoverTools(ctx context.Context, sc *config.ServerConfig, allowList []string) ([]Schema, error) {
	all, err := r.rawTools(ctx, sc)
	if err != nil {
		return nil, err
	}
	return filterTools(all, allowList), nil
}

func (r *Registry) rawTools(ctx context.Context, sc *config.ServerConfig) ([]Schema, error) {
	r.mu.Lock()
	cached, ok := r.cache[sc.ID]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	t := r.transportFor(sc)
	infos, err := t.ListTools(ctx)
	if err != nil {
		// Discovery failure must not poison the cache: leave
		// the entry absent so the next call retries.
		return nil, fmt.Errorf("discover tools for %s: %w", sc.ID, err)
	}

	schemas := make([]Schema, 0, len(infos))
	for _, info := range infos {
		schemas = append(schemas, Schema{
			Server:      sc.ID,
			Tool:        info.Name,
			Description: info.Description,
			InputSchema: []byte(info.InputSchema),
		})
	}

	r.mu.Lock()
	r.cache[sc.ID] = schemas
	r.mu.Unlock()

	return schemas, nil
}

func filterTools(all []Schema, allowList []string) []Schema {
	if allowList == nil {
		return all
	}
	if len(allowList) == 0 {
		return []Schema{}
	}
	out := make([]Schema, 0, len(all))
	for _, s := range all {
		for _, name := range allowList {
			if strings.EqualFold(name, s.Tool) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// GetSchema returns the schema for one named tool on sc, discovering the
// server's tool list first if necessary.
func (r *Registry) GetSchema(ctx context.Context, sc *config.ServerConfig, toolName string) (*Schema, error) {
	all, err := r.rawTools(ctx, sc)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if strings.EqualFold(all[i].Tool, toolName) {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("tool %q not found on server %q", toolName, sc.ID)
}

// CallTool dispatches a tools/call to the server owning sc.
func (r *Registry) CallTool(ctx context.Context, sc *config.ServerConfig, toolName string, arguments any) (*mcptransport.ToolCallResult, error) {
	t := r.transportFor(sc)
	return t.CallTool(ctx, toolName, arguments)
}

// WarmUp discovers tools for every configured server in parallel at
// startup. Failures are logged and do not abort startup.
func (r *Registry) WarmUp(ctx context.Context, servers []*config.ServerConfig) {
	var wg sync.WaitGroup
	for _, sc := range servers {
		sc := sc
		wg.Add(1)
		go func() {
			defer wg.Done()
			backoff := warmupBackoff()
			err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
				_, err := r.DiscoverTools(ctx, sc, sc.Tools)
				if err != nil {
					r.logger.Warn("warm-up discovery failed, retrying", "server", sc.ID, "error", err)
					return false, nil
				}
				return true, nil
			})
			if err != nil {
				r.logger.Warn("warm-up discovery exhausted retries", "server", sc.ID, "error", err)
			}
		}()
	}
	wg.Wait()
}

func warmupBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 500 * time.Millisecond,
		Factor:   2.0,
		Steps:    5,
		Cap:      10 * time.Second,
	}
}

// Reset clears the tool cache, closes all transports (dropping HTTP
// sessions and killing stdio children) so the next request recreates
// them.
func (r *Registry) Reset() {
	r.mu.Lock()
	transports := r.transports
	r.transports = map[string]mcptransport.Transport{}
	r.cache = map[string][]Schema{}
	r.mu.Unlock()

	for id, t := range transports {
		if err := t.Close(); err != nil {
			r.logger.Warn("close transport on reset", "server", id, "error", err)
		}
	}
}

// Snapshot reports the current cached tool names per server and which
// servers currently have a transport created (whether or not its session
// or child process is alive), for the admin tools endpoint.
func (r *Registry) Snapshot() (tools map[string][]string, liveTransports []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tools = map[string][]string{}
	for serverID, schemas := range r.cache {
		names := make([]string, 0, len(schemas))
		for _, s := range schemas {
			names = append(names, s.Tool)
		}
		tools[serverID] = names
	}
	for id := range r.transports {
		liveTransports = append(liveTransports, id)
	}
	return tools, liveTransports
}
