package toolregistry

import (
	"context"

	"github.com/kagenti/mcp-injector/internal/config"
)

// OnConfigChange implements config.Observer: a reload drops all cached
// tools, HTTP sessions and stdio children so the next request rebuilds
// them against the new server set.
func (r *Registry) OnConfigChange(ctx context.Context, cfg *config.GatewayConfig) {
	r.logger.Info("configuration changed, resetting tool registry")
	r.Reset()
}
