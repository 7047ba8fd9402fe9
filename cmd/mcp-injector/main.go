// Command mcp-injector runs the chat-completions gateway: it augments
// caller requests with an MCP tool directory, forwards them to a single
// upstream chat-completion service with provider-chain failover, and
// executes tool calls against configured MCP servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kagenti/mcp-injector/internal/config"
	"github.com/kagenti/mcp-injector/internal/handler"
	"github.com/kagenti/mcp-injector/internal/llm"
	"github.com/kagenti/mcp-injector/internal/toolregistry"
)

const version = "0.1.0"

func main() {
	var (
		host       = flag.String("host", envOr("MCP_INJECTOR_HOST", "127.0.0.1"), "address to bind")
		port       = flag.String("port", envOr("MCP_INJECTOR_PORT", "8080"), "port to bind")
		configPath = flag.String("mcp-config", os.Getenv("MCP_INJECTOR_MCP_CONFIG"), "path to gateway configuration file")
		logLevel   = flag.String("log-level", envOr("MCP_INJECTOR_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
		logFormat  = flag.String("log-format", "text", "log format: text or json")
		enableEval = flag.Bool("enable-eval", false, "enable the clojure-eval meta-tool, sandboxed to arithmetic expressions")
	)
	flag.Parse()

	logger := newLogger(*logLevel, *logFormat)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	registry := toolregistry.New(logger)
	cfg.RegisterObserver(registry)

	stats := llm.NewStatsTracker()
	client := llm.NewClient(cfg.UpstreamURL, stats)
	router := llm.NewRouter(cfg)

	var warmingUp atomic.Bool
	warmingUp.Store(true)
	go func() {
		registry.WarmUp(context.Background(), cfg.Servers)
		warmingUp.Store(false)
	}()

	h := handler.New(cfg, registry, client, router, stats, *enableEval, version, warmingUp.Load, logger)

	watchConfig(*configPath, cfg, logger)

	addr := fmt.Sprintf("%s:%s", *host, *port)
	server := &http.Server{
		Addr:    addr,
		Handler: h.Mux(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("mcp-injector listening", "addr", addr)
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("failed to bind", "error", err)
			os.Exit(1)
		}
	case <-stop:
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown error", "error", err)
		}
	}

	os.Exit(0)
}

func newLogger(level, format string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// watchConfig hot-reloads the configuration file and notifies
// registered observers on change.
func watchConfig(path string, cfg *config.GatewayConfig, logger *slog.Logger) {
	if path == "" {
		return
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warn("could not open config for watching", "path", path, "error", err)
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(in fsnotify.Event) {
		logger.Info("configuration file changed", "path", in.Name)
		reloaded, err := config.Load(path)
		if err != nil {
			logger.Error("failed to reload configuration", "error", err)
			return
		}
		cfg.ReplaceFrom(reloaded)
		cfg.Notify(context.Background())
	})
}
