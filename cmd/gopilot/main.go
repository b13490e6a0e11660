// Package main is the entry point for the gopilot gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopilot/config"
	"gopilot/internal/agent"
	"gopilot/internal/cache"
	"gopilot/internal/logging"
	"gopilot/internal/memory"
	"gopilot/internal/observability"
	"gopilot/internal/server"
	"gopilot/internal/upstream"
	"gopilot/internal/version"
	"gopilot/internal/workspace"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging)
	logger.Info("starting gopilot",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	// Metrics
	var metrics *observability.Metrics
	var recorder upstream.Recorder
	if cfg.Metrics.Enabled {
		metrics = observability.New()
		recorder = metrics
		logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	invoker := upstream.NewInvoker(recorder)

	// Memory subsystem (optional)
	var memoryService *memory.Service
	if cfg.Memory.Enabled {
		store, err := memory.NewPostgresStore(context.Background(), cfg.Memory.PostgresURL)
		if err != nil {
			logger.Error("failed to initialize memory store", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		contextCache, err := buildContextCache(cfg.Memory, logger)
		if err != nil {
			logger.Error("failed to initialize context cache", "error", err)
			os.Exit(1)
		}
		if contextCache != nil {
			defer func() {
				_ = contextCache.Close() //nolint:errcheck
			}()
		}

		memoryService = memory.NewService(store, contextCache, logger)
		logger.Info("memory subsystem enabled")
	}

	// Workspace subsystem (optional)
	var workspaces *workspace.Manager
	if cfg.Workspace.Enabled {
		docker, err := workspace.NewDockerClient()
		if err != nil {
			logger.Error("failed to initialize docker client", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = docker.Close() //nolint:errcheck
		}()

		workspaces = workspace.NewManager(docker, cfg.Workspace, logger)
		logger.Info("workspace subsystem enabled", "image", cfg.Workspace.Image)
	}

	// The agent endpoint only makes sense with at least one subsystem or a
	// plain upstream; it is wired whenever memory or workspaces are on.
	opts := server.Options{
		Metrics: metrics,
		Logger:  logger,
	}
	if memoryService != nil || workspaces != nil {
		opts.Agent = agent.New(cfg.Upstream, invoker, memoryOrNil(memoryService), ensurerOrNil(workspaces), logger)
		logger.Info("agent endpoint enabled")
	}

	srv := server.New(cfg, invoker, opts)

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("server stopped gracefully")
		} else {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}

// buildContextCache picks the cache backend: Redis for multi-instance
// deployments, a local file cache otherwise, or none at all.
func buildContextCache(cfg config.MemoryConfig, logger *slog.Logger) (cache.Cache, error) {
	switch {
	case cfg.RedisURL != "":
		return cache.NewRedisCache(cache.RedisConfig{URL: cfg.RedisURL, TTL: cfg.CacheTTL})
	case cfg.CachePath != "":
		logger.Info("using local context cache", "path", cfg.CachePath)
		return cache.NewLocalCache(cfg.CachePath, cfg.CacheTTL), nil
	default:
		return nil, nil
	}
}

// memoryOrNil avoids handing the agent a typed-nil interface.
func memoryOrNil(s *memory.Service) agent.Memory {
	if s == nil {
		return nil
	}
	return s
}

func ensurerOrNil(m *workspace.Manager) agent.WorkspaceEnsurer {
	if m == nil {
		return nil
	}
	return m
}
