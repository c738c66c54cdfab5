package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/noderank/noderank/internal/api"
	"github.com/noderank/noderank/internal/config"
	"github.com/noderank/noderank/internal/engine"
	"github.com/noderank/noderank/internal/metrics"
	"github.com/noderank/noderank/internal/native"
	"github.com/noderank/noderank/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("noderankd starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"queue_depth", cfg.Engine.QueueDepth,
		"task_ttl", cfg.Engine.TaskTTL,
		"native_module", cfg.Native.ModulePath,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Native bridge — nil disables the native backend entirely. The module
	// is loaded lazily on the first native task, not here.
	var bridge engine.NativeBridge
	if cfg.Native.ModulePath != "" {
		b := native.New(cfg.Native.ModulePath)
		defer b.Close(context.Background()) //nolint:errcheck
		bridge = b
	}

	reg := metrics.New()
	eng := engine.New(bridge, reg, engine.Options{
		QueueDepth:  cfg.Engine.QueueDepth,
		TaskTTL:     cfg.Engine.TaskTTL,
		EventBuffer: cfg.Engine.EventBuffer,
	})
	go eng.Run(ctx)

	limits := api.Limits{MaxNodes: cfg.Limits.MaxNodes, MaxEdges: cfg.Limits.MaxEdges}
	handler := api.New(eng, reg, limits)

	// WebSocket hub — relays engine events to all connected clients.
	hub := ws.New(eng, limits)
	go hub.Run(ctx)

	// Hot reload: only the graph size limits apply without a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			l := api.Limits{MaxNodes: next.Limits.MaxNodes, MaxEdges: next.Limits.MaxEdges}
			handler.UpdateLimits(l)
			hub.UpdateLimits(l)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", handler)
	httpMux.Handle("/metrics", handler)
	httpMux.Handle("/ws/compute", hub)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("noderankd shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
