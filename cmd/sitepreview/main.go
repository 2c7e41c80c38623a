// Command sitepreview serves the website builder back end: proxy routes to
// the generation service, the build loop and the rehydrated preview.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sitepreview/api"
	"github.com/hazyhaar/sitepreview/blob"
	"github.com/hazyhaar/sitepreview/builder"
	"github.com/hazyhaar/sitepreview/config"
	"github.com/hazyhaar/sitepreview/dbopen"
	"github.com/hazyhaar/sitepreview/journal"
	"github.com/hazyhaar/sitepreview/observability"
	"github.com/hazyhaar/sitepreview/preview"
	"github.com/hazyhaar/sitepreview/shield"
	"github.com/hazyhaar/sitepreview/upstream"
)

func main() {
	configPath := flag.String("config", os.Getenv("SITEPREVIEW_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging. The level can change on config reload.
	var level slog.LevelVar
	level.Set(cfg.Level())
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Journal DB.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("journal db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := journal.Init(db); err != nil {
		slog.Error("journal init", "error", err)
		os.Exit(1)
	}
	jrnl := journal.New(db, journal.WithLogger(logger))
	go jrnl.RunRetention(ctx, cfg.Journal.Retention, cfg.Journal.PruneInterval)

	// Build service client.
	client, err := upstream.New(cfg.Upstream, upstream.WithLogger(logger))
	if err != nil {
		slog.Error("upstream", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Preview pipeline.
	store := blob.New(cfg.Blob, blob.WithLogger(logger))
	previews := preview.NewManager(store, preview.WithLogger(logger))
	builderOpts := []builder.Option{builder.WithLogger(logger), builder.WithRecorder(jrnl)}

	// Metrics share the journal database.
	var metrics *observability.MetricsManager
	if cfg.Metrics.Enabled {
		if err := observability.Init(db); err != nil {
			slog.Error("metrics init", "error", err)
			os.Exit(1)
		}
		metrics = observability.NewMetricsManager(db,
			observability.WithLogger(logger),
			observability.WithFlushInterval(cfg.Metrics.FlushInterval))
		defer metrics.Close()
		go metrics.RunRetention(ctx, cfg.Metrics.Retention, cfg.Journal.PruneInterval)

		sampler := observability.NewSampler(metrics, cfg.Metrics.SampleInterval)
		sampler.AddGauge(observability.MetricBlobLiveHandles, "count", func() float64 { return float64(store.Live()) })
		sampler.AddGauge(observability.MetricBlobBytes, "bytes", func() float64 { return float64(store.Bytes()) })
		go sampler.Run(ctx)

		builderOpts = append(builderOpts, builder.WithObserver(metrics))
	}

	svc := builder.New(client, previews, store, cfg.Builder, builderOpts...)
	defer svc.Close()

	limiter := shield.NewRateLimiter(cfg.RateLimit)
	limiter.StartGC(ctx.Done(), time.Minute)

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
				level.Set(next.Level())
				limiter.SetLimit(next.RateLimit)
			})
			if err != nil {
				slog.Warn("config watch disabled", "error", err)
			}
		}()
	}

	var mcpSrv *mcp.Server
	if cfg.MCP {
		mcpSrv = mcp.NewServer(&mcp.Implementation{
			Name:    "sitepreview",
			Version: "1.0.0",
		}, nil)
		builder.RegisterMCP(mcpSrv, svc)
	}

	h := api.New(api.Deps{
		Proxy:    client,
		Builder:  svc,
		Previews: previews,
		Blobs:    store,
		Journal:  jrnl,
		Metrics:  metrics,
		MCP:      mcpSrv,
		Limiter:  limiter,
		Preview:  cfg.Preview,
		MaxBody:  cfg.MaxBodyBytes(),
		Logger:   logger,
	}).Routes()

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Upstream.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen, "upstream", cfg.Upstream.Endpoint(upstream.ServiceZip), "mcp", cfg.MCP)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}
