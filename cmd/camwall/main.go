package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tkardel/camwall/directory"
	"github.com/tkardel/camwall/engine/hlsfeed"
	"github.com/tkardel/camwall/internal/api"
	"github.com/tkardel/camwall/internal/config"
	"github.com/tkardel/camwall/internal/metrics"
	"github.com/tkardel/camwall/livesync"
	"github.com/tkardel/camwall/nav"
	"github.com/tkardel/camwall/session"
	"github.com/tkardel/camwall/wall"
)

var version = "dev"

func main() {
	cfgPath := envOr("CAMWALL_CONFIG", "")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	dir := directory.New(nil)
	if len(cfg.Directory.Cameras) > 0 {
		records := make([]directory.Record, len(cfg.Directory.Cameras))
		for i, cam := range cfg.Directory.Cameras {
			records[i] = directory.Record{
				ID:            cam.ID,
				Title:         cam.Title,
				Lat:           cam.Lat,
				Lng:           cam.Lng,
				StreamAddress: cam.StreamURL,
			}
		}
		dir.Replace(records)
	}

	ring, err := nav.New(cfg.Directory.NavigationOrder)
	if err != nil {
		slog.Error("invalid navigation order", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	mets := metrics.New(registry)

	engines := hlsfeed.NewFactory(hlsfeed.Options{Log: slog.Default()})

	mgr := wall.New(wall.Options{
		Directory: dir,
		Order:     ring,
		Engines:   engines,
		Metrics:   mets,
		Config: wall.Config{
			WarmCapacity: cfg.Wall.WarmCapacity,
			Escalation:   cfg.Wall.EscalationDuration(),
			HardFinalize: cfg.Wall.HardFinalizeDuration(),
			Session:      sessionConfig(cfg),
		},
	})
	defer mgr.Shutdown()

	monitor := livesync.NewMonitor(
		livesync.Policy{
			MaxLag:       cfg.LiveSync.MaxLagSeconds,
			SafetyMargin: cfg.LiveSync.SafetyMarginSeconds,
			MinInterval:  cfg.LiveSync.CorrectionIntervalDuration(),
		},
		cfg.LiveSync.PollIntervalDuration(),
		mgr.LiveTargets,
		func(string) { mets.RecordCorrection() },
	)

	apiSrv := api.NewServer(cfg.API.Address, mgr, dir, slog.Default())
	apiSrv.Router().GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	slog.Info("camwall starting",
		"version", version,
		"api", cfg.API.Address,
		"cameras", dir.Len(),
		"order", ring.Len(),
		"warm_capacity", cfg.Wall.WarmCapacity,
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Directory.FeedURL != "" {
		loader := directory.NewLoader(dir, cfg.Directory.FeedURL, cfg.Directory.RefreshIntervalDuration())
		g.Go(func() error {
			return loader.Run(ctx)
		})
	}

	g.Go(func() error {
		return monitor.Run(ctx)
	})

	g.Go(func() error {
		return apiSrv.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		ErrorGrace:   cfg.Wall.ErrorGraceDuration(),
		SeekCooldown: cfg.Wall.SeekCooldownDuration(),
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
