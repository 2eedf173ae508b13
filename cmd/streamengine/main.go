// Command streamengine is the process entry point: it wires DedupCache,
// FilterPipeline, EventBus, StreamCore, the dashboard hub, alert sinks,
// the console sink, and HealthMonitor together in the topological order
// SPEC_FULL.md §9 prescribes, then serves until a termination signal
// arrives. Grounded on the teacher's main.go (flag-based cmd/ tools for
// --help/--version, SIGHUP config reload, SIGTERM graceful shutdown with
// a timeout context).
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
	"time"

	"streamengine/internal/activeusers"
	"streamengine/internal/alerts"
	"streamengine/internal/config"
	"streamengine/internal/console"
	"streamengine/internal/dashboard"
	"streamengine/internal/dedup"
	"streamengine/internal/eventbus"
	"streamengine/internal/filter"
	"streamengine/internal/health"
	"streamengine/internal/kvstore"
	"streamengine/internal/logging"
	"streamengine/internal/model"
	"streamengine/internal/ring"
	"streamengine/internal/runtimesub"
	"streamengine/internal/stream"
)

// version is the build version; overridden at release build time via
// -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second
const stateBroadcastInterval = 10 * time.Second

// runPeriodicStateBroadcast re-sends the ring+stats "state" snapshot to
// every connected dashboard client so an already-open connection's view
// doesn't go stale between deliveries.
func runPeriodicStateBroadcast(ctx context.Context, hub *dashboard.Hub) {
	ticker := time.NewTicker(stateBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.BroadcastState()
		}
	}
}

func main() {
	var (
		configPath  string
		showHelp    bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to a JSON config file (overrides STREAMENGINE_CONFIG)")
	flag.BoolVar(&showHelp, "help", false, "Show usage and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showHelp, "h", false, "Show usage and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit")
	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Println("streamengine " + version)
		os.Exit(0)
	}
	if configPath != "" {
		os.Setenv("STREAMENGINE_CONFIG", configPath)
	}

	logging.Init()

	cfg := config.Get()
	slog.Info("configuration loaded",
		"endpoint", cfg.Endpoint,
		"token_fingerprint", config.TokenFingerprint(cfg.APIfyToken),
		"dashboard_enabled", cfg.DashboardEnabled,
		"alerts_enabled", cfg.AlertsEnabled,
	)

	if cfg.APIfyActorURL == "" {
		slog.Error("APIFY_ACTOR_URL is required, exiting")
		os.Exit(1)
	}

	// Construction in topological order: DedupCache -> FilterPipeline ->
	// EventBus -> StreamCore -> {dashboard, alerts, health}.
	var dedupOpts []dedup.Option
	if cfg.RedisURL != "" {
		backend, err := kvstore.Open(kvstore.Config{RedisURL: cfg.RedisURL, KeyPrefix: "dedup:"})
		if err != nil {
			slog.Warn("redis backend unavailable, falling back to in-memory dedup mirror", "error", err)
		} else {
			dedupOpts = append(dedupOpts, dedup.WithBackend(backend))
		}
	}
	dedupCache := dedup.New(dedupOpts...)
	defer dedupCache.Close()

	pipeline := filter.New()
	pipeline.SetUsers(cfg.Users)
	if err := pipeline.SetKeywords(cfg.Keywords); err != nil {
		slog.Warn("invalid KEYWORDS config, ignoring", "error", err)
	}

	bus := eventbus.New()
	eventRing := ring.New()

	core := stream.New(stream.Config{
		BaseURL:  cfg.APIfyActorURL,
		Token:    cfg.APIfyToken,
		Endpoint: cfg.Endpoint,
	}, dedupCache, pipeline, bus, eventRing)

	alertDispatcher := alerts.NewDispatcher()
	if cfg.AlertsEnabled {
		alertDispatcher.AddSink(alerts.NewLogSink("log"))
		if webhookURL := os.Getenv("ALERT_WEBHOOK_URL"); webhookURL != "" {
			alertDispatcher.AddSink(alerts.NewWebhookSink("webhook", webhookURL))
		}
	}

	ctx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	consoleSink := console.New(os.Stdout)
	bus.Subscribe(eventbus.ChannelEvents, consoleSink.Handle)

	if cfg.AlertsEnabled {
		bus.Subscribe(eventbus.ChannelAlerts, func(e model.TwitterEvent) error {
			alertDispatcher.Dispatch(ctx, &e)
			return nil
		})
	}

	// Handler and Hub each depend on the other: build the Handler with no
	// broadcaster, construct the Hub from it, then wire the Hub back in.
	rpcHandler := runtimesub.New(core, nil)
	var hub *dashboard.Hub
	if cfg.DashboardEnabled {
		hub = dashboard.New(rpcHandler, eventRing, core)
		rpcHandler.SetBroadcaster(hub)
		bus.Subscribe(eventbus.ChannelEvents, func(e model.TwitterEvent) error {
			hub.BroadcastEvent(e)
			return nil
		})
		go runPeriodicStateBroadcast(ctx, hub)
	}

	var userFetcher *activeusers.Fetcher
	if usersEndpoint := cfg.APIfyActorURL; usersEndpoint != "" {
		userFetcher = activeusers.New(usersEndpoint, cfg.APIfyToken, pipeline)
		userFetcher.StartPeriodicRefresh(ctx, activeusers.DefaultRefreshInterval)
	}

	monitor := health.New(core, pipeline, alertDispatcher)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", monitor.StatusHandler)
	mux.HandleFunc("/metrics", monitor.MetricsHandler)
	mux.HandleFunc("/", monitor.LiveHandler)
	if hub != nil {
		mux.Handle("/ws", hub)
	}

	server := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           logging.Middleware(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := core.Start(ctx); err != nil {
		slog.Error("stream core failed to start", "error", err)
		os.Exit(1)
	}

	go func() {
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		for range sighup {
			slog.Info("received SIGHUP, reloading configuration")
			config.Reload()
		}
	}()

	go func() {
		sigterm := make(chan os.Signal, 1)
		signal.Notify(sigterm, syscall.SIGTERM, syscall.SIGINT)
		<-sigterm
		slog.Info("shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		if userFetcher != nil {
			userFetcher.StopPeriodicRefresh()
		}
		core.Stop()
		rootCancel()

		slog.Info("cleanup complete")
	}()

	slog.Info("starting streamengine", "addr", cfg.HealthAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
