// Command throttle runs the cost-optimizing chat-completion proxy: it loads
// the configuration, model catalog and routing table, wires the
// classification/override/routing pipeline and provider dispatcher, and
// serves the ingress HTTP surface described in SPEC_FULL.md §6. Grounded on
// the teacher's cmd/server/main.go wiring order (config -> registry ->
// router -> handler -> mux -> graceful shutdown).
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liekzejaws/clawd-throttle/internal/catalog"
	"github.com/liekzejaws/clawd-throttle/internal/classifier"
	"github.com/liekzejaws/clawd-throttle/internal/config"
	"github.com/liekzejaws/clawd-throttle/internal/dedup"
	"github.com/liekzejaws/clawd-throttle/internal/dispatcher"
	"github.com/liekzejaws/clawd-throttle/internal/ingress"
	"github.com/liekzejaws/clawd-throttle/internal/observability"
	"github.com/liekzejaws/clawd-throttle/internal/override"
	"github.com/liekzejaws/clawd-throttle/internal/pipeline"
	"github.com/liekzejaws/clawd-throttle/internal/provider"
	"github.com/liekzejaws/clawd-throttle/internal/provider/anthropic"
	"github.com/liekzejaws/clawd-throttle/internal/provider/google"
	"github.com/liekzejaws/clawd-throttle/internal/provider/openaicompat"
	"github.com/liekzejaws/clawd-throttle/internal/ratelimit"
	"github.com/liekzejaws/clawd-throttle/internal/router"
	"github.com/liekzejaws/clawd-throttle/internal/routinglog"
	"github.com/liekzejaws/clawd-throttle/internal/routingtable"
	"github.com/liekzejaws/clawd-throttle/internal/session"
	"github.com/liekzejaws/clawd-throttle/internal/stats"
	"github.com/liekzejaws/clawd-throttle/internal/tracing"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	flag.Parse()

	bootLog := observability.New(observability.Config{JSONFormat: true}, nil)

	cfgManager, err := config.NewManager(*configPath, bootLog)
	if err != nil {
		bootLog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	log := observability.New(observability.Config{
		Level:      parseLevel(cfg.Logging.Level),
		JSONFormat: cfg.Logging.JSONFormat,
	}, observability.NewRedactor())

	log.Info("starting throttle proxy", "mode", cfg.Mode, "port", cfg.HTTP.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		log.Warn("config hot-reload disabled", "error", err)
	}
	defer cfgManager.Close()

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		log.Error("failed to load model catalog", "error", err)
		os.Exit(1)
	}

	table, err := routingtable.Load(cfg.RoutingTab, cat)
	if err != nil {
		log.Error("failed to load routing table", "error", err)
		os.Exit(1)
	}

	weights := classifier.DefaultWeights()
	if cfg.Classifier.WeightsPath != "" {
		weights, err = classifier.LoadWeights(cfg.Classifier.WeightsPath)
		if err != nil {
			log.Error("failed to load classifier weights", "error", err)
			os.Exit(1)
		}
	}
	thresholds := classifier.DefaultThresholds()
	if cfg.Classifier.SimpleMax != 0 {
		thresholds.SimpleMax = cfg.Classifier.SimpleMax
	}
	if cfg.Classifier.ComplexMin != 0 {
		thresholds.ComplexMin = cfg.Classifier.ComplexMin
	}
	cls := classifier.New(weights, thresholds)

	registry := provider.NewRegistry(cfg.Bindings(), nil)
	registerAdapters(registry, cfg)

	detector := override.New(override.DefaultAliases(), cat.Hierarchy(), log)
	rt := router.New(cat, table)
	sessions := session.New(cfg.Session.IdleTTL)
	defer sessions.Close()

	pl := pipeline.New(cls, detector, rt, sessions, cat)

	limiter := ratelimit.NewLimiter()
	anthBinding := cfg.Providers[provider.TagAnthropic]
	dualKey := anthropicDualKey{state: ratelimit.NewDualKeyState(
		anthBinding.SetupToken != "", anthBinding.APIKey != "", anthBinding.PreferSetupToken,
	)}
	disp := dispatcher.New(&http.Client{Timeout: 120 * time.Second}, registry, dualKey, limiter, log)

	writer, err := routinglog.Open(cfg.RoutingLog.Path, log)
	if err != nil {
		log.Error("failed to open routing log", "error", err)
		os.Exit(1)
	}
	defer writer.Close()

	dedupStore, closeDedup, err := buildDedupStore(cfg.Dedup)
	if err != nil {
		log.Error("failed to initialize dedup store", "error", err)
		os.Exit(1)
	}
	if closeDedup != nil {
		defer closeDedup()
	}

	agg := stats.New(writer, cat)

	tracer, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())

	handler := &ingress.Handler{
		Pipeline:   pl,
		Dispatcher: disp,
		Providers:  registry,
		Limiter:    limiter,
		Sessions:   sessions,
		RoutingLog: writer,
		Dedup:      dedupStore,
		Catalog:    cat,
		Stats:      agg,
		Mode:       cfg.Mode,
		Log:        log,
		Tracer:     tracer,
		Throttle:   ingress.NewClientThrottle(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		StartedAt:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // long-running streams outlive a short write timeout
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		log.Info("server listening", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	log.Info("server stopped")
}

// registerAdapters binds every configured provider tag to the adapter that
// speaks its wire dialect. DeepSeek, xAI, Moonshot, Mistral and Ollama are
// all OpenAI-compatible dialects distinguished only by base URL, so they
// share openaicompat.Adapter with a different Tag for metrics/logging.
func registerAdapters(registry *provider.Registry, cfg *config.Config) {
	client := &http.Client{Timeout: 120 * time.Second}
	for tag := range cfg.Providers {
		switch tag {
		case provider.TagAnthropic:
			registry.RegisterAdapter(tag, anthropic.New(client))
		case provider.TagGoogle:
			registry.RegisterAdapter(tag, google.New(client))
		default:
			registry.RegisterAdapter(tag, openaicompat.New(tag, client))
		}
	}
}

// anthropicDualKey adapts a single shared *ratelimit.DualKeyState to
// dispatcher.DualKeyStates.
type anthropicDualKey struct {
	state *ratelimit.DualKeyState
}

func (a anthropicDualKey) Anthropic() *ratelimit.DualKeyState { return a.state }

// buildDedupStore constructs the configured dedup backend. The returned
// close func is nil for the in-memory backend, which has nothing to flush.
func buildDedupStore(cfg config.DedupConfig) (ingress.DedupStore, func(), error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = dedup.DefaultTTL
	}
	if cfg.Backend == "redis" {
		redisCache, err := dedup.NewRedis(dedup.RedisConfig{
			Addr:       cfg.RedisURL,
			Namespace:  "throttle",
			DefaultTTL: ttl,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis dedup backend: %w", err)
		}
		return ingress.NewRedisDedupStore(redisCache), func() { redisCache.Close() }, nil
	}
	return ingress.NewMemDedupStore(dedup.New(ttl)), nil, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
