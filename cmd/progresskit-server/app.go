package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	_ "github.com/lib/pq"

	jsonfileAdapter "progresskit/adapters/jsonfile"
	mem "progresskit/adapters/memory"
	redisAdapter "progresskit/adapters/redis"
	sqlxAdapter "progresskit/adapters/sqlx"
	"progresskit/analytics"
	"progresskit/api/httpapi"
	"progresskit/config"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/integrations/webhook"
	"progresskit/leaderboard"
	"progresskit/progress"
	"progresskit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Hub       *realtime.Hub
	Ranker    *leaderboard.Ranker
	Service   *engine.Service
	Telemetry *Telemetry
	Handler   http.Handler
	Server    *http.Server
}

// Shutdown flushes buffered analytics and closes the event bus.
func (a *App) Shutdown(ctx context.Context) {
	if a.Telemetry != nil {
		if err := a.Telemetry.Flush(ctx); err != nil {
			slog.Error("analytics flush failed", "error", err)
		}
	}
	a.Service.Close()
}

// Telemetry bundles the in-process KPI pipeline: live counters, daily
// rollups, and the optional export target.
type Telemetry struct {
	Metrics    *analytics.Metrics
	Aggregator *analytics.Aggregator
	exporter   analytics.Exporter
}

// Hooks returns the event hooks the service should feed.
func (t *Telemetry) Hooks() []analytics.Hook {
	if t == nil {
		return nil
	}
	return []analytics.Hook{t.Metrics, t.Aggregator}
}

// Flush exports every accumulated daily snapshot and flushes the target.
func (t *Telemetry) Flush(ctx context.Context) error {
	if t == nil || t.exporter == nil {
		return nil
	}
	for _, snap := range t.Aggregator.Snapshots() {
		if err := t.exporter.Export(ctx, snap); err != nil {
			return err
		}
	}
	if err := t.exporter.Flush(ctx); err != nil {
		return err
	}
	return t.exporter.Close()
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config) (engine.Store, error) {
	return setupStorage(ctx, cfg)
}

func provideRanker(storage engine.Store) *leaderboard.Ranker {
	return leaderboard.NewRanker(storage)
}

func provideTelemetry(cfg *config.Config) *Telemetry {
	if !cfg.Analytics.Enabled {
		return nil
	}
	metrics := analytics.NewMetrics()
	t := &Telemetry{
		Metrics:    metrics,
		Aggregator: analytics.NewAggregator(metrics),
	}
	if cfg.Analytics.ExportEndpoint != "" {
		t.exporter = analytics.NewHTTPExporter(
			cfg.Analytics.ExportEndpoint,
			cfg.Analytics.ExportAPIKey,
			cfg.Analytics.ExportBatchSize,
		)
	}
	return t
}

func provideService(cfg *config.Config, hub *realtime.Hub, storage engine.Store, telemetry *Telemetry) *engine.Service {
	hooks := telemetry.Hooks()
	if len(cfg.Webhooks.Endpoints) > 0 {
		var sinkOpts []webhook.Option
		if len(cfg.Webhooks.EventTypes) > 0 {
			sinkOpts = append(sinkOpts, webhook.WithEventTypes(parseEventTypes(cfg.Webhooks.EventTypes)...))
		}
		hooks = append(hooks, webhook.New(cfg.Webhooks.Endpoints, sinkOpts...))
	}
	return progress.New(
		progress.WithRealtime(hub),
		progress.WithStore(storage),
		progress.WithDispatchMode(engine.DispatchAsync),
		progress.WithAnalytics(hooks...),
	)
}

func provideHandler(svc *engine.Service, ranker *leaderboard.Ranker, hub *realtime.Hub, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, ranker, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

func parseEventTypes(raw []string) []core.EventType {
	types := make([]core.EventType, 0, len(raw))
	for _, r := range raw {
		types = append(types, core.EventType(r))
	}
	return types
}

// setupStorage creates the appropriate storage adapter based on configuration.
func setupStorage(ctx context.Context, cfg *config.Config) (engine.Store, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "redis":
		return redisAdapter.New(cfg.Storage.Redis)
	case "sql":
		store, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, nil
	case "file":
		return jsonfileAdapter.New(cfg.Storage.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
