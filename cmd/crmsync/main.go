// Command crmsync runs the CRM sync client: it keeps the dashboard widgets
// revalidated from the services layer and optionally holds one lead under
// edit.
//
// SIGUSR1 acts as a focus event. SIGINT and SIGTERM exit.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	dashapp "github.com/erp/crmsync/internal/application/dashboard"
	"github.com/erp/crmsync/internal/application/leadedit"
	"github.com/erp/crmsync/internal/domain/dashboard"
	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/infrastructure/cache"
	"github.com/erp/crmsync/internal/infrastructure/config"
	"github.com/erp/crmsync/internal/infrastructure/logger"
	"github.com/erp/crmsync/internal/infrastructure/services"
	"github.com/erp/crmsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath  string
		leadID      string
		logInterval time.Duration
	)
	flag.StringVar(&configPath, "config", "config.toml", "Path to the configuration file")
	flag.StringVar(&leadID, "lead", "", "ID of a lead to load into the editor")
	flag.DurationVar(&logInterval, "log-interval", 30*time.Second, "How often to log the widget state")
	flag.Parse()

	watcher, err := config.NewWatcher(configPath, nil)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	cfg := watcher.Current()

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting CRM sync client",
		zap.String("app", cfg.App.Name),
		zap.String("services", cfg.Services.BaseURL),
		zap.String("dashboard_source", cfg.Dashboard.Source),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	metrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  mp.Meter("crmsync"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}
	defer metrics.Stop()

	defaults, err := cfg.CacheOptions()
	if err != nil {
		log.Fatal("Invalid cache configuration", zap.Error(err))
	}
	focus := cache.NewFocusBroadcaster(log.Named("focus"))
	cacheSvc, err := cache.NewService(
		cache.WithLogger(log.Named("cache")),
		cache.WithMetrics(metrics),
		cache.WithDefaults(defaults),
		cache.WithFocusNotifier(focus),
		cache.WithStoreCleanupInterval(cfg.Cache.CleanupInterval),
	)
	if err != nil {
		log.Fatal("Failed to start cache", zap.Error(err))
	}
	defer func() {
		_ = cacheSvc.Close()
	}()
	if err := metrics.ObserveStore(cacheSvc.Store()); err != nil {
		log.Warn("Cache size will not be reported", zap.Error(err))
	}

	client, err := services.NewClient(services.Config{
		BaseURL:              cfg.Services.BaseURL,
		Timeout:              cfg.Services.Timeout,
		MaxRetries:           cfg.Services.MaxRetries,
		RetryInitialInterval: cfg.Services.RetryInitialInterval,
		RetryMaxInterval:     cfg.Services.RetryMaxInterval,
	}, services.WithLogger(log.Named("services")))
	if err != nil {
		log.Fatal("Failed to create services client", zap.Error(err))
	}

	var source dashapp.Source = services.NewDashboardClient(client)
	if cfg.Dashboard.Source == "redis" {
		snapshots, err := services.NewRedisSnapshotSource(services.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log.Named("snapshots"))
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			_ = snapshots.Close()
		}()
		source = snapshots
	}

	hooks := dashapp.NewHooks(cacheSvc, source, dashapp.WithLogger(log.Named("dashboard")))
	w := &widgets{hooks: hooks, logger: log.Named("widgets")}
	w.mount(ctx, cfg)
	defer w.close()

	watcher.OnChange(func(next *config.Config) {
		w.mount(ctx, next)
	})
	watcher.Start()

	var editor *leadedit.Editor
	if leadID != "" {
		gateway := &invalidatingGateway{
			Gateway:    services.NewLeadClient(client),
			invalidate: hooks.Invalidate,
		}
		editor = leadedit.NewEditor(gateway,
			leadedit.WithLogger(log.Named("editor")),
			leadedit.WithMetrics(metrics),
			leadedit.WithDebounceDelay(cfg.Editor.DebounceDelay),
			leadedit.WithContext(ctx),
			leadedit.WithErrorHandler(func(category lead.Category, err error) {
				log.Warn("Lead update rejected",
					zap.String("category", string(category)),
					zap.Error(err))
			}),
		)
		defer func() {
			_ = editor.Close()
		}()

		l, err := gateway.Get(ctx, leadID)
		if err != nil {
			log.Fatal("Failed to load lead", zap.String("lead_id", leadID), zap.Error(err))
		}
		editor.Load(*l)
		log.Info("Lead loaded into editor",
			zap.String("lead_id", l.ID),
			zap.String("status", string(l.Status)))

		unsubscribe := focus.Subscribe(func() {
			editor.Flush()
			if err := editor.SyncWithServer(ctx); err != nil {
				log.Warn("Failed to sync lead", zap.Error(err))
			}
		})
		defer unsubscribe()
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	ticker := time.NewTicker(logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down sync client...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := mp.Shutdown(shutdownCtx); err != nil {
				log.Error("Failed to flush metrics", zap.Error(err))
			}
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Error("Failed to flush traces", zap.Error(err))
			}
			cancel()
			return
		case <-usr1:
			log.Info("Focus event")
			focus.Focus()
		case <-ticker.C:
			w.report()
			if editor != nil {
				if l, ok := editor.Lead(); ok {
					log.Info("Lead state",
						zap.String("lead_id", l.ID),
						zap.String("status", string(l.Status)),
						zap.Bool("has_error", editor.HasError()))
				}
			}
		}
	}
}

// widgets holds the mounted dashboard hooks. A configuration reload
// remounts them with the new period and revalidation settings.
type widgets struct {
	hooks  *dashapp.Hooks
	logger *zap.Logger

	mu        sync.Mutex
	stats     *cache.Hook[*dashboard.Stats]
	pipeline  *cache.Hook[[]dashboard.PipelineColumn]
	breakdown *cache.Hook[[]dashboard.StatusCount]
}

func (w *widgets) mount(ctx context.Context, cfg *config.Config) {
	opts := []cache.Option{
		cache.WithRefreshInterval(cfg.Cache.RefreshInterval),
		cache.WithRevalidateOnFocus(cfg.Cache.RevalidateOnFocus),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()

	hooks := w.hooks.With(opts...)
	w.stats = hooks.Stats(ctx, dashboard.Period(cfg.Dashboard.Period))
	w.pipeline = hooks.Pipeline(ctx)
	w.breakdown = hooks.StatusBreakdown(ctx)

	w.logger.Info("Dashboard widgets mounted",
		zap.String("period", cfg.Dashboard.Period),
		zap.Duration("refresh_interval", cfg.Cache.RefreshInterval),
		zap.Bool("revalidate_on_focus", cfg.Cache.RevalidateOnFocus))
}

func (w *widgets) report() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stats == nil {
		return
	}

	stats := w.stats.State()
	fields := []zap.Field{
		zap.Bool("has_data", stats.HasData),
		zap.Bool("validating", stats.IsValidating),
		zap.Time("updated_at", stats.UpdatedAt),
	}
	if stats.HasData && stats.Data != nil {
		fields = append(fields,
			zap.Int64("total_leads", stats.Data.TotalLeads),
			zap.Int64("won_leads", stats.Data.WonLeads),
			zap.String("pipeline_value", stats.Data.PipelineValue.String()),
			zap.String("conversion_rate", stats.Data.ConversionRate.String()))
	}
	if stats.Err != nil {
		fields = append(fields, zap.Error(stats.Err))
	}
	w.logger.Info("Dashboard stats", fields...)

	pipeline := w.pipeline.State()
	breakdown := w.breakdown.State()
	w.logger.Info("Dashboard boards",
		zap.Int("pipeline_columns", len(pipeline.Data)),
		zap.Int("statuses", len(breakdown.Data)),
		zap.NamedError("pipeline_error", pipeline.Err),
		zap.NamedError("status_error", breakdown.Err))
}

func (w *widgets) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

func (w *widgets) closeLocked() {
	if w.stats != nil {
		w.stats.Close()
		w.pipeline.Close()
		w.breakdown.Close()
	}
	w.stats, w.pipeline, w.breakdown = nil, nil, nil
}
