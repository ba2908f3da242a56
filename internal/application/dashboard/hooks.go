package dashboard

import (
	"context"
	"strings"

	"github.com/erp/crmsync/internal/domain/dashboard"
	"github.com/erp/crmsync/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// Cache keys mirror the services endpoints the data comes from
const (
	StatsEndpoint           = "/api/v1/dashboard/stats"
	PipelineEndpoint        = "/api/v1/dashboard/pipeline"
	StatusBreakdownEndpoint = "/api/v1/dashboard/status"
)

// Source loads dashboard read models. The services HTTP client and the Redis
// snapshot reader both satisfy it.
type Source interface {
	Stats(ctx context.Context, period dashboard.Period) (*dashboard.Stats, error)
	Pipeline(ctx context.Context) ([]dashboard.PipelineColumn, error)
	StatusBreakdown(ctx context.Context) ([]dashboard.StatusCount, error)
}

// Hooks mounts the dashboard widgets on the SWR cache
type Hooks struct {
	svc    *cache.Service
	source Source
	opts   []cache.Option
	logger *zap.Logger
}

// HooksOption configures Hooks
type HooksOption func(*Hooks)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) HooksOption {
	return func(h *Hooks) {
		h.logger = logger
	}
}

// WithCacheOptions sets per-hook cache options applied to every widget
func WithCacheOptions(opts ...cache.Option) HooksOption {
	return func(h *Hooks) {
		h.opts = append(h.opts, opts...)
	}
}

// NewHooks creates dashboard hooks reading from source through svc
func NewHooks(svc *cache.Service, source Source, opts ...HooksOption) *Hooks {
	h := &Hooks{
		svc:    svc,
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// With returns hooks sharing the service and source of h with opts applied
// after its own cache options
func (h *Hooks) With(opts ...cache.Option) *Hooks {
	merged := make([]cache.Option, 0, len(h.opts)+len(opts))
	merged = append(merged, h.opts...)
	merged = append(merged, opts...)
	return &Hooks{svc: h.svc, source: h.source, opts: merged, logger: h.logger}
}

// StatsKey returns the cache key of the stats widget for period
func StatsKey(period dashboard.Period) string {
	return cache.Key(StatsEndpoint, map[string]string{"period": string(period)})
}

// Stats mounts the headline numbers for period. An unknown period falls
// back to the whole history.
func (h *Hooks) Stats(ctx context.Context, period dashboard.Period) *cache.Hook[*dashboard.Stats] {
	if !period.IsValid() {
		h.logger.Warn("Unknown dashboard period, using all",
			zap.String("period", string(period)))
		period = dashboard.PeriodAll
	}
	return cache.UseCache(ctx, h.svc, StatsKey(period), func(ctx context.Context) (*dashboard.Stats, error) {
		return h.source.Stats(ctx, period)
	}, h.opts...)
}

// Pipeline mounts the per-column board totals
func (h *Hooks) Pipeline(ctx context.Context) *cache.Hook[[]dashboard.PipelineColumn] {
	return cache.UseCache(ctx, h.svc, PipelineEndpoint, h.source.Pipeline, h.opts...)
}

// StatusBreakdown mounts the per-status totals
func (h *Hooks) StatusBreakdown(ctx context.Context) *cache.Hook[[]dashboard.StatusCount] {
	return cache.UseCache(ctx, h.svc, StatusBreakdownEndpoint, h.source.StatusBreakdown, h.opts...)
}

// Invalidate refreshes every cached dashboard widget after a lead mutation
// changed the aggregates. Mounted widgets keep showing their numbers until
// the refetch lands; widgets not mounted are dropped and load on next mount.
func (h *Hooks) Invalidate() {
	n := 0
	for _, key := range h.svc.Store().Keys() {
		if isDashboardKey(key) {
			h.svc.Invalidate(key)
			n++
		}
	}
	h.logger.Debug("Dashboard cache invalidated", zap.Int("keys", n))
}

func isDashboardKey(key string) bool {
	for _, endpoint := range []string{StatsEndpoint, PipelineEndpoint, StatusBreakdownEndpoint} {
		if key == endpoint || strings.HasPrefix(key, endpoint+"?") {
			return true
		}
	}
	return false
}
