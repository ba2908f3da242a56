package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/crmsync/internal/domain/dashboard"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultSnapshotPrefix namespaces dashboard snapshot keys
const DefaultSnapshotPrefix = "crm:dashboard:"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisSnapshotSource reads dashboard aggregates the services backend
// precomputes into Redis. It is a data source for the dashboard hooks, not a
// second cache layer: freshness is still decided by the SWR cache.
type RedisSnapshotSource struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisSnapshotSource connects to Redis and verifies the connection
func NewRedisSnapshotSource(cfg RedisConfig, logger *zap.Logger) (*RedisSnapshotSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisSnapshotSourceWithClient(client, "", logger), nil
}

// NewRedisSnapshotSourceWithClient wraps an existing client
func NewRedisSnapshotSourceWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisSnapshotSource {
	if keyPrefix == "" {
		keyPrefix = DefaultSnapshotPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSnapshotSource{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (s *RedisSnapshotSource) statsKey(period dashboard.Period) string {
	return s.keyPrefix + "stats:" + string(period)
}

func (s *RedisSnapshotSource) pipelineKey() string {
	return s.keyPrefix + "pipeline"
}

func (s *RedisSnapshotSource) statusKey() string {
	return s.keyPrefix + "status"
}

// Stats reads the stats snapshot for period
func (s *RedisSnapshotSource) Stats(ctx context.Context, period dashboard.Period) (*dashboard.Stats, error) {
	var out dashboard.Stats
	if err := s.read(ctx, s.statsKey(period), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pipeline reads the pipeline snapshot
func (s *RedisSnapshotSource) Pipeline(ctx context.Context) ([]dashboard.PipelineColumn, error) {
	var out []dashboard.PipelineColumn
	if err := s.read(ctx, s.pipelineKey(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusBreakdown reads the status snapshot
func (s *RedisSnapshotSource) StatusBreakdown(ctx context.Context) ([]dashboard.StatusCount, error) {
	var out []dashboard.StatusCount
	if err := s.read(ctx, s.statusKey(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisSnapshotSource) read(ctx context.Context, key string, out any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("snapshot %s: %w", key, shared.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return nil
}

// Publish computes every dashboard aggregate from repo and stores the
// snapshots with ttl. The services server calls it after lead writes.
func (s *RedisSnapshotSource) Publish(ctx context.Context, repo dashboard.Repository, ttl time.Duration) error {
	pipe := s.client.TxPipeline()

	for _, period := range []dashboard.Period{dashboard.PeriodWeek, dashboard.PeriodMonth, dashboard.PeriodQuarter, dashboard.PeriodAll} {
		stats, err := repo.Stats(ctx, period)
		if err != nil {
			return fmt.Errorf("computing %s stats: %w", period, err)
		}
		if err := s.set(ctx, pipe, s.statsKey(period), stats, ttl); err != nil {
			return err
		}
	}

	pipeline, err := repo.Pipeline(ctx)
	if err != nil {
		return fmt.Errorf("computing pipeline: %w", err)
	}
	if err := s.set(ctx, pipe, s.pipelineKey(), pipeline, ttl); err != nil {
		return err
	}

	statuses, err := repo.StatusBreakdown(ctx)
	if err != nil {
		return fmt.Errorf("computing status breakdown: %w", err)
	}
	if err := s.set(ctx, pipe, s.statusKey(), statuses, ttl); err != nil {
		return err
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish dashboard snapshots: %w", err)
	}
	s.logger.Debug("Dashboard snapshots published", zap.Duration("ttl", ttl))
	return nil
}

func (s *RedisSnapshotSource) set(ctx context.Context, pipe redis.Pipeliner, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", key, err)
	}
	pipe.Set(ctx, key, raw, ttl)
	return nil
}

// Close closes the Redis client
func (s *RedisSnapshotSource) Close() error {
	return s.client.Close()
}
