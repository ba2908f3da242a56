package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/erp/crmsync/internal/infrastructure/cache"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration of the sync client and the services dev
// server
type Config struct {
	App       AppConfig
	Log       LogConfig
	Cache     CacheConfig
	Editor    EditorConfig
	Dashboard DashboardConfig
	Services  ServicesConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// CacheConfig holds the SWR cache defaults
type CacheConfig struct {
	StaleTime         time.Duration
	CacheTime         time.Duration
	DedupingInterval  time.Duration
	ErrorRetryCount   int
	RefreshInterval   time.Duration
	RevalidateOnFocus bool
	CleanupInterval   time.Duration
}

// EditorConfig holds lead editor settings
type EditorConfig struct {
	DebounceDelay time.Duration
}

// DashboardConfig selects where the dashboard widgets read from
type DashboardConfig struct {
	Source string // http or redis
	Period string // week, month, quarter, all
}

// ServicesConfig holds the services API client settings
type ServicesConfig struct {
	BaseURL              string
	Timeout              time.Duration
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DatabaseConfig holds the dev server database settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string // sqlite file, ":memory:" for a throwaway database
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	LogLevel        string
	SlowQueryThresh time.Duration
	Seed            bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	SnapshotTTL time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	SamplingRatio     float64
	ExportInterval    time.Duration
}

// Load reads config.toml from the working directory or /app, then applies
// CRM_ prefixed environment variables (e.g. CRM_CACHE_STALE_TIME)
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return build(v)
}

// LoadFile reads the configuration from path
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return build(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Settings whose zero value is meaningful get their defaults here rather
	// than in applyDefaults.
	d := cache.DefaultOptions()
	v.SetDefault("cache.stale_time", d.StaleTime)
	v.SetDefault("cache.cache_time", d.CacheTime)
	v.SetDefault("cache.deduping_interval", d.DedupingInterval)
	v.SetDefault("cache.error_retry_count", d.ErrorRetryCount)
	v.SetDefault("cache.revalidate_on_focus", d.RevalidateOnFocus)
	v.SetDefault("cache.cleanup_interval", 30*time.Second)
	v.SetDefault("services.max_retries", 2)
	return v
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Cache: CacheConfig{
			StaleTime:         v.GetDuration("cache.stale_time"),
			CacheTime:         v.GetDuration("cache.cache_time"),
			DedupingInterval:  v.GetDuration("cache.deduping_interval"),
			ErrorRetryCount:   v.GetInt("cache.error_retry_count"),
			RefreshInterval:   v.GetDuration("cache.refresh_interval"),
			RevalidateOnFocus: v.GetBool("cache.revalidate_on_focus"),
			CleanupInterval:   v.GetDuration("cache.cleanup_interval"),
		},
		Editor: EditorConfig{
			DebounceDelay: v.GetDuration("editor.debounce_delay"),
		},
		Dashboard: DashboardConfig{
			Source: v.GetString("dashboard.source"),
			Period: v.GetString("dashboard.period"),
		},
		Services: ServicesConfig{
			BaseURL:              v.GetString("services.base_url"),
			Timeout:              v.GetDuration("services.timeout"),
			MaxRetries:           v.GetInt("services.max_retries"),
			RetryInitialInterval: v.GetDuration("services.retry_initial_interval"),
			RetryMaxInterval:     v.GetDuration("services.retry_max_interval"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
			SlowQueryThresh: v.GetDuration("database.slow_query_threshold"),
			Seed:            v.GetBool("database.seed"),
		},
		Redis: RedisConfig{
			Enabled:     v.GetBool("redis.enabled"),
			Host:        v.GetString("redis.host"),
			Port:        v.GetInt("redis.port"),
			Password:    v.GetString("redis.password"),
			DB:          v.GetInt("redis.db"),
			SnapshotTTL: v.GetDuration("redis.snapshot_ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "crmsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Editor.DebounceDelay == 0 {
		cfg.Editor.DebounceDelay = 500 * time.Millisecond
	}
	if cfg.Dashboard.Source == "" {
		cfg.Dashboard.Source = "http"
	}
	if cfg.Dashboard.Period == "" {
		cfg.Dashboard.Period = "month"
	}
	if cfg.Services.BaseURL == "" {
		cfg.Services.BaseURL = "http://localhost:" + cfg.App.Port
	}
	if cfg.Services.Timeout == 0 {
		cfg.Services.Timeout = 10 * time.Second
	}
	if cfg.Services.RetryInitialInterval == 0 {
		cfg.Services.RetryInitialInterval = 200 * time.Millisecond
	}
	if cfg.Services.RetryMaxInterval == 0 {
		cfg.Services.RetryMaxInterval = 2 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "crm"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "crm.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowQueryThresh == 0 {
		cfg.Database.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.SnapshotTTL == 0 {
		cfg.Redis.SnapshotTTL = 10 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if _, err := c.CacheOptions(); err != nil {
		return fmt.Errorf("invalid cache settings: %w", err)
	}
	if c.Cache.CleanupInterval < 0 {
		return fmt.Errorf("cache.cleanup_interval cannot be negative")
	}
	if c.Editor.DebounceDelay < 0 {
		return fmt.Errorf("editor.debounce_delay cannot be negative")
	}
	switch c.Dashboard.Source {
	case "http", "redis":
	default:
		return fmt.Errorf("dashboard.source must be http or redis, got %q", c.Dashboard.Source)
	}
	if c.Dashboard.Source == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("dashboard.source=redis requires redis.enabled")
	}
	if _, err := url.ParseRequestURI(c.Services.BaseURL); err != nil {
		return fmt.Errorf("services.base_url is not a valid URL: %w", err)
	}
	if c.Services.MaxRetries < 0 {
		return fmt.Errorf("services.max_retries cannot be negative")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.App.Env == "production" {
		if c.Database.Driver == "sqlite" {
			return fmt.Errorf("database.driver cannot be sqlite in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// CacheOptions converts the cache section into validated cache options
func (c *Config) CacheOptions() (cache.Options, error) {
	o := cache.Options{
		RefreshInterval:   c.Cache.RefreshInterval,
		RevalidateOnFocus: c.Cache.RevalidateOnFocus,
		DedupingInterval:  c.Cache.DedupingInterval,
		ErrorRetryCount:   c.Cache.ErrorRetryCount,
		CacheTime:         c.Cache.CacheTime,
		StaleTime:         c.Cache.StaleTime,
	}
	if err := o.Validate(); err != nil {
		return cache.Options{}, err
	}
	return o, nil
}

// DSN returns the postgres connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Watcher reloads a config file when it changes on disk. Invalid edits are
// logged and the last valid configuration is kept.
type Watcher struct {
	v      *viper.Viper
	logger *zap.Logger

	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)
}

// NewWatcher loads path and prepares to watch it
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	cfg, err := build(v)
	if err != nil {
		return nil, err
	}
	return &Watcher{v: v, logger: logger, current: cfg}, nil
}

// Current returns the last valid configuration
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn to run with every new valid configuration
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start begins watching the file
func (w *Watcher) Start() {
	w.v.OnConfigChange(w.handle)
	w.v.WatchConfig()
}

func (w *Watcher) handle(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	if err := w.v.ReadInConfig(); err != nil {
		w.logger.Warn("Failed to re-read configuration",
			zap.String("file", e.Name),
			zap.Error(err))
		return
	}
	cfg, err := build(w.v)
	if err != nil {
		w.logger.Warn("Ignoring invalid configuration change",
			zap.String("file", e.Name),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded", zap.String("file", e.Name))
	for _, fn := range listeners {
		fn(cfg)
	}
}
