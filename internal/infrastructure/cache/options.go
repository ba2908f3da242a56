package cache

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default hook options
const (
	DefaultDedupingInterval = 2 * time.Second
	DefaultErrorRetryCount  = 3
	DefaultCacheTime        = 5 * time.Minute
	DefaultStaleTime        = 2 * time.Minute
)

// retryBaseDelay is the unit of the exponential retry delay: attempt n waits
// 2^n * retryBaseDelay.
const retryBaseDelay = time.Second

// Options controls how a hook fetches, refreshes and ages one key
type Options struct {
	// RefreshInterval starts a repeating background fetch when positive
	RefreshInterval time.Duration `validate:"gte=0"`
	// RevalidateOnFocus refetches stale or missing entries on focus events
	RevalidateOnFocus bool
	// DedupingInterval drops calls for a key made this soon after the previous one
	DedupingInterval time.Duration `validate:"gte=0"`
	// ErrorRetryCount bounds retries after a failed fetch
	ErrorRetryCount int `validate:"gte=0,lte=10"`
	// CacheTime is the age at which an entry is discarded
	CacheTime time.Duration `validate:"gt=0,gtefield=StaleTime"`
	// StaleTime is the age from which an entry is served but refreshed
	StaleTime time.Duration `validate:"gte=0"`
}

// DefaultOptions returns the default hook options
func DefaultOptions() Options {
	return Options{
		RefreshInterval:   0,
		RevalidateOnFocus: true,
		DedupingInterval:  DefaultDedupingInterval,
		ErrorRetryCount:   DefaultErrorRetryCount,
		CacheTime:         DefaultCacheTime,
		StaleTime:         DefaultStaleTime,
	}
}

var optionsValidator = validator.New()

// Validate checks the options for consistency
func (o Options) Validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		return fmt.Errorf("invalid cache options: %w", err)
	}
	return nil
}

// retryDelay returns the wait before retry number attempt (1-based)
func retryDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * retryBaseDelay
}

// Option overrides a single hook option
type Option func(*Options)

// WithRefreshInterval enables interval revalidation
func WithRefreshInterval(d time.Duration) Option {
	return func(o *Options) {
		o.RefreshInterval = d
	}
}

// WithRevalidateOnFocus toggles focus revalidation
func WithRevalidateOnFocus(enabled bool) Option {
	return func(o *Options) {
		o.RevalidateOnFocus = enabled
	}
}

// WithDedupingInterval sets the dedupe window
func WithDedupingInterval(d time.Duration) Option {
	return func(o *Options) {
		o.DedupingInterval = d
	}
}

// WithErrorRetryCount sets the number of retries after a failure
func WithErrorRetryCount(n int) Option {
	return func(o *Options) {
		o.ErrorRetryCount = n
	}
}

// WithCacheTime sets the discard age
func WithCacheTime(d time.Duration) Option {
	return func(o *Options) {
		o.CacheTime = d
	}
}

// WithStaleTime sets the staleness age
func WithStaleTime(d time.Duration) Option {
	return func(o *Options) {
		o.StaleTime = d
	}
}

func (o Options) with(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
