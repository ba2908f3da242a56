// Package debounce coalesces bursts of writes to the same key into a single
// deferred call carrying the latest payload.
package debounce

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDelay is used when a write is scheduled with a non-positive delay
const DefaultDelay = 500 * time.Millisecond

// TaskID identifies one scheduled write. A superseded or cancelled task
// never runs, even if its timer already fired.
type TaskID = uuid.UUID

// PersistFunc performs the deferred write
type PersistFunc[P any] func(ctx context.Context, payload P) error

// task is a pending write for one key
type task[P any] struct {
	id      TaskID
	timer   *clock.Timer
	payload P
	persist PersistFunc[P]
}

// Coalescer owns one pending timer per key. Each new write for a key cancels
// the previous timer and starts a new one; when a timer fires the payload
// current at that moment is persisted.
type Coalescer[P any] struct {
	clock  clock.Clock
	logger *zap.Logger
	ctx    context.Context

	mu      sync.Mutex
	tasks   map[string]*task[P]
	running sync.WaitGroup
	closed  bool
}

// Option configures a Coalescer
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *zap.Logger
	ctx    context.Context
}

// WithClock sets the clock driving the timers
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithContext sets the context deferred writes run with. There is no caller
// left to supply one when a timer fires.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// New creates a Coalescer
func New[P any](opts ...Option) *Coalescer[P] {
	o := options{
		clock:  clock.New(),
		logger: zap.NewNop(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coalescer[P]{
		clock:  o.clock,
		logger: o.logger,
		ctx:    o.ctx,
		tasks:  make(map[string]*task[P]),
	}
}

// ScheduleWrite replaces any pending write for key with payload and restarts
// the timer.
func (c *Coalescer[P]) ScheduleWrite(key string, payload P, delay time.Duration, persist PersistFunc[P]) TaskID {
	return c.Update(key, func(P, bool) P { return payload }, delay, persist)
}

// Update computes the payload for key from the pending one, if any, and
// restarts the timer. It returns the new task id.
func (c *Coalescer[P]) Update(key string, fn func(pending P, ok bool) P, delay time.Duration, persist PersistFunc[P]) TaskID {
	if delay <= 0 {
		delay = DefaultDelay
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return uuid.Nil
	}

	var pending P
	prev, ok := c.tasks[key]
	if ok {
		prev.timer.Stop()
		pending = prev.payload
	}

	t := &task[P]{
		id:      uuid.New(),
		payload: fn(pending, ok),
		persist: persist,
	}
	id := t.id
	t.timer = c.clock.AfterFunc(delay, func() { c.fire(key, id) })
	c.tasks[key] = t

	c.logger.Debug("Write scheduled",
		zap.String("key", key),
		zap.String("task_id", id.String()),
		zap.Bool("superseded", ok),
		zap.Duration("delay", delay))
	return id
}

func (c *Coalescer[P]) fire(key string, id TaskID) {
	c.mu.Lock()
	t, ok := c.tasks[key]
	if !ok || t.id != id || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.tasks, key)
	c.running.Add(1)
	c.mu.Unlock()

	defer c.running.Done()
	c.run(key, t)
}

func (c *Coalescer[P]) run(key string, t *task[P]) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in deferred write",
				zap.String("key", key),
				zap.Any("panic", r))
		}
	}()

	if err := t.persist(c.ctx, t.payload); err != nil {
		c.logger.Warn("Deferred write failed",
			zap.String("key", key),
			zap.String("task_id", t.id.String()),
			zap.Error(err))
		return
	}
	c.logger.Debug("Deferred write done", zap.String("key", key))
}

// Pending reports whether a write for key is waiting on its timer
func (c *Coalescer[P]) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[key]
	return ok
}

// PendingPayloads returns the waiting payloads whose key starts with prefix
func (c *Coalescer[P]) PendingPayloads(prefix string) map[string]P {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]P)
	for key, t := range c.tasks {
		if strings.HasPrefix(key, prefix) {
			out[key] = t.payload
		}
	}
	return out
}

// Len returns the number of pending writes
func (c *Coalescer[P]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Cancel drops the pending write for key and reports whether there was one
func (c *Coalescer[P]) Cancel(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(c.tasks, key)
	return true
}

// CancelPrefix drops every pending write whose key starts with prefix and
// returns how many were dropped
func (c *Coalescer[P]) CancelPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, t := range c.tasks {
		if strings.HasPrefix(key, prefix) {
			t.timer.Stop()
			delete(c.tasks, key)
			n++
		}
	}
	return n
}

// CancelAll drops every pending write
func (c *Coalescer[P]) CancelAll() int {
	return c.CancelPrefix("")
}

// Flush runs every pending write now, on the calling goroutine, and waits
// for writes already started by their timers.
func (c *Coalescer[P]) Flush() {
	c.mu.Lock()
	due := make(map[string]*task[P], len(c.tasks))
	for key, t := range c.tasks {
		t.timer.Stop()
		due[key] = t
	}
	c.tasks = make(map[string]*task[P])
	c.running.Add(len(due))
	c.mu.Unlock()

	for key, t := range due {
		func() {
			defer c.running.Done()
			c.run(key, t)
		}()
	}
	c.running.Wait()
}

// Close cancels pending writes and waits for running ones to finish
func (c *Coalescer[P]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for key, t := range c.tasks {
		t.timer.Stop()
		delete(c.tasks, key)
	}
	c.mu.Unlock()

	c.running.Wait()
	return nil
}
