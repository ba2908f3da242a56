package cache

import (
	"sync"

	"go.uber.org/zap"
)

// FocusNotifier delivers "application regained focus" events
type FocusNotifier interface {
	// Subscribe registers fn and returns a function that removes it
	Subscribe(fn func()) (unsubscribe func())
}

// FocusBroadcaster is an in-process FocusNotifier. Focus runs every
// subscriber synchronously on the calling goroutine.
type FocusBroadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func()
	logger *zap.Logger
}

var _ FocusNotifier = (*FocusBroadcaster)(nil)

// NewFocusBroadcaster creates a broadcaster with no subscribers
func NewFocusBroadcaster(logger *zap.Logger) *FocusBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FocusBroadcaster{
		subs:   make(map[uint64]func()),
		logger: logger,
	}
}

// Subscribe implements FocusNotifier
func (b *FocusBroadcaster) Subscribe(fn func()) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Focus notifies every subscriber
func (b *FocusBroadcaster) Focus() {
	b.mu.Lock()
	subs := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	b.logger.Debug("Focus event", zap.Int("subscribers", len(subs)))
	for _, fn := range subs {
		b.dispatch(fn)
	}
}

// Subscribers returns the number of registered subscribers
func (b *FocusBroadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *FocusBroadcaster) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic in focus subscriber", zap.Any("panic", r))
		}
	}()
	fn()
}
