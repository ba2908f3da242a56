package cache

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Scheduler starts the background revalidation of mounted keys: on a
// repeating interval, and on focus events for entries that are not fresh.
type Scheduler struct {
	coordinator *Coordinator
	store       *Store
	focus       FocusNotifier
	clock       clock.Clock
	logger      *zap.Logger

	mu      sync.Mutex
	mounted map[string]map[*Schedule]struct{}
}

// NewScheduler creates a scheduler. focus may be nil, which disables focus
// revalidation.
func NewScheduler(coordinator *Coordinator, store *Store, focus FocusNotifier, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		coordinator: coordinator,
		store:       store,
		focus:       focus,
		clock:       clk,
		logger:      logger,
		mounted:     make(map[string]map[*Schedule]struct{}),
	}
}

// Schedule is the revalidation registered for one key
type Schedule struct {
	key         string
	req         Request
	scheduler   *Scheduler
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	unsubscribe func()
}

// Schedule registers interval and focus revalidation for key according to
// opts. The returned Schedule must be stopped when the key is unmounted.
func (s *Scheduler) Schedule(key string, fetcher Fetcher, opts Options) *Schedule {
	req := Request{
		Key:        key,
		Fetcher:    fetcher,
		Options:    opts,
		Background: true,
	}
	sch := &Schedule{
		key:       key,
		req:       req,
		scheduler: s,
		stopCh:    make(chan struct{}),
	}
	s.register(sch)

	if opts.RefreshInterval > 0 {
		ticker := s.clock.Ticker(opts.RefreshInterval)
		sch.wg.Add(1)
		go func() {
			defer sch.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-sch.stopCh:
					return
				case <-ticker.C:
					s.coordinator.Fetch(context.Background(), req)
				}
			}
		}()
	}

	if opts.RevalidateOnFocus && s.focus != nil {
		sch.unsubscribe = s.focus.Subscribe(func() {
			select {
			case <-sch.stopCh:
				return
			default:
			}
			_, staleness := s.store.Lookup(key, opts.StaleTime, opts.CacheTime)
			if staleness == StalenessFresh {
				return
			}
			s.logger.Debug("Revalidating on focus",
				zap.String("key", key),
				zap.Stringer("staleness", staleness))
			s.coordinator.Fetch(context.Background(), req)
		})
	}

	return sch
}

func (s *Scheduler) register(sch *Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.mounted[sch.key]
	if !ok {
		set = make(map[*Schedule]struct{})
		s.mounted[sch.key] = set
	}
	set[sch] = struct{}{}
}

func (s *Scheduler) unregister(sch *Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.mounted[sch.key]
	delete(set, sch)
	if len(set) == 0 {
		delete(s.mounted, sch.key)
	}
}

// Revalidate starts a forced background fetch of key with the fetcher of one
// of its mounted hooks. It reports false when key is not mounted.
func (s *Scheduler) Revalidate(key string) bool {
	s.mu.Lock()
	var req Request
	found := false
	for sch := range s.mounted[key] {
		req, found = sch.req, true
		break
	}
	s.mu.Unlock()

	if !found {
		return false
	}
	req.Force = true
	s.coordinator.Fetch(context.Background(), req)
	return true
}

// Key returns the scheduled key
func (sch *Schedule) Key() string {
	return sch.key
}

// Stop removes the interval timer and the focus subscription and waits for
// the interval loop to exit. It is safe to call more than once.
func (sch *Schedule) Stop() {
	sch.stopOnce.Do(func() {
		sch.scheduler.unregister(sch)
		close(sch.stopCh)
		if sch.unsubscribe != nil {
			sch.unsubscribe()
		}
	})
	sch.wg.Wait()
}
