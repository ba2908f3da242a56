package cache

// Metrics receives cache and fetch events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	CacheHit(staleness Staleness)
	CacheMiss()
	FetchStarted(background bool)
	FetchDeduped()
	FetchSucceeded()
	FetchRetried(attempt int)
	FetchFailed()
}

// NopMetrics discards every event
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) CacheHit(Staleness) {}
func (NopMetrics) CacheMiss()         {}
func (NopMetrics) FetchStarted(bool)  {}
func (NopMetrics) FetchDeduped()      {}
func (NopMetrics) FetchSucceeded()    {}
func (NopMetrics) FetchRetried(int)   {}
func (NopMetrics) FetchFailed()       {}
