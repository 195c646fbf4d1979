// Package analytics implements the Analytics Aggregator: per-request
// event batching with a background flush loop that computes
// minute/hour/day aggregates, modeled on an infrastructure/cache
// TTL-sweep background goroutine (NewCache/startCleanup) generalized
// from single-entry expiry to windowed metric aggregation.
//
// The batch flush path is a Sink interface with an in-memory default and
// an optional redis/go-redis/v9-backed sink for hand-off to an external,
// out-of-scope persistence layer, wired here only as an optional
// pre-persistence boundary, which respects the Non-goal that this
// package itself guarantees no cross-instance consistency.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/mockforge/core/domain/analytics"
	"github.com/mockforge/core/metrics"
)

// Sink receives flushed batches of raw events for external persistence.
type Sink interface {
	Write(ctx context.Context, events []domain.Event) error
}

// NoopSink discards every batch; used when no external sink is configured.
type NoopSink struct{}

// Write implements Sink by doing nothing.
func (NoopSink) Write(context.Context, []domain.Event) error { return nil }

// Config configures an Aggregator.
type Config struct {
	FlushInterval time.Duration
	QueueCapacity int // bounded queue; overflow is dropped and counted
}

// DefaultConfig mirrors the cache package's DefaultConfig cadence.
func DefaultConfig() Config {
	return Config{FlushInterval: 10 * time.Second, QueueCapacity: 10000}
}

// Aggregator batches incoming Events, periodically flushing them to a
// Sink and rolling them up into in-memory windowed Aggregates.
type Aggregator struct {
	cfg     Config
	sink    Sink
	metrics *metrics.Metrics

	mu      sync.Mutex
	queue   []domain.Event
	dropped int64

	aggMu sync.RWMutex
	byKey map[bucketKey]*runningAggregate

	stopOnce sync.Once
	stopCh   chan struct{}
}

type bucketKey struct {
	bucket      domain.Bucket
	windowStart int64 // unix seconds
	group       domain.GroupKey
}

type runningAggregate struct {
	count      int64
	errorCount int64
	latencies  []float64 // sorted as a copy at read time; one sample per folded event, never evicted
}

// New builds an Aggregator and starts its background flush loop.
func New(cfg Config, sink Sink, m *metrics.Metrics) *Aggregator {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10000
	}
	if sink == nil {
		sink = NoopSink{}
	}
	a := &Aggregator{
		cfg:     cfg,
		sink:    sink,
		metrics: m,
		byKey:   make(map[bucketKey]*runningAggregate),
		stopCh:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues an event and folds it into the in-memory windowed
// aggregates. If the queue is at capacity the event is dropped and
// counted, never blocking the caller's request path.
func (a *Aggregator) Record(e domain.Event) {
	a.mu.Lock()
	if len(a.queue) >= a.cfg.QueueCapacity {
		a.dropped++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.AnalyticsBatchesDropped.Inc()
		}
		return
	}
	a.queue = append(a.queue, e)
	a.mu.Unlock()

	a.fold(e)
}

func (a *Aggregator) fold(e domain.Event) {
	key := e.Key()
	for _, b := range []domain.Bucket{domain.BucketMinute, domain.BucketHour, domain.BucketDay} {
		bk := bucketKey{bucket: b, windowStart: windowStart(e.OccurredAt, b), group: key}
		a.aggMu.Lock()
		ra, ok := a.byKey[bk]
		if !ok {
			ra = &runningAggregate{}
			a.byKey[bk] = ra
		}
		ra.count++
		if e.Status >= 400 {
			ra.errorCount++
		}
		ra.latencies = append(ra.latencies, e.DurationMs)
		a.aggMu.Unlock()
	}
}

func windowStart(t time.Time, b domain.Bucket) int64 {
	switch b {
	case domain.BucketHour:
		return t.Truncate(time.Hour).Unix()
	case domain.BucketDay:
		return t.Truncate(24 * time.Hour).Unix()
	default:
		return t.Truncate(time.Minute).Unix()
	}
}

// run periodically flushes the queued raw events to the Sink, matching
// a ticker-driven background cleanup loop.
func (a *Aggregator) run() {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	batch := a.queue
	a.queue = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := a.sink.Write(context.Background(), batch); err != nil {
		if a.metrics != nil {
			a.metrics.AnalyticsBatchesDropped.Inc()
		}
		return
	}
	if a.metrics != nil {
		a.metrics.AnalyticsBatchesFlushed.Inc()
	}
}

// Stop halts the background flush loop.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Aggregates returns a snapshot of every current windowed aggregate for
// the given bucket granularity, with percentiles computed from the
// sorted-sample estimator (no external t-digest dependency needed at
// this sample scale).
func (a *Aggregator) Aggregates(bucket domain.Bucket) []domain.Aggregate {
	a.aggMu.RLock()
	defer a.aggMu.RUnlock()

	var out []domain.Aggregate
	for k, ra := range a.byKey {
		if k.bucket != bucket {
			continue
		}
		out = append(out, toAggregate(k, ra))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	return out
}

func toAggregate(k bucketKey, ra *runningAggregate) domain.Aggregate {
	sorted := append([]float64(nil), ra.latencies...)
	sort.Float64s(sorted)
	agg := domain.Aggregate{
		Bucket:      k.bucket,
		WindowStart: time.Unix(k.windowStart, 0).UTC(),
		Protocol:    k.group.Protocol,
		Method:      k.group.Method,
		Path:        k.group.Path,
		Status:      k.group.Status,
		Count:       ra.count,
		ErrorCount:  ra.errorCount,
	}
	if n := len(sorted); n > 0 {
		agg.MinLatency = sorted[0]
		agg.MaxLatency = sorted[n-1]
		agg.LatencyP50 = percentile(sorted, 0.50)
		agg.LatencyP95 = percentile(sorted, 0.95)
		agg.LatencyP99 = percentile(sorted, 0.99)
	}
	return agg
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
