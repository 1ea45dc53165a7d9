package audit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/observability"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

const (
	defaultQueueSize  = 4096
	defaultWindowSize = 8192
	flushTimeout      = 10 * time.Second
)

// Sink ingests audit records off the redaction path. Record is
// non-blocking: when the queue is full the record is dropped and
// counted, never waited on. A single background writer drains the
// queue into the in-memory aggregation window and the optional
// Postgres and NATS backends.
type Sink struct {
	config  config.AuditConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	store   *Store
	pub     *Publisher

	queue   chan Record
	dropped atomic.Int64

	mu        sync.Mutex
	total     int64
	timedOut  int64
	cacheHits int64
	catCounts map[pii.Category]int64
	tenants   map[string]int64
	latencies []int64
	latNext   int
	recent    []Record
	recNext   int
}

// NewSink creates the sink. store and pub may be nil when the
// corresponding backends are disabled. Call Run to start the writer.
func NewSink(cfg config.AuditConfig, store *Store, pub *Publisher, metrics *observability.Metrics, logger *zap.Logger) *Sink {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Sink{
		config:    cfg,
		logger:    logger.With(zap.String("component", "audit")),
		metrics:   metrics,
		store:     store,
		pub:       pub,
		queue:     make(chan Record, queueSize),
		catCounts: make(map[pii.Category]int64),
		tenants:   make(map[string]int64),
		latencies: make([]int64, 0, windowSize),
		recent:    make([]Record, 0, windowSize),
	}
}

// Record enqueues one audit record without blocking. Missing ID and
// timestamp are filled in here so callers stay on the hot path.
func (s *Sink) Record(rec Record) {
	if !s.config.Enabled {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
		s.metrics.AuditDropped.Inc()
	}
}

// Dropped returns how many records were discarded due to backpressure.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Run drains the queue until ctx is cancelled, then drains whatever is
// left and flushes the final database batch. Run once, from main.
func (s *Sink) Run(ctx context.Context) {
	batchSize := s.config.Database.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushEvery := s.config.Database.FlushInterval
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}

	batch := make([]Record, 0, batchSize)
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case rec := <-s.queue:
			s.ingest(rec)
			batch = s.collect(batch, rec, batchSize)
		case <-ticker.C:
			batch = s.flush(batch)
		case <-ctx.Done():
			for {
				select {
				case rec := <-s.queue:
					s.ingest(rec)
					batch = s.collect(batch, rec, batchSize)
				default:
					s.flush(batch)
					s.logger.Info("Audit writer stopped",
						zap.Int64("records", s.totalIngested()),
						zap.Int64("dropped", s.dropped.Load()))
					return
				}
			}
		}
	}
}

// ingest updates the in-memory aggregates and bounded windows.
func (s *Sink) ingest(rec Record) {
	s.mu.Lock()
	s.total++
	if rec.TimedOut {
		s.timedOut++
	}
	if rec.CacheHit {
		s.cacheHits++
	}
	for cat, n := range rec.Categories {
		s.catCounts[cat] += int64(n)
	}
	if rec.TenantID != "" {
		s.tenants[rec.TenantID]++
	}
	s.latencies, s.latNext = pushInt64(s.latencies, s.latNext, rec.LatencyMicros)
	s.recent, s.recNext = pushRecord(s.recent, s.recNext, rec)
	s.mu.Unlock()

	s.metrics.AuditRecords.Inc()
}

// collect appends to the pending database batch and flushes it when
// full. Also forwards to the NATS feed.
func (s *Sink) collect(batch []Record, rec Record, batchSize int) []Record {
	if s.pub != nil {
		s.pub.Publish(rec)
	}
	if s.store == nil {
		return batch
	}
	batch = append(batch, rec)
	if len(batch) >= batchSize {
		return s.flush(batch)
	}
	return batch
}

func (s *Sink) flush(batch []Record) []Record {
	if s.store == nil || len(batch) == 0 {
		return batch[:0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.store.BatchInsert(ctx, batch); err != nil {
		s.logger.Error("Audit batch insert failed",
			zap.Error(err),
			zap.Int("batch_size", len(batch)))
	}
	return batch[:0]
}

func (s *Sink) totalIngested() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Export summarizes the ingested records. Percentiles come from a
// sorted copy of the bounded latency window.
func (s *Sink) Export() Stats {
	s.mu.Lock()
	stats := Stats{
		Records:       s.total,
		TimedOut:      s.timedOut,
		CacheHits:     s.cacheHits,
		Categories:    make(map[pii.Category]int64, len(s.catCounts)),
		Tenants:       make(map[string]int64, len(s.tenants)),
		WindowSamples: len(s.latencies),
	}
	for cat, n := range s.catCounts {
		stats.Categories[cat] = n
	}
	for t, n := range s.tenants {
		stats.Tenants[t] = n
	}
	window := make([]int64, len(s.latencies))
	copy(window, s.latencies)
	s.mu.Unlock()

	stats.Dropped = s.dropped.Load()
	if len(window) > 0 {
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
		stats.LatencyP50Micros = percentile(window, 50)
		stats.LatencyP99Micros = percentile(window, 99)
	}
	return stats
}

// ExportTenant summarizes one tenant's retained records. Counts and
// percentiles cover the bounded window only; drops happen before a
// record is ingested and are not attributed to tenants.
func (s *Sink) ExportTenant(tenant string) Stats {
	stats := Stats{
		Categories: make(map[pii.Category]int64),
		Tenants:    make(map[string]int64),
	}
	var window []int64
	for _, rec := range s.Window() {
		if rec.TenantID != tenant {
			continue
		}
		stats.Records++
		if rec.TimedOut {
			stats.TimedOut++
		}
		if rec.CacheHit {
			stats.CacheHits++
		}
		for cat, n := range rec.Categories {
			stats.Categories[cat] += int64(n)
		}
		window = append(window, rec.LatencyMicros)
	}
	if stats.Records > 0 {
		stats.Tenants[tenant] = stats.Records
	}
	stats.WindowSamples = len(window)
	if len(window) > 0 {
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
		stats.LatencyP50Micros = percentile(window, 50)
		stats.LatencyP99Micros = percentile(window, 99)
	}
	return stats
}

// Window returns the retained records, oldest first.
func (s *Sink) Window() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.recent))
	if len(s.recent) == cap(s.recent) {
		out = append(out, s.recent[s.recNext:]...)
		out = append(out, s.recent[:s.recNext]...)
	} else {
		out = append(out, s.recent...)
	}
	return out
}

// percentile computes the nearest-rank percentile of a sorted window.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func pushInt64(window []int64, next int, v int64) ([]int64, int) {
	if len(window) < cap(window) {
		return append(window, v), next
	}
	window[next] = v
	return window, (next + 1) % cap(window)
}

func pushRecord(window []Record, next int, rec Record) ([]Record, int) {
	if len(window) < cap(window) {
		return append(window, rec), next
	}
	window[next] = rec
	return window, (next + 1) % cap(window)
}
