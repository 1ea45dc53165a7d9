// Package engine wires the detector registry, policy store, stream
// adapter, scanner and redactor into the single processing entry
// point the server and batch pipeline call.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/audit"
	"github.com/madhavanrx18/soc-challenge/internal/cache"
	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/logger"
	"github.com/madhavanrx18/soc-challenge/internal/observability"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
	"github.com/madhavanrx18/soc-challenge/internal/policy"
	"github.com/madhavanrx18/soc-challenge/internal/redact"
	"github.com/madhavanrx18/soc-challenge/internal/registry"
	"github.com/madhavanrx18/soc-challenge/internal/scan"
	"github.com/madhavanrx18/soc-challenge/internal/stream"
)

// Engine owns the full redaction path.
type Engine struct {
	config   *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	registry *registry.Registry
	policies *policy.Store
	scanner  *scan.Scanner
	redactor *redact.Redactor
	adapter  *stream.Adapter
	sink     *audit.Sink
	cache    *cache.ResultCache
	source   string
	sinkDone chan struct{}

	auditStore *audit.Store
	auditPub   *audit.Publisher
}

// Result summarizes one processed payload. It carries counts and
// timing only, never content.
type Result struct {
	Categories  map[pii.Category]int
	ContentType pii.ContentType
	UnitCount   int
	TimedOut    bool
	Malformed   bool
	CacheHit    bool
	Latency     time.Duration
}

// SpanCount sums the per-category counts.
func (r *Result) SpanCount() int {
	n := 0
	for _, c := range r.Categories {
		n += c
	}
	return n
}

// New builds the engine from configuration: loads the initial pattern
// and policy files and connects the optional cache, database and NATS
// backends. source labels audit records from this engine ("api",
// "batch").
func New(cfg *config.Config, metrics *observability.Metrics, log *logger.Logger, source string) (*Engine, error) {
	reg := registry.New(cfg.Registry, log.WithComponent("registry").Logger)
	reg.OnSwap(func(snap *registry.Snapshot) {
		metrics.ActiveDetectors.Set(float64(len(snap.Detectors())))
		metrics.RegistryLoads.WithLabelValues("ok").Inc()
	})
	if err := reg.LoadFile(cfg.Registry.PatternsFile); err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	policies := policy.New(cfg.Policy, log.WithComponent("policy").Logger)
	if cfg.Policy.File != "" {
		if err := policies.LoadFile(cfg.Policy.File); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}

	e := &Engine{
		config:   cfg,
		logger:   log.WithComponent("engine").Logger,
		metrics:  metrics,
		registry: reg,
		policies: policies,
		scanner:  scan.New(cfg.Detector, log.WithComponent("scanner").Logger),
		redactor: redact.New([]byte(cfg.Redaction.TokenKey), log.WithComponent("redactor").Logger),
		adapter:  stream.New(cfg.Stream, log.WithComponent("stream").Logger),
		source:   source,
	}

	if cfg.Audit.Enabled && cfg.Audit.Database.Enabled {
		store, err := audit.NewStore(cfg.Audit.Database, log.WithComponent("audit").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		e.auditStore = store
	}
	if cfg.Audit.Enabled && cfg.Audit.NATS.Enabled {
		pub, err := audit.NewPublisher(cfg.Audit.NATS, log.WithComponent("audit").Logger)
		if err != nil {
			if e.auditStore != nil {
				e.auditStore.Close()
			}
			return nil, fmt.Errorf("failed to initialize audit publisher: %w", err)
		}
		e.auditPub = pub
	}
	e.sink = audit.NewSink(cfg.Audit, e.auditStore, e.auditPub, metrics, log.Logger)

	if cfg.Cache.Enabled {
		rc, err := cache.NewResultCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			e.closeBackends()
			return nil, fmt.Errorf("failed to initialize result cache: %w", err)
		}
		e.cache = rc
	}

	return e, nil
}

// Start launches the audit writer and the pattern/policy file watchers.
func (e *Engine) Start(ctx context.Context) {
	e.sinkDone = make(chan struct{})
	go func() {
		e.sink.Run(ctx)
		close(e.sinkDone)
	}()
	if e.config.Registry.Watch {
		go func() {
			if err := e.registry.Watch(ctx); err != nil {
				e.logger.Error("Pattern watcher stopped", zap.Error(err))
			}
		}()
	}
	if e.config.Policy.Watch && e.config.Policy.File != "" {
		go func() {
			if err := e.policies.Watch(ctx); err != nil {
				e.logger.Error("Policy watcher stopped", zap.Error(err))
			}
		}()
	}
}

// Close waits for the audit writer to drain, then releases the cache
// and audit backends. The writer is stopped by cancelling the Start
// context before calling Close.
func (e *Engine) Close() {
	if e.sinkDone != nil {
		select {
		case <-e.sinkDone:
		case <-time.After(5 * time.Second):
			e.logger.Warn("Audit writer did not drain before shutdown")
		}
	}
	e.closeBackends()
}

func (e *Engine) closeBackends() {
	if e.cache != nil {
		e.cache.Close()
	}
	if e.auditPub != nil {
		e.auditPub.Close()
	}
	if e.auditStore != nil {
		e.auditStore.Close()
	}
}

// Registry exposes the detector registry for administrative handlers.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Policies exposes the policy store for administrative handlers.
func (e *Engine) Policies() *policy.Store { return e.policies }

// Sink exposes the audit sink for export handlers.
func (e *Engine) Sink() *audit.Sink { return e.sink }

// Cache exposes the result cache; nil when disabled.
func (e *Engine) Cache() *cache.ResultCache { return e.cache }

// Process redacts one payload for a tenant. The returned bytes are
// byte-identical to the input outside redacted spans. Structured
// parse failures fall back to plaintext scanning; scan budget
// exhaustion masks the affected unit wholesale. Both are reflected in
// the Result, not returned as errors.
func (e *Engine) Process(ctx context.Context, tenantID string, raw []byte, contentType pii.ContentType) ([]byte, *Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	res := &Result{
		Categories:  make(map[pii.Category]int),
		ContentType: contentType,
	}

	regSnap := e.registry.Snapshot()
	polVersion := e.policies.Version()

	var cacheKey string
	if e.cache != nil {
		cacheKey = e.cache.Key(tenantID, regSnap.Version, polVersion, contentType, raw)
		if entry, ok := e.cache.Get(ctx, cacheKey); ok {
			e.metrics.CacheEvents.WithLabelValues("hit").Inc()
			res.Categories = entry.Categories
			res.UnitCount = entry.UnitCount
			res.TimedOut = entry.TimedOut
			res.CacheHit = true
			res.Latency = time.Since(start)
			e.finish(tenantID, res)
			return entry.Output, res, nil
		}
		e.metrics.CacheEvents.WithLabelValues("miss").Inc()
	}

	payload := e.adapter.Split(raw, contentType)
	res.Malformed = payload.Malformed
	if payload.Malformed {
		e.metrics.MalformedInputs.WithLabelValues(string(contentType)).Inc()
	}

	units := payload.Units()
	res.UnitCount = len(units)

	detectors := regSnap.ActiveDetectors(e.policies.ActiveFilter(tenantID))
	resolve := e.policies.Resolver(tenantID)

	redacted := make([]string, len(units))
	spans := make([][]pii.MatchSpan, len(units))
	masked := make([]bool, len(units))
	for i, u := range units {
		unitSpans, err := e.scanner.Scan(ctx, u.Text, detectors)
		if err != nil {
			res.TimedOut = true
			masked[i] = true
			redacted[i] = e.redactor.MaskAll(u.Text)
			res.Categories[pii.CategoryUnknown]++
			e.metrics.ScanTimeouts.Inc()
			e.logger.Warn("Scan budget exhausted, unit fully masked",
				zap.Int("unit_bytes", len(u.Text)),
				zap.String("content_type", string(contentType)))
			continue
		}
		spans[i] = unitSpans
	}

	if payload.ContentType == pii.ContentTypeJSON && !payload.Malformed {
		for i, merged := range stream.RecordSpans(units, spans) {
			if !masked[i] {
				spans[i] = merged
			}
		}
	}

	for i, u := range units {
		if masked[i] {
			continue
		}
		out, counts := e.redactor.Redact(u.Text, spans[i], redact.StrategyResolver(resolve))
		redacted[i] = out
		for cat, n := range counts {
			res.Categories[cat] += n
		}
	}

	output := payload.Reassemble(redacted)
	res.Latency = time.Since(start)

	e.metrics.UnitsScanned.WithLabelValues(string(payload.ContentType)).Add(float64(len(units)))
	for cat, n := range res.Categories {
		e.metrics.SpansDetected.WithLabelValues(string(cat)).Add(float64(n))
	}

	if e.cache != nil && !res.TimedOut {
		entry := &cache.Entry{
			Output:     output,
			Categories: copyCounts(res.Categories),
			UnitCount:  res.UnitCount,
		}
		if err := e.cache.Set(ctx, cacheKey, entry); err != nil {
			e.metrics.CacheEvents.WithLabelValues("error").Inc()
		}
	}

	e.finish(tenantID, res)
	return output, res, nil
}

// finish records metrics and the audit entry for a completed payload.
func (e *Engine) finish(tenantID string, res *Result) {
	outcome := "ok"
	if res.TimedOut {
		outcome = "failsafe"
	}
	e.metrics.ProcessRequests.WithLabelValues(string(res.ContentType), outcome).Inc()
	e.metrics.ObserveProcessLatency(res.Latency)

	e.sink.Record(audit.Record{
		TenantID:      tenantID,
		ContentType:   res.ContentType,
		UnitCount:     res.UnitCount,
		Categories:    copyCounts(res.Categories),
		LatencyMicros: res.Latency.Microseconds(),
		TimedOut:      res.TimedOut,
		CacheHit:      res.CacheHit,
		Source:        e.source,
	})
}

func copyCounts(counts map[pii.Category]int) map[pii.Category]int {
	if len(counts) == 0 {
		return nil
	}
	out := make(map[pii.Category]int, len(counts))
	for cat, n := range counts {
		out[cat] = n
	}
	return out
}
