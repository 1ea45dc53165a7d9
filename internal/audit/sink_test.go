package audit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/observability"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Prometheus collectors register globally, so the package shares one
// instance across tests.
var testMetrics = observability.NewMetrics("redactd_audit_test")

func testSink(queueSize, windowSize int) *Sink {
	cfg := config.AuditConfig{
		Enabled:    true,
		QueueSize:  queueSize,
		WindowSize: windowSize,
	}
	return NewSink(cfg, nil, nil, testMetrics, zap.NewNop())
}

// drain runs the writer against an already-cancelled context so it
// ingests everything queued and returns.
func drain(s *Sink) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)
}

// TestSinkIngest tests record aggregation through the writer
func TestSinkIngest(t *testing.T) {
	s := testSink(16, 16)

	s.Record(Record{
		TenantID:      "acme",
		ContentType:   pii.ContentTypeJSON,
		UnitCount:     3,
		Categories:    map[pii.Category]int{pii.CategoryPhone: 2},
		LatencyMicros: 120,
	})
	s.Record(Record{
		TenantID:      "acme",
		ContentType:   pii.ContentTypeJSON,
		UnitCount:     1,
		Categories:    map[pii.Category]int{pii.CategoryPhone: 1, pii.CategoryEmail: 1},
		LatencyMicros: 200,
		TimedOut:      true,
	})
	s.Record(Record{
		TenantID:      "globex",
		ContentType:   pii.ContentTypePlaintext,
		LatencyMicros: 80,
		CacheHit:      true,
	})
	drain(s)

	stats := s.Export()
	if stats.Records != 3 {
		t.Errorf("Records = %d, want 3", stats.Records)
	}
	if stats.TimedOut != 1 {
		t.Errorf("TimedOut = %d, want 1", stats.TimedOut)
	}
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.CacheHits)
	}
	if stats.Categories[pii.CategoryPhone] != 3 || stats.Categories[pii.CategoryEmail] != 1 {
		t.Errorf("Categories = %v", stats.Categories)
	}
	if stats.Tenants["acme"] != 2 || stats.Tenants["globex"] != 1 {
		t.Errorf("Tenants = %v", stats.Tenants)
	}
	if stats.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", stats.Dropped)
	}
	if stats.WindowSamples != 3 {
		t.Errorf("WindowSamples = %d, want 3", stats.WindowSamples)
	}
}

// TestExportTenant tests the tenant-filtered window summary
func TestExportTenant(t *testing.T) {
	s := testSink(16, 16)
	s.Record(Record{
		TenantID:      "acme",
		Categories:    map[pii.Category]int{pii.CategoryPhone: 2},
		LatencyMicros: 100,
	})
	s.Record(Record{
		TenantID:      "acme",
		Categories:    map[pii.Category]int{pii.CategoryEmail: 1},
		LatencyMicros: 300,
		TimedOut:      true,
	})
	s.Record(Record{
		TenantID:      "globex",
		Categories:    map[pii.Category]int{pii.CategoryEmail: 5},
		LatencyMicros: 900,
	})
	drain(s)

	stats := s.ExportTenant("acme")
	if stats.Records != 2 {
		t.Errorf("Records = %d, want 2", stats.Records)
	}
	if stats.TimedOut != 1 {
		t.Errorf("TimedOut = %d, want 1", stats.TimedOut)
	}
	if stats.Categories[pii.CategoryPhone] != 2 || stats.Categories[pii.CategoryEmail] != 1 {
		t.Errorf("Categories = %v", stats.Categories)
	}
	if stats.Tenants["acme"] != 2 {
		t.Errorf("Tenants = %v", stats.Tenants)
	}
	if stats.LatencyP50Micros != 100 || stats.LatencyP99Micros != 300 {
		t.Errorf("Latency p50/p99 = %d/%d", stats.LatencyP50Micros, stats.LatencyP99Micros)
	}

	if ghost := s.ExportTenant("ghost"); ghost.Records != 0 || len(ghost.Tenants) != 0 {
		t.Errorf("Ghost tenant stats = %+v", ghost)
	}
}

// TestSinkFillsIdentity tests ID and timestamp backfill
func TestSinkFillsIdentity(t *testing.T) {
	s := testSink(4, 4)
	s.Record(Record{TenantID: "acme"})
	drain(s)

	window := s.Window()
	if len(window) != 1 {
		t.Fatalf("Window = %d records, want 1", len(window))
	}
	if window[0].ID == "" {
		t.Error("Record ID not filled")
	}
	if window[0].Time.IsZero() {
		t.Error("Record timestamp not filled")
	}
}

// TestSinkBackpressure tests the non-blocking drop path
func TestSinkBackpressure(t *testing.T) {
	s := testSink(2, 8)

	for i := 0; i < 5; i++ {
		s.Record(Record{TenantID: "acme"})
	}
	if got := s.Dropped(); got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}

	drain(s)
	stats := s.Export()
	if stats.Records != 2 {
		t.Errorf("Records = %d, want 2", stats.Records)
	}
	if stats.Dropped != 3 {
		t.Errorf("Stats.Dropped = %d, want 3", stats.Dropped)
	}
}

// TestSinkDisabled tests that a disabled sink ignores records
func TestSinkDisabled(t *testing.T) {
	s := NewSink(config.AuditConfig{Enabled: false}, nil, nil, testMetrics, zap.NewNop())
	s.Record(Record{TenantID: "acme"})
	drain(s)

	if stats := s.Export(); stats.Records != 0 {
		t.Errorf("Disabled sink ingested %d records", stats.Records)
	}
}

// TestSinkPercentiles tests the latency window math
func TestSinkPercentiles(t *testing.T) {
	s := testSink(32, 32)
	for i := int64(1); i <= 10; i++ {
		s.Record(Record{TenantID: "acme", LatencyMicros: i * 100})
	}
	drain(s)

	stats := s.Export()
	if stats.LatencyP50Micros != 500 {
		t.Errorf("P50 = %d, want 500", stats.LatencyP50Micros)
	}
	if stats.LatencyP99Micros != 1000 {
		t.Errorf("P99 = %d, want 1000", stats.LatencyP99Micros)
	}
}

// TestSinkWindowWraps tests the bounded record window
func TestSinkWindowWraps(t *testing.T) {
	s := testSink(16, 4)
	for i := 0; i < 6; i++ {
		s.Record(Record{ID: string(rune('a' + i)), TenantID: "acme"})
	}
	drain(s)

	window := s.Window()
	if len(window) != 4 {
		t.Fatalf("Window = %d records, want 4", len(window))
	}
	want := []string{"c", "d", "e", "f"}
	for i, rec := range window {
		if rec.ID != want[i] {
			t.Errorf("Window[%d].ID = %q, want %q", i, rec.ID, want[i])
		}
	}

	stats := s.Export()
	if stats.Records != 6 {
		t.Errorf("Records = %d, want 6 (totals outlive the window)", stats.Records)
	}
	if stats.WindowSamples != 4 {
		t.Errorf("WindowSamples = %d, want 4", stats.WindowSamples)
	}
}

// TestSinkNoPayloadContent tests that records never carry matched text
func TestSinkNoPayloadContent(t *testing.T) {
	s := testSink(4, 4)
	s.Record(Record{
		TenantID:   "acme",
		Categories: map[pii.Category]int{pii.CategoryPhone: 1},
	})
	drain(s)

	// The record type has nowhere to put raw input, matched text or
	// redacted output; counts and timings only.
	for _, rec := range s.Window() {
		if rec.SpanCount() != 1 {
			t.Errorf("SpanCount = %d, want 1", rec.SpanCount())
		}
	}
}

// TestWriteParquet tests the Parquet export of the record window
func TestWriteParquet(t *testing.T) {
	s := testSink(8, 8)
	s.Record(Record{
		TenantID:      "acme",
		ContentType:   pii.ContentTypeJSON,
		UnitCount:     2,
		Categories:    map[pii.Category]int{pii.CategoryEmail: 1},
		LatencyMicros: 150,
		Time:          time.Now(),
	})
	s.Record(Record{
		TenantID:    "globex",
		ContentType: pii.ContentTypePlaintext,
		TimedOut:    true,
		Time:        time.Now(),
	})
	drain(s)

	var buf bytes.Buffer
	if err := s.WriteParquet(&buf); err != nil {
		t.Fatalf("WriteParquet failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Parquet output empty")
	}
	// Parquet files end with the 4-byte magic
	if got := buf.Bytes()[buf.Len()-4:]; string(got) != "PAR1" {
		t.Errorf("Trailing magic = %q, want PAR1", got)
	}
}
