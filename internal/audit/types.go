package audit

import (
	"encoding/json"
	"time"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Record is one processed payload's audit entry. It carries category
// counts and timing only. Matched text, redacted output and raw input
// must never be placed in a Record.
type Record struct {
	ID            string               `json:"id"`
	Time          time.Time            `json:"time"`
	TenantID      string               `json:"tenant_id"`
	ContentType   pii.ContentType      `json:"content_type"`
	UnitCount     int                  `json:"unit_count"`
	Categories    map[pii.Category]int `json:"categories,omitempty"`
	LatencyMicros int64                `json:"latency_micros"`
	TimedOut      bool                 `json:"timed_out"`
	CacheHit      bool                 `json:"cache_hit"`
	Source        string               `json:"source"`
}

// SpanCount sums the per-category counts.
func (r Record) SpanCount() int {
	n := 0
	for _, c := range r.Categories {
		n += c
	}
	return n
}

// Stats summarizes everything the sink has ingested since start,
// with percentiles over the bounded latency window.
type Stats struct {
	Records          int64                  `json:"records"`
	Dropped          int64                  `json:"dropped"`
	TimedOut         int64                  `json:"timed_out"`
	CacheHits        int64                  `json:"cache_hits"`
	Categories       map[pii.Category]int64 `json:"categories"`
	Tenants          map[string]int64       `json:"tenants"`
	LatencyP50Micros int64                  `json:"latency_p50_micros"`
	LatencyP99Micros int64                  `json:"latency_p99_micros"`
	WindowSamples    int                    `json:"window_samples"`
}

// exportRow is the flat shape written to Postgres and Parquet.
// Category counts travel as a JSON object string.
type exportRow struct {
	ID            string `db:"id" parquet:"id"`
	TimestampMs   int64  `db:"timestamp_ms" parquet:"timestamp_ms"`
	TenantID      string `db:"tenant_id" parquet:"tenant_id"`
	ContentType   string `db:"content_type" parquet:"content_type"`
	UnitCount     int32  `db:"unit_count" parquet:"unit_count"`
	SpanCount     int32  `db:"span_count" parquet:"span_count"`
	Categories    string `db:"categories" parquet:"categories"`
	LatencyMicros int64  `db:"latency_micros" parquet:"latency_micros"`
	TimedOut      bool   `db:"timed_out" parquet:"timed_out"`
	CacheHit      bool   `db:"cache_hit" parquet:"cache_hit"`
	Source        string `db:"source" parquet:"source"`
}

func toExportRow(rec Record) exportRow {
	cats := "{}"
	if len(rec.Categories) > 0 {
		if b, err := json.Marshal(rec.Categories); err == nil {
			cats = string(b)
		}
	}
	return exportRow{
		ID:            rec.ID,
		TimestampMs:   rec.Time.UnixMilli(),
		TenantID:      rec.TenantID,
		ContentType:   string(rec.ContentType),
		UnitCount:     int32(rec.UnitCount),
		SpanCount:     int32(rec.SpanCount()),
		Categories:    cats,
		LatencyMicros: rec.LatencyMicros,
		TimedOut:      rec.TimedOut,
		CacheHit:      rec.CacheHit,
		Source:        rec.Source,
	}
}
