package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ProcessRequests *prometheus.CounterVec
	UnitsScanned    *prometheus.CounterVec
	SpansDetected   *prometheus.CounterVec
	ScanTimeouts    prometheus.Counter
	MalformedInputs *prometheus.CounterVec
	CacheEvents     *prometheus.CounterVec
	AuditRecords    prometheus.Counter
	AuditDropped    prometheus.Counter
	RequestsLimited prometheus.Counter
	RegistryLoads   *prometheus.CounterVec
	ActiveDetectors prometheus.Gauge
	ProcessLatency  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ProcessRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_requests_total",
			Help:      "Processed units of work by content type and outcome.",
		}, []string{"content_type", "outcome"}),
		UnitsScanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_scanned_total",
			Help:      "Scan units examined by content type.",
		}, []string{"content_type"}),
		SpansDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_detected_total",
			Help:      "Detected spans by category.",
		}, []string{"category"}),
		ScanTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_timeouts_total",
			Help:      "Scans that exceeded the unit latency budget and were fully masked.",
		}),
		MalformedInputs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_inputs_total",
			Help:      "Payloads that failed structured parsing and fell back to plaintext.",
		}, []string{"content_type"}),
		CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
		AuditRecords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Audit records accepted by the sink.",
		}),
		AuditDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit records dropped because the sink queue was full.",
		}),
		RequestsLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		RegistryLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_loads_total",
			Help:      "Detector registry load attempts by result.",
		}, []string{"result"}),
		ActiveDetectors: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_detectors",
			Help:      "Detectors in the current registry snapshot.",
		}),
		ProcessLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_latency_ms",
			Help:      "End-to-end redaction latency per payload in milliseconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

func (m *Metrics) ObserveProcessLatency(d time.Duration) {
	m.ProcessLatency.Observe(float64(d.Microseconds()) / 1000.0)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
