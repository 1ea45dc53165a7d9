package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/logger"
	"github.com/madhavanrx18/soc-challenge/internal/observability"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Prometheus collectors register globally, so the package shares one
// instance across tests.
var testMetrics = observability.NewMetrics("redactd_engine_test")

const testPatterns = `version: "engine-test"
detectors:
  - name: card_number
    category: CARD_NUMBER
    pattern: '\b(?:\d[ -]?){12,18}\d\b'
    validator: luhn
    priority: 95
  - name: aadhaar
    category: AADHAAR
    pattern: '\b\d{4}[ -]?\d{4}[ -]?\d{4}\b'
    validator: aadhaar
    priority: 90
  - name: upi_id
    category: UPI_ID
    pattern: '\b[A-Za-z0-9._-]{2,}@[A-Za-z]{2,}\b'
    validator: upi_handle
    priority: 85
  - name: email
    category: EMAIL
    pattern: '\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b'
    priority: 80
  - name: phone
    category: PHONE
    pattern: '(?:\+91[ -]?|\b)(?:91[ -]?|0)?[6-9]\d{9}\b'
    validator: indian_mobile
    priority: 70
  - name: pin_code
    category: PIN_CODE
    pattern: '\b[1-9]\d{5}\b'
    validator: pin_code
    priority: 50
`

const testPolicies = `tenants:
  default:
    strategies:
      PHONE:
        kind: partial
        keep_prefix: 2
        keep_suffix: 2
        mask_char: "X"
        preserve_length: true
      EMAIL:
        kind: partial
        keep_prefix: 2
  analytics:
    active: [PHONE, EMAIL, AADHAAR, CARD_NUMBER, UPI_ID]
    strategies:
      EMAIL:
        kind: tokenize
      PHONE:
        kind: tokenize
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	patternsPath := filepath.Join(dir, "patterns.yaml")
	policiesPath := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(patternsPath, []byte(testPatterns), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(policiesPath, []byte(testPolicies), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.GetDefaults()
	cfg.Registry.PatternsFile = patternsPath
	cfg.Registry.Watch = false
	cfg.Policy.File = policiesPath
	cfg.Policy.Watch = false
	cfg.Redaction.TokenKey = "engine-test-secret"
	cfg.Cache.Enabled = false
	cfg.Audit.Database.Enabled = false
	cfg.Audit.NATS.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	log := &logger.Logger{Logger: zap.NewNop()}
	eng, err := New(cfg, testMetrics, log, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng
}

// TestProcessJSON tests end-to-end JSON redaction with full masking
func TestProcessJSON(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	raw := []byte(`{"user":"u12","email":"alice@example.com","note":"call 9876543210"}`)
	out, res, err := eng.Process(context.Background(), "unconfigured-tenant", raw, pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := `{"user":"u12","email":"[REDACTED:EMAIL]","note":"call [REDACTED:PHONE]"}`
	if string(out) != want {
		t.Errorf("Out = %s\nwant %s", out, want)
	}
	if res.Categories[pii.CategoryEmail] != 1 || res.Categories[pii.CategoryPhone] != 1 {
		t.Errorf("Categories = %v", res.Categories)
	}
	if res.UnitCount != 3 {
		t.Errorf("UnitCount = %d, want 3", res.UnitCount)
	}
	if res.TimedOut || res.Malformed || res.CacheHit {
		t.Errorf("Flags = %+v", res)
	}
}

// TestProcessPartialPolicy tests tenant-specific partial masking
func TestProcessPartialPolicy(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	raw := []byte(`{"phone":"9876543210"}`)
	out, _, err := eng.Process(context.Background(), "default", raw, pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if string(out) != `{"phone":"98XXXXXX10"}` {
		t.Errorf("Out = %s", out)
	}
}

// TestProcessIdempotent tests that redacted output re-processes unchanged
func TestProcessIdempotent(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()
	ctx := context.Background()

	payloads := []struct {
		tenant string
		raw    string
	}{
		{"unconfigured-tenant", `{"email":"alice@example.com","note":"call 9876543210"}`},
		{"default", `{"phone":"9876543210","email":"alice@example.com"}`},
		{"analytics", `{"email":"alice@example.com"}`},
	}
	for _, p := range payloads {
		first, _, err := eng.Process(ctx, p.tenant, []byte(p.raw), pii.ContentTypeJSON)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		second, res, err := eng.Process(ctx, p.tenant, first, pii.ContentTypeJSON)
		if err != nil {
			t.Fatalf("Reprocess failed: %v", err)
		}
		if string(second) != string(first) {
			t.Errorf("Tenant %s: second pass changed output\nfirst:  %s\nsecond: %s", p.tenant, first, second)
		}
		if res.SpanCount() != 0 {
			t.Errorf("Tenant %s: second pass detected %d spans in redacted output", p.tenant, res.SpanCount())
		}
	}
}

// TestProcessFailsafe tests the budget-exhaustion full mask
func TestProcessFailsafe(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detector.UnitBudget = -time.Nanosecond
	eng := newTestEngine(t, cfg)
	defer eng.Close()

	raw := []byte(`{"email":"alice@example.com"}`)
	out, res, err := eng.Process(context.Background(), "acme", raw, pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if string(out) != `{"email":"[REDACTED:UNKNOWN]"}` {
		t.Errorf("Out = %s", out)
	}
	if !res.TimedOut {
		t.Error("TimedOut not set")
	}
	if res.Categories[pii.CategoryUnknown] != 1 {
		t.Errorf("Categories = %v", res.Categories)
	}
	if strings.Contains(string(out), "alice") {
		t.Error("Raw content leaked through the fail-safe")
	}
}

// TestProcessMalformedFallback tests plaintext scanning of broken JSON
func TestProcessMalformedFallback(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	raw := []byte(`{"email": "alice@example.com`)
	out, res, err := eng.Process(context.Background(), "acme", raw, pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !res.Malformed {
		t.Error("Malformed not set")
	}
	if res.Categories[pii.CategoryEmail] != 1 {
		t.Errorf("Categories = %v", res.Categories)
	}
	if strings.Contains(string(out), "alice@example.com") {
		t.Errorf("PII survived the fallback: %s", out)
	}
	if !strings.Contains(string(out), "[REDACTED:EMAIL]") {
		t.Errorf("No mask in fallback output: %s", out)
	}
}

// TestProcessRecordRule tests combinatorial identity masking
func TestProcessRecordRule(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	raw := []byte(`{"name":"Ravi Kumar","email":"ravi@example.com","city":"Mumbai","pin_code":"400001"}`)
	out, res, err := eng.Process(context.Background(), "acme", raw, pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := `{"name":"[REDACTED:NAME]","email":"[REDACTED:EMAIL]","city":"[REDACTED:ADDRESS]","pin_code":"[REDACTED:PIN_CODE]"}`
	if string(out) != want {
		t.Errorf("Out = %s\nwant %s", out, want)
	}
	for _, cat := range []pii.Category{pii.CategoryName, pii.CategoryEmail, pii.CategoryAddress, pii.CategoryPinCode} {
		if res.Categories[cat] != 1 {
			t.Errorf("Categories[%s] = %d, want 1", cat, res.Categories[cat])
		}
	}
}

// TestProcessRecordRuleNotTriggered tests that lone identity fields pass
func TestProcessRecordRuleNotTriggered(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	raw := []byte(`{"name":"Ravi Kumar","status":"active"}`)
	out, res, err := eng.Process(context.Background(), "acme", raw, pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if string(out) != string(raw) {
		t.Errorf("Lone name rewritten: %s", out)
	}
	if res.SpanCount() != 0 {
		t.Errorf("SpanCount = %d, want 0", res.SpanCount())
	}
}

// TestProcessUPIPriority tests that a UPI handle wins over phone
func TestProcessUPIPriority(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	out, res, err := eng.Process(context.Background(), "acme", []byte(`{"vpa":"9876543210@ybl"}`), pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if string(out) != `{"vpa":"[REDACTED:UPI_ID]"}` {
		t.Errorf("Out = %s", out)
	}
	if res.Categories[pii.CategoryUPIID] != 1 || res.Categories[pii.CategoryPhone] != 0 {
		t.Errorf("Categories = %v", res.Categories)
	}
}

// TestProcessPlaintext tests line-oriented redaction
func TestProcessPlaintext(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	raw := []byte("call 9876543210 or mail alice@example.com\nno contact info here")
	out, res, err := eng.Process(context.Background(), "acme", raw, pii.ContentTypePlaintext)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := "call [REDACTED:PHONE] or mail [REDACTED:EMAIL]\nno contact info here"
	if string(out) != want {
		t.Errorf("Out = %q\nwant %q", out, want)
	}
	if res.UnitCount != 2 {
		t.Errorf("UnitCount = %d, want 2", res.UnitCount)
	}
}

// TestProcessForm tests form-encoded redaction
func TestProcessForm(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	raw := []byte("name=Ravi+Kumar&phone=9876543210")
	out, _, err := eng.Process(context.Background(), "acme", raw, pii.ContentTypeForm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := "name=Ravi+Kumar&phone=%5BREDACTED%3APHONE%5D"
	if string(out) != want {
		t.Errorf("Out = %s\nwant %s", out, want)
	}
}

// TestProcessTokenize tests deterministic tokenization and the
// tenant active-category filter
func TestProcessTokenize(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()
	ctx := context.Background()

	raw := []byte(`{"email":"a1@x.com","zip":"400001"}`)
	first, res, err := eng.Process(ctx, "analytics", raw, pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !strings.Contains(string(first), "[TOK:EMAIL:") {
		t.Errorf("No token tag in output: %s", first)
	}
	// PIN_CODE is not in the analytics active list, so the zip survives
	if !strings.Contains(string(first), "400001") {
		t.Errorf("Inactive category was redacted: %s", first)
	}
	if res.Categories[pii.CategoryPinCode] != 0 {
		t.Errorf("Categories = %v", res.Categories)
	}

	second, _, err := eng.Process(ctx, "analytics", raw, pii.ContentTypeJSON)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("Tokenization not deterministic:\n%s\n%s", first, second)
	}
}

// TestProcessCancelledContext tests the early-out on dead contexts
func TestProcessCancelledContext(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := eng.Process(ctx, "acme", []byte("x"), pii.ContentTypePlaintext)
	if err == nil {
		t.Error("Process on a cancelled context should fail")
	}
}

// TestEngineAuditTrail tests that processing feeds the audit sink and
// Close drains it
func TestEngineAuditTrail(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)

	for i := 0; i < 3; i++ {
		if _, _, err := eng.Process(context.Background(), "acme", []byte(`{"email":"a@x.com"}`), pii.ContentTypeJSON); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}

	cancel()
	eng.Close()

	stats := eng.Sink().Export()
	if stats.Records != 3 {
		t.Errorf("Audit records = %d, want 3", stats.Records)
	}
	if stats.Tenants["acme"] != 3 {
		t.Errorf("Tenants = %v", stats.Tenants)
	}
	if stats.Categories[pii.CategoryEmail] != 3 {
		t.Errorf("Categories = %v", stats.Categories)
	}
}
