// Package redact applies masking strategies to match spans. Mask tags
// and tokens are constructed so no registered detector can re-match
// them, which is what makes redaction idempotent.
package redact

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"hash"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// StrategyResolver looks up the masking strategy for a category. The
// policy store's tenant view satisfies this.
type StrategyResolver func(pii.Category) pii.Strategy

// Redactor rewrites scan units according to resolved strategies. The
// tokenization key is process-wide, set once at construction, never
// logged.
type Redactor struct {
	logger   *zap.Logger
	hmacPool sync.Pool
}

// New creates a redactor. An empty key gets a random ephemeral one:
// tokens stay deterministic within the process but not across
// restarts, which is logged as a warning because it breaks
// cross-restart correlation.
func New(tokenKey []byte, logger *zap.Logger) *Redactor {
	if len(tokenKey) == 0 {
		tokenKey = make([]byte, 32)
		if _, err := rand.Read(tokenKey); err == nil {
			logger.Warn("No tokenization key configured, using ephemeral key; tokens will not be stable across restarts")
		}
	}
	key := make([]byte, len(tokenKey))
	copy(key, tokenKey)

	return &Redactor{
		logger: logger,
		hmacPool: sync.Pool{
			New: func() interface{} {
				return hmac.New(sha256.New, key)
			},
		},
	}
}

// Redact applies the resolved strategy to each span and returns the
// rewritten unit plus per-category match counts for the audit record.
// Spans must be non-overlapping and sorted by start offset, as the
// scanner guarantees.
func (r *Redactor) Redact(unit string, spans []pii.MatchSpan, resolve StrategyResolver) (string, map[pii.Category]int) {
	if len(spans) == 0 {
		return unit, nil
	}

	counts := make(map[pii.Category]int, len(spans))
	var b strings.Builder
	b.Grow(len(unit))

	last := 0
	for _, span := range spans {
		if span.Start < last || span.End > len(unit) {
			// Span outside the unit or overlapping the previous one;
			// scanner output never does this, skip rather than corrupt.
			continue
		}
		b.WriteString(unit[last:span.Start])

		strategy := pii.FullMask
		if resolve != nil {
			strategy = resolve(span.Category)
		}
		replacement := r.apply(span, strategy)
		b.WriteString(replacement)

		if strategy.Kind != pii.StrategyAllow {
			counts[span.Category]++
		}
		last = span.End
	}
	b.WriteString(unit[last:])

	return b.String(), counts
}

// MaskAll replaces the whole unit with the UNKNOWN mask tag. This is
// the fail-safe for units that could not be scanned within budget.
func (r *Redactor) MaskAll(unit string) string {
	return pii.MaskTag(pii.CategoryUnknown)
}

// apply renders one span's replacement.
func (r *Redactor) apply(span pii.MatchSpan, strategy pii.Strategy) string {
	switch strategy.Kind {
	case pii.StrategyAllow:
		return span.Text
	case pii.StrategyPartial:
		if strategy.KeepPrefix+strategy.KeepSuffix >= len(span.Text) {
			// Keeps would cover the whole value; degrade to FULL
			return pii.MaskTag(span.Category)
		}
		return r.partial(span.Text, strategy)
	case pii.StrategyTokenize:
		return pii.TokenTag(span.Category, r.tokenBody(span.Text))
	default:
		// FULL, unknown kinds, and unconfigured categories all take the
		// fail-safe tag.
		return pii.MaskTag(span.Category)
	}
}

// partial keeps the configured prefix and suffix and masks the
// interior. The caller has already ruled out keeps that cover the
// whole value.
func (r *Redactor) partial(text string, strategy pii.Strategy) string {
	keepPrefix := strategy.KeepPrefix
	keepSuffix := strategy.KeepSuffix

	maskChar := "*"
	if strategy.MaskChar != "" {
		maskChar = strategy.MaskChar
	}

	run := pii.DefaultMaskRun
	if strategy.PreserveLength {
		run = len(text) - keepPrefix - keepSuffix
	} else if strategy.MaskRun > 0 {
		run = strategy.MaskRun
	}

	var b strings.Builder
	b.Grow(keepPrefix + run + keepSuffix)
	b.WriteString(text[:keepPrefix])
	for i := 0; i < run; i++ {
		b.WriteString(maskChar)
	}
	b.WriteString(text[len(text)-keepSuffix:])
	return b.String()
}

// tokenBody derives the deterministic letters-only token body from the
// matched text: HMAC-SHA256 under the process key, nibbles mapped into
// the token alphabet. No digits can appear, so a token never re-matches
// a numeric detector.
func (r *Redactor) tokenBody(text string) string {
	mac := r.hmacPool.Get().(hash.Hash)
	mac.Reset()
	mac.Write([]byte(text))
	sum := mac.Sum(nil)
	r.hmacPool.Put(mac)

	body := make([]byte, pii.TokenLength)
	for i := 0; i < pii.TokenLength; i++ {
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		body[i] = pii.TokenAlphabet[nibble&0x0f]
	}
	return string(body)
}
