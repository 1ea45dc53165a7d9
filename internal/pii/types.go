// Package pii defines the domain types shared by the registry, scanner,
// redactor and policy packages: PII categories, match spans, masking
// strategies and the error taxonomy of the redaction core.
package pii

import (
	"fmt"
	"strings"
)

// Category identifies a class of personally identifiable information.
// Categories are registry-defined; the constants below cover the
// built-in detector set, but any non-empty name is a valid custom
// category.
type Category string

const (
	CategoryPhone      Category = "PHONE"
	CategoryUPIID      Category = "UPI_ID"
	CategoryEmail      Category = "EMAIL"
	CategoryCardNumber Category = "CARD_NUMBER"
	CategoryAadhaar    Category = "AADHAAR"
	CategoryPassport   Category = "PASSPORT"
	CategoryPinCode    Category = "PIN_CODE"
	CategoryName       Category = "NAME"
	CategoryAddress    Category = "ADDRESS"
	CategoryIPAddress  Category = "IP_ADDRESS"

	// CategoryUnknown is reserved for the fail-safe path: units that
	// could not be scanned within budget are masked under this category.
	// It is never a registry-defined detector category.
	CategoryUnknown Category = "UNKNOWN"
)

// Valid reports whether the category name is usable in a detector
// definition. UNKNOWN is reserved.
func (c Category) Valid() bool {
	return c != "" && c != CategoryUnknown
}

// ContentType declares how a raw unit should be interpreted by the
// stream adapter.
type ContentType string

const (
	ContentTypeJSON      ContentType = "JSON"
	ContentTypePlaintext ContentType = "PLAINTEXT"
	ContentTypeForm      ContentType = "FORM"
)

// ContentTypeFromMIME maps an HTTP Content-Type header value to a
// ContentType. Unrecognized types scan as plaintext.
func ContentTypeFromMIME(mime string) ContentType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch {
	case strings.HasSuffix(mime, "/json") || strings.HasSuffix(mime, "+json"):
		return ContentTypeJSON
	case mime == "application/x-www-form-urlencoded":
		return ContentTypeForm
	default:
		return ContentTypePlaintext
	}
}

// MatchSpan is a single detected PII occurrence inside one scan unit.
// Start and End are byte offsets into the unit, End exclusive. Text is
// a borrowed view of the matched bytes: it lives only for the duration
// of one scan/redact pass and must never be serialized or logged.
type MatchSpan struct {
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Text       string   `json:"-"` // Never serialize matched text
}

// Len returns the span length in bytes.
func (s MatchSpan) Len() int { return s.End - s.Start }

// Overlaps reports whether two spans share any byte.
func (s MatchSpan) Overlaps(o MatchSpan) bool {
	return s.Start < o.End && o.Start < s.End
}

// StrategyKind enumerates the masking strategies.
type StrategyKind string

const (
	StrategyFull     StrategyKind = "full"
	StrategyPartial  StrategyKind = "partial"
	StrategyTokenize StrategyKind = "tokenize"
	StrategyAllow    StrategyKind = "allow"
)

// DefaultMaskRun is the interior mask length for PARTIAL strategies
// that neither preserve length nor set an explicit run.
const DefaultMaskRun = 3

// Strategy describes how matches of one category are masked.
type Strategy struct {
	Kind StrategyKind `json:"kind" yaml:"kind" mapstructure:"kind"`

	// PARTIAL parameters.
	KeepPrefix     int    `json:"keep_prefix,omitempty" yaml:"keep_prefix" mapstructure:"keep_prefix"`
	KeepSuffix     int    `json:"keep_suffix,omitempty" yaml:"keep_suffix" mapstructure:"keep_suffix"`
	MaskRun        int    `json:"mask_run,omitempty" yaml:"mask_run" mapstructure:"mask_run"`
	MaskChar       string `json:"mask_char,omitempty" yaml:"mask_char" mapstructure:"mask_char"`
	PreserveLength bool   `json:"preserve_length,omitempty" yaml:"preserve_length" mapstructure:"preserve_length"`
}

// FullMask is the fail-safe strategy applied to unknown or
// unconfigured categories.
var FullMask = Strategy{Kind: StrategyFull}

// Validate checks strategy parameters.
func (s Strategy) Validate() error {
	switch s.Kind {
	case StrategyFull, StrategyTokenize, StrategyAllow:
		return nil
	case StrategyPartial:
		if s.KeepPrefix < 0 || s.KeepSuffix < 0 || s.MaskRun < 0 {
			return fmt.Errorf("partial strategy: negative keep/mask lengths")
		}
		if len(s.MaskChar) > 1 {
			return fmt.Errorf("partial strategy: mask_char must be a single character")
		}
		return nil
	default:
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
}

// MaskTag returns the FULL-mask replacement for a category, e.g.
// "[REDACTED:PHONE]". Tags are verified at registry load to never
// match a registered detector, which is what makes redaction
// idempotent.
func MaskTag(c Category) string {
	return "[REDACTED:" + string(c) + "]"
}

// TokenAlphabet maps HMAC nibbles to letters. Tokens contain no digits
// so they can never re-match numeric detectors (phone, card, Aadhaar,
// PIN code) on a second pass.
const TokenAlphabet = "abcdefghijklmnop"

// TokenLength is the number of alphabet characters in a token body.
const TokenLength = 12

// TokenTag formats a tokenized replacement, e.g. "[TOK:EMAIL:kcmdpaefbghn]".
func TokenTag(c Category, body string) string {
	return "[TOK:" + string(c) + ":" + body + "]"
}
