package pii

import (
	"fmt"
	"time"
)

// InvalidPatternError is returned by registry loads when a detector
// definition cannot be compiled, references an unknown validator,
// exceeds the complexity cap, or would match its own mask output. The
// load attempt fails as a whole; the previous snapshot stays active.
type InvalidPatternError struct {
	Definition string // detector name from the definition set
	Reason     string
	Err        error
}

func (e *InvalidPatternError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid pattern %q: %s: %v", e.Definition, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid pattern %q: %s", e.Definition, e.Reason)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// ScanTimeoutError reports a unit whose scan exceeded the latency
// budget. It is recovered locally: the unit is returned fully masked
// under CategoryUnknown and the error surfaces only as a metric.
type ScanTimeoutError struct {
	UnitBytes int
	Budget    time.Duration
}

func (e *ScanTimeoutError) Error() string {
	return fmt.Sprintf("scan exceeded %s budget on %d byte unit", e.Budget, e.UnitBytes)
}

// MalformedInputError reports input that could not be parsed as its
// declared content type. The adapter recovers by scanning the raw
// bytes as plaintext; redaction is never skipped.
type MalformedInputError struct {
	ContentType ContentType
	Err         error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed %s input: %v", e.ContentType, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }
