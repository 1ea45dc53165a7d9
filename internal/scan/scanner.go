// Package scan is the detector engine: it runs a registry snapshot's
// detectors over one scan unit and produces validated, non-overlapping
// match spans under a per-unit latency budget.
package scan

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
	"github.com/madhavanrx18/soc-challenge/internal/registry"
)

// Confidence values attached to spans. Masking ignores confidence
// (detected means masked); the values surface in telemetry only.
const (
	confidenceValidated = 1.0
	confidencePattern   = 0.9
)

// Scanner runs detectors over scan units.
type Scanner struct {
	budget       time.Duration
	maxUnitBytes int
	logger       *zap.Logger
}

// New creates a scanner with the configured per-unit budget.
func New(cfg config.DetectorConfig, logger *zap.Logger) *Scanner {
	return &Scanner{
		budget:       cfg.UnitBudget,
		maxUnitBytes: cfg.MaxUnitBytes,
		logger:       logger,
	}
}

// MaxUnitBytes returns the configured unit size bound.
func (s *Scanner) MaxUnitBytes() int { return s.maxUnitBytes }

// candidate is a validated match before cross-detector overlap
// resolution.
type candidate struct {
	span     pii.MatchSpan
	priority int
}

// Scan runs the detectors (already in priority order) over the unit
// and returns non-overlapping spans sorted by start offset.
//
// A unit larger than the size bound, or a scan that exhausts the
// latency budget, returns pii.ScanTimeoutError; the caller must apply
// the full-unit fail-safe mask rather than surface the error.
func (s *Scanner) Scan(ctx context.Context, unit string, detectors []registry.Detector) ([]pii.MatchSpan, error) {
	if s.maxUnitBytes > 0 && len(unit) > s.maxUnitBytes {
		return nil, &pii.ScanTimeoutError{UnitBytes: len(unit), Budget: s.budget}
	}

	deadline := time.Now().Add(s.budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var candidates []candidate
	for _, det := range detectors {
		select {
		case <-ctx.Done():
			return nil, &pii.ScanTimeoutError{UnitBytes: len(unit), Budget: s.budget}
		default:
		}
		if time.Now().After(deadline) {
			return nil, &pii.ScanTimeoutError{UnitBytes: len(unit), Budget: s.budget}
		}

		locs := det.Pattern.FindAllStringIndex(unit, -1)
		for _, loc := range locs {
			text := unit[loc[0]:loc[1]]
			confidence := confidencePattern
			if det.Validate != nil {
				if !det.Validate(text) {
					continue
				}
				confidence = confidenceValidated
			}
			candidates = append(candidates, candidate{
				span: pii.MatchSpan{
					Start:      loc[0],
					End:        loc[1],
					Category:   det.Category,
					Confidence: confidence,
					Text:       text,
				},
				priority: det.Priority,
			})
		}
	}

	return resolveOverlaps(candidates), nil
}

// resolveOverlaps picks a non-overlapping subset: higher priority
// wins, then the longer span, then the earlier start. The survivors
// come back sorted by start offset.
func resolveOverlaps(candidates []candidate) []pii.MatchSpan {
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		li, lj := candidates[i].span.Len(), candidates[j].span.Len()
		if li != lj {
			return li > lj
		}
		return candidates[i].span.Start < candidates[j].span.Start
	})

	accepted := make([]pii.MatchSpan, 0, len(candidates))
	for _, c := range candidates {
		overlaps := false
		for _, a := range accepted {
			if c.span.Overlaps(a) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c.span)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}
