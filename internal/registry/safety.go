package registry

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// checkComplexity parses the pattern and rejects programs above the
// instruction cap. Go's regexp engine guarantees linear-time matching,
// so the classic catastrophic-backtracking failure cannot occur at
// runtime; the cap keeps pathological patterns (huge counted repeats,
// deep alternations) from inflating per-unit scan cost past the
// latency budget. Constructs RE2 cannot compile (backreferences,
// lookarounds) fail here too.
func checkComplexity(pattern string, maxProgramSize int) error {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	prog, err := syntax.Compile(re.Simplify())
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if len(prog.Inst) > maxProgramSize {
		return fmt.Errorf("program size %d exceeds cap %d", len(prog.Inst), maxProgramSize)
	}
	return nil
}

// maskSamples builds the strings no registered pattern may match:
// FULL-mask tags for every category that can appear in redacted
// output, and worst-case token bodies. This is what makes redaction
// idempotent.
func maskSamples(categories []pii.Category) []string {
	seen := map[pii.Category]struct{}{pii.CategoryUnknown: {}}
	for _, c := range builtinCategories {
		seen[c] = struct{}{}
	}
	for _, c := range categories {
		seen[c] = struct{}{}
	}

	samples := make([]string, 0, 2*len(seen))
	tokenBody := strings.Repeat(pii.TokenAlphabet[:1], pii.TokenLength)
	for c := range seen {
		samples = append(samples, pii.MaskTag(c))
		samples = append(samples, pii.TokenTag(c, tokenBody))
		samples = append(samples, pii.TokenTag(c, pii.TokenAlphabet[:pii.TokenLength]))
	}
	return samples
}

var builtinCategories = []pii.Category{
	pii.CategoryPhone,
	pii.CategoryUPIID,
	pii.CategoryEmail,
	pii.CategoryCardNumber,
	pii.CategoryAadhaar,
	pii.CategoryPassport,
	pii.CategoryPinCode,
	pii.CategoryName,
	pii.CategoryAddress,
	pii.CategoryIPAddress,
}

// checkMaskExclusion rejects a pattern that matches inside any mask
// sample. A detector that re-triggers on its own (or any other
// detector's) redacted output would break idempotence.
func checkMaskExclusion(re *regexp.Regexp, samples []string) error {
	for _, s := range samples {
		if loc := re.FindStringIndex(s); loc != nil {
			return fmt.Errorf("pattern matches mask output %q", s)
		}
	}
	return nil
}
