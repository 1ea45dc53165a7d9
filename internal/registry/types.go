package registry

import (
	"regexp"
	"time"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Definition is one detector definition as it appears in a definition
// set (YAML file or registry load request). Pattern source and
// validator identifier are resolved at load time.
type Definition struct {
	Name      string `json:"name" yaml:"name"`
	Category  string `json:"category" yaml:"category"`
	Pattern   string `json:"pattern" yaml:"pattern"`
	Validator string `json:"validator,omitempty" yaml:"validator"`
	Priority  int    `json:"priority" yaml:"priority"`
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled"`
}

// DefinitionSet is a versioned set of detector definitions.
type DefinitionSet struct {
	Version   string       `json:"version" yaml:"version"`
	Detectors []Definition `json:"detectors" yaml:"detectors"`
}

// Detector is a compiled, validated detector. Immutable after load;
// shared across concurrent scans through registry snapshots.
type Detector struct {
	Name     string
	Category pii.Category
	Priority int
	Pattern  *regexp.Regexp
	Validate ValidatorFunc // nil when the definition names no validator
}

// CategoryFilter restricts a snapshot's detector sequence to the
// categories active for a tenant. A nil filter means all categories.
type CategoryFilter func(pii.Category) bool

// Snapshot is one immutable registry state. Scans hold the snapshot
// they started with; registry swaps never mutate a published snapshot.
type Snapshot struct {
	Version   string
	LoadedAt  time.Time
	detectors []Detector // sorted by priority descending
	categories map[pii.Category]struct{}
}

// Detectors returns all detectors in priority order (descending).
func (s *Snapshot) Detectors() []Detector {
	return s.detectors
}

// ActiveDetectors returns detectors whose category passes the filter,
// preserving priority order.
func (s *Snapshot) ActiveDetectors(filter CategoryFilter) []Detector {
	if filter == nil {
		return s.detectors
	}
	out := make([]Detector, 0, len(s.detectors))
	for _, d := range s.detectors {
		if filter(d.Category) {
			out = append(out, d)
		}
	}
	return out
}

// Categories returns the set of categories defined by this snapshot.
func (s *Snapshot) Categories() []pii.Category {
	out := make([]pii.Category, 0, len(s.categories))
	for c := range s.categories {
		out = append(out, c)
	}
	return out
}

// HasCategory reports whether the snapshot defines a detector for the
// category.
func (s *Snapshot) HasCategory(c pii.Category) bool {
	_, ok := s.categories[c]
	return ok
}
