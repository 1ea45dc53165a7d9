package cache

import (
	"time"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Entry is a cached redaction result. The output is fully redacted
// before it gets here; raw input is never cached.
type Entry struct {
	Output     []byte               `json:"output"`
	Categories map[pii.Category]int `json:"categories,omitempty"`
	UnitCount  int                  `json:"unit_count"`
	TimedOut   bool                 `json:"timed_out,omitempty"`
	CachedAt   time.Time            `json:"cached_at"`
}

// Stats represents cache performance statistics
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
