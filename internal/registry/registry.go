// Package registry holds versioned detector definitions: compiling,
// vetting and publishing them as immutable snapshots that scans read
// lock-free. A load replaces the whole snapshot atomically or not at
// all; a scan always sees the single snapshot it started with.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Registry compiles detector definition sets and publishes them as
// atomic snapshots.
type Registry struct {
	config config.RegistryConfig
	logger *zap.Logger
	snap   atomic.Pointer[Snapshot]
	onSwap atomic.Pointer[func(*Snapshot)]
}

// OnSwap registers a callback invoked after every successful snapshot
// swap, including swaps triggered by the file watcher.
func (r *Registry) OnSwap(fn func(*Snapshot)) {
	r.onSwap.Store(&fn)
}

// New creates an empty registry. Callers load an initial definition
// set with Load or LoadFile before scanning.
func New(cfg config.RegistryConfig, logger *zap.Logger) *Registry {
	r := &Registry{
		config: cfg,
		logger: logger,
	}
	r.snap.Store(&Snapshot{
		Version:    "empty",
		LoadedAt:   time.Now(),
		categories: map[pii.Category]struct{}{},
	})
	return r
}

// Snapshot returns the active snapshot. The result is immutable and
// safe to use for the full duration of a scan regardless of concurrent
// loads.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Load compiles and vets a definition set, then swaps it in as the
// active snapshot. On any pii.InvalidPatternError the previous
// snapshot stays active.
func (r *Registry) Load(set DefinitionSet) error {
	if len(set.Detectors) == 0 {
		return &pii.InvalidPatternError{Definition: set.Version, Reason: "definition set has no detectors"}
	}

	categories := make([]pii.Category, 0, len(set.Detectors))
	for _, def := range set.Detectors {
		categories = append(categories, pii.Category(def.Category))
	}
	samples := maskSamples(categories)

	seen := make(map[string]struct{}, len(set.Detectors))
	detectors := make([]Detector, 0, len(set.Detectors))
	categorySet := make(map[pii.Category]struct{})

	for _, def := range set.Detectors {
		if def.Enabled != nil && !*def.Enabled {
			continue
		}
		if def.Name == "" {
			return &pii.InvalidPatternError{Definition: def.Pattern, Reason: "detector has no name"}
		}
		if _, dup := seen[def.Name]; dup {
			return &pii.InvalidPatternError{Definition: def.Name, Reason: "duplicate detector name"}
		}
		seen[def.Name] = struct{}{}

		category := pii.Category(def.Category)
		if !category.Valid() {
			return &pii.InvalidPatternError{Definition: def.Name, Reason: fmt.Sprintf("invalid category %q", def.Category)}
		}
		if def.Pattern == "" {
			return &pii.InvalidPatternError{Definition: def.Name, Reason: "empty pattern"}
		}

		if err := checkComplexity(def.Pattern, r.maxProgramSize()); err != nil {
			return &pii.InvalidPatternError{Definition: def.Name, Reason: "pattern too complex", Err: err}
		}

		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return &pii.InvalidPatternError{Definition: def.Name, Reason: "pattern does not compile", Err: err}
		}

		if err := checkMaskExclusion(re, samples); err != nil {
			return &pii.InvalidPatternError{Definition: def.Name, Reason: "pattern not idempotence-safe", Err: err}
		}

		validate, ok := lookupValidator(def.Validator)
		if !ok {
			return &pii.InvalidPatternError{Definition: def.Name, Reason: fmt.Sprintf("unknown validator %q", def.Validator)}
		}

		detectors = append(detectors, Detector{
			Name:     def.Name,
			Category: category,
			Priority: def.Priority,
			Pattern:  re,
			Validate: validate,
		})
		categorySet[category] = struct{}{}
	}

	if len(detectors) == 0 {
		return &pii.InvalidPatternError{Definition: set.Version, Reason: "definition set has no enabled detectors"}
	}

	// Priority descending; name ascending keeps equal priorities stable
	// across loads.
	sort.SliceStable(detectors, func(i, j int) bool {
		if detectors[i].Priority != detectors[j].Priority {
			return detectors[i].Priority > detectors[j].Priority
		}
		return detectors[i].Name < detectors[j].Name
	})

	snapshot := &Snapshot{
		Version:    set.Version,
		LoadedAt:   time.Now(),
		detectors:  detectors,
		categories: categorySet,
	}
	r.snap.Store(snapshot)
	if fn := r.onSwap.Load(); fn != nil {
		(*fn)(snapshot)
	}

	r.logger.Info("Registry snapshot loaded",
		zap.String("version", set.Version),
		zap.Int("detectors", len(detectors)),
		zap.Int("categories", len(categorySet)),
	)
	return nil
}

// LoadFile reads a YAML definition set from disk and loads it.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read patterns file: %w", err)
	}

	var set DefinitionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("failed to parse patterns file: %w", err)
	}
	if set.Version == "" {
		set.Version = fmt.Sprintf("file-%d", time.Now().Unix())
	}

	return r.Load(set)
}

// Watch reloads the patterns file whenever it changes. A bad file
// leaves the previous snapshot active. Blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory; editors and config mounts replace the file,
	// which drops a watch on the file itself.
	dir := filepath.Dir(r.config.PatternsFile)
	base := filepath.Base(r.config.PatternsFile)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.LoadFile(r.config.PatternsFile); err != nil {
				r.logger.Error("Registry reload failed, keeping previous snapshot",
					zap.String("file", r.config.PatternsFile),
					zap.Error(err),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Pattern watcher error", zap.Error(err))
		}
	}
}

func (r *Registry) maxProgramSize() int {
	if r.config.MaxProgramSize > 0 {
		return r.config.MaxProgramSize
	}
	return 2000
}
