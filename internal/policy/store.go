// Package policy maps (tenant, category) to masking strategies and
// tenants to active-category sets. Reads are lock-free snapshot loads;
// every update replaces whole entries atomically. Defaults are
// fail-safe: an unknown tenant has all categories active and every
// category resolves to FULL.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Store holds the active policy snapshot.
type Store struct {
	config config.PolicyConfig
	logger *zap.Logger

	mu      sync.Mutex // serializes writers; readers never take it
	snap    atomic.Pointer[snapshot]
	version atomic.Uint64
}

type snapshot struct {
	tenants map[string]tenantPolicy
}

// New creates a store with no tenant entries: every tenant gets the
// fail-safe defaults until a policy document is loaded.
func New(cfg config.PolicyConfig, logger *zap.Logger) *Store {
	s := &Store{
		config: cfg,
		logger: logger,
	}
	s.snap.Store(&snapshot{tenants: map[string]tenantPolicy{}})
	return s
}

// Version increments on every successful snapshot replacement. The
// result cache keys on it so policy changes invalidate cached output.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Resolve returns the masking strategy for (tenant, category). The
// second result reports whether an explicit entry existed; a miss is
// not an error and resolves to the FULL fail-safe.
func (s *Store) Resolve(tenant string, category pii.Category) (pii.Strategy, bool) {
	snap := s.snap.Load()
	tp, ok := snap.tenants[tenant]
	if !ok {
		return pii.FullMask, false
	}
	strategy, ok := tp.strategies[category]
	if !ok {
		return pii.FullMask, false
	}
	return strategy, true
}

// ActiveFilter returns the category filter for a tenant. A nil result
// means all categories are active, which is the default for unknown
// tenants and tenants without an explicit active list.
func (s *Store) ActiveFilter(tenant string) func(pii.Category) bool {
	snap := s.snap.Load()
	tp, ok := snap.tenants[tenant]
	if !ok || tp.active == nil {
		return nil
	}
	active := tp.active
	return func(c pii.Category) bool {
		_, ok := active[c]
		return ok
	}
}

// Resolver returns the strategy lookup bound to one tenant. The
// snapshot is captured once so every unit of a payload resolves
// against the same policy version.
func (s *Store) Resolver(tenant string) func(pii.Category) pii.Strategy {
	snap := s.snap.Load()
	tp, ok := snap.tenants[tenant]
	if !ok {
		return func(pii.Category) pii.Strategy { return pii.FullMask }
	}
	return func(c pii.Category) pii.Strategy {
		strategy, ok := tp.strategies[c]
		if !ok {
			return pii.FullMask
		}
		return strategy
	}
}

// Tenant returns the stored policy entry for a tenant and whether one
// exists.
func (s *Store) Tenant(tenant string) (TenantDoc, bool) {
	snap := s.snap.Load()
	tp, ok := snap.tenants[tenant]
	if !ok {
		return TenantDoc{}, false
	}
	doc := tp.toDoc()
	sort.Strings(doc.Active)
	return doc, true
}

// Tenants lists tenants with explicit entries.
func (s *Store) Tenants() []string {
	snap := s.snap.Load()
	out := make([]string, 0, len(snap.tenants))
	for t := range snap.tenants {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Load validates and installs a full policy document, replacing the
// entire snapshot.
func (s *Store) Load(doc Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid policy document: %w", err)
	}

	tenants := make(map[string]tenantPolicy, len(doc.Tenants))
	for tenant, td := range doc.Tenants {
		tenants[tenant] = compileTenant(td)
	}

	s.mu.Lock()
	s.snap.Store(&snapshot{tenants: tenants})
	s.version.Add(1)
	s.mu.Unlock()

	s.logger.Info("Policy snapshot loaded", zap.Int("tenants", len(tenants)))
	return nil
}

// LoadFile reads a YAML policy document from disk and loads it.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	return s.Load(doc)
}

// UpdateTenant replaces one tenant's whole entry. Concurrent readers
// see either the old or the new entry, never a mix.
func (s *Store) UpdateTenant(tenant string, doc TenantDoc) error {
	if tenant == "" {
		return fmt.Errorf("empty tenant id")
	}
	if err := (Document{Tenants: map[string]TenantDoc{tenant: doc}}).Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.snap.Load()
	tenants := make(map[string]tenantPolicy, len(old.tenants)+1)
	for t, tp := range old.tenants {
		tenants[t] = tp
	}
	tenants[tenant] = compileTenant(doc)

	s.snap.Store(&snapshot{tenants: tenants})
	s.version.Add(1)

	s.logger.Info("Tenant policy updated", zap.String("tenant", tenant))
	return nil
}

// SetStrategy replaces the strategy for one (tenant, category) pair.
func (s *Store) SetStrategy(tenant string, category pii.Category, strategy pii.Strategy) error {
	if !category.Valid() {
		return fmt.Errorf("invalid category %q", category)
	}
	if err := strategy.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.tenantDocLocked(tenant)
	if doc.Strategies == nil {
		doc.Strategies = map[string]pii.Strategy{}
	}
	doc.Strategies[string(category)] = strategy
	return s.updateTenantLocked(tenant, doc)
}

// SetActive replaces a tenant's active-category set. An empty list
// reverts the tenant to all-active.
func (s *Store) SetActive(tenant string, categories []pii.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.tenantDocLocked(tenant)
	doc.Active = doc.Active[:0]
	for _, c := range categories {
		if !c.Valid() {
			return fmt.Errorf("invalid category %q", c)
		}
		doc.Active = append(doc.Active, string(c))
	}
	return s.updateTenantLocked(tenant, doc)
}

func (s *Store) tenantDocLocked(tenant string) TenantDoc {
	if tp, ok := s.snap.Load().tenants[tenant]; ok {
		return tp.toDoc()
	}
	return TenantDoc{}
}

func (s *Store) updateTenantLocked(tenant string, doc TenantDoc) error {
	old := s.snap.Load()
	tenants := make(map[string]tenantPolicy, len(old.tenants)+1)
	for t, tp := range old.tenants {
		tenants[t] = tp
	}
	tenants[tenant] = compileTenant(doc)
	s.snap.Store(&snapshot{tenants: tenants})
	s.version.Add(1)
	return nil
}

// Watch reloads the policy file whenever it changes. A bad file leaves
// the previous snapshot active. Blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.config.File)
	base := filepath.Base(s.config.File)
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
			if err := s.LoadFile(s.config.File); err != nil {
				s.logger.Error("Policy reload failed, keeping previous snapshot",
					zap.String("file", s.config.File),
					zap.Error(err),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Policy watcher error", zap.Error(err))
		}
	}
}
