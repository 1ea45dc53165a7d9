package policy

import (
	"fmt"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Document is the wire/file form of the policy set.
type Document struct {
	Tenants map[string]TenantDoc `json:"tenants" yaml:"tenants"`
}

// TenantDoc is one tenant's policy as configured. An empty Active list
// means all categories are active (fail-safe default-on); categories
// without a strategy entry resolve to FULL.
type TenantDoc struct {
	Active     []string                `json:"active,omitempty" yaml:"active"`
	Strategies map[string]pii.Strategy `json:"strategies,omitempty" yaml:"strategies"`
}

// Validate checks the document before it replaces the active snapshot.
func (d Document) Validate() error {
	for tenant, td := range d.Tenants {
		if tenant == "" {
			return fmt.Errorf("empty tenant id")
		}
		for _, c := range td.Active {
			if !pii.Category(c).Valid() {
				return fmt.Errorf("tenant %s: invalid active category %q", tenant, c)
			}
		}
		for c, strategy := range td.Strategies {
			if !pii.Category(c).Valid() {
				return fmt.Errorf("tenant %s: invalid strategy category %q", tenant, c)
			}
			if err := strategy.Validate(); err != nil {
				return fmt.Errorf("tenant %s category %s: %w", tenant, c, err)
			}
		}
	}
	return nil
}

// tenantPolicy is the compiled per-tenant entry held in a snapshot.
type tenantPolicy struct {
	active     map[pii.Category]struct{} // nil means all categories
	strategies map[pii.Category]pii.Strategy
}

func compileTenant(doc TenantDoc) tenantPolicy {
	tp := tenantPolicy{}
	if len(doc.Active) > 0 {
		tp.active = make(map[pii.Category]struct{}, len(doc.Active))
		for _, c := range doc.Active {
			tp.active[pii.Category(c)] = struct{}{}
		}
	}
	if len(doc.Strategies) > 0 {
		tp.strategies = make(map[pii.Category]pii.Strategy, len(doc.Strategies))
		for c, s := range doc.Strategies {
			tp.strategies[pii.Category(c)] = s
		}
	}
	return tp
}

func (tp tenantPolicy) toDoc() TenantDoc {
	doc := TenantDoc{}
	for c := range tp.active {
		doc.Active = append(doc.Active, string(c))
	}
	if len(tp.strategies) > 0 {
		doc.Strategies = make(map[string]pii.Strategy, len(tp.strategies))
		for c, s := range tp.strategies {
			doc.Strategies[string(c)] = s
		}
	}
	return doc
}
