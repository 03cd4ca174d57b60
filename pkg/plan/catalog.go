package plan

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Class identifies a metered kind of gated resource.
type Class string

// AdvisorCall is the class metered by the default catalog.
const AdvisorCall Class = "advisor_call"

// Policy holds the monthly allowance per tier for one class.
type Policy map[Tier]int64

// DefaultAdvisorPolicy is the stock advisor-call allowance.
func DefaultAdvisorPolicy() Policy {
	return Policy{Free: 3, Basic: 10, Pro: 30, Premium: 100}
}

// Allowance is the resolved monthly limit for a tier.
type Allowance struct {
	Limit int64
	// Fallback is set when the policy had no entry for the requested tier
	// and the free allowance was used instead.
	Fallback bool
}

// Catalog is the validated set of quota policies.
type Catalog struct {
	policies map[Class]Policy
}

// NewCatalog validates and copies policies.
func NewCatalog(policies map[Class]Policy) (*Catalog, error) {
	if len(policies) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("no quota policies defined"))
	}
	c := &Catalog{policies: make(map[Class]Policy, len(policies))}
	for class, policy := range policies {
		if class == "" {
			return nil, errors.Join(ErrInvalidCatalog, errors.New("empty resource class"))
		}
		if _, ok := policy[Free]; !ok {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("class %q: free tier allowance is required", class))
		}
		for tier, limit := range policy {
			if !tier.Valid() {
				return nil, errors.Join(ErrInvalidCatalog, ErrUnknownTier, fmt.Errorf("class %q: tier %q", class, tier))
			}
			if limit < 0 {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("class %q: negative allowance %d for %s", class, limit, tier))
			}
		}
		c.policies[class] = maps.Clone(policy)
	}
	return c, nil
}

// DefaultCatalog returns a catalog with the advisor-call policy only.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(map[Class]Policy{AdvisorCall: DefaultAdvisorPolicy()})
	if err != nil {
		panic(err)
	}
	return c
}

// Allowance resolves the monthly limit of class for tier. Tiers the policy
// does not list get the free allowance with Fallback set.
func (c *Catalog) Allowance(class Class, tier Tier) (Allowance, error) {
	policy, ok := c.policies[class]
	if !ok {
		return Allowance{}, errors.Join(ErrUnknownClass, fmt.Errorf("%q", class))
	}
	if limit, ok := policy[tier]; ok {
		return Allowance{Limit: limit}, nil
	}
	return Allowance{Limit: policy[Free], Fallback: true}, nil
}

// Classes lists the configured classes in sorted order.
func (c *Catalog) Classes() []Class {
	return slices.Sorted(maps.Keys(c.policies))
}

// Policy returns a copy of the policy for class.
func (c *Catalog) Policy(class Class) (Policy, bool) {
	p, ok := c.policies[class]
	if !ok {
		return nil, false
	}
	return maps.Clone(p), true
}

// LimitChange describes how one class allowance changes between tiers.
type LimitChange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Comparison summarizes a move between two tiers. Used for upgrade prompts.
type Comparison struct {
	From      Tier                  `json:"from"`
	To        Tier                  `json:"to"`
	IsUpgrade bool                  `json:"is_upgrade"`
	Changes   map[Class]LimitChange `json:"changes"`
}

// Compare lists the allowance differences from current to target.
// Classes whose allowance does not change are omitted.
func (c *Catalog) Compare(current, target Tier) Comparison {
	cmp := Comparison{
		From:      current,
		To:        target,
		IsUpgrade: target.Rank() > current.Rank(),
		Changes:   make(map[Class]LimitChange),
	}
	for class := range c.policies {
		from, _ := c.Allowance(class, current)
		to, _ := c.Allowance(class, target)
		if from.Limit != to.Limit {
			cmp.Changes[class] = LimitChange{From: from.Limit, To: to.Limit}
		}
	}
	return cmp
}

type catalogFile struct {
	Quotas map[string]map[string]int64 `yaml:"quotas"`
}

// LoadYAML reads the "quotas" section of a catalog file:
//
//	quotas:
//	  advisor_call:
//	    free: 3
//	    pro: 30
func LoadYAML(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	return ParseYAML(raw)
}

// ParseYAML is LoadYAML for in-memory data.
func ParseYAML(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	policies := make(map[Class]Policy, len(f.Quotas))
	for class, tiers := range f.Quotas {
		p := make(Policy, len(tiers))
		for name, limit := range tiers {
			tier, err := Parse(name)
			if err != nil {
				return nil, errors.Join(ErrInvalidCatalog, err)
			}
			p[tier] = limit
		}
		policies[Class(class)] = p
	}
	return NewCatalog(policies)
}
