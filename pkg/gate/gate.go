// Package gate decides whether a resource is available to a subscription
// tier, independent of how much of it the user has consumed.
//
// A resource is available when it is on the free list, or when the tier
// satisfies the resource's minimum plan. Resources with no minimum plan,
// and resource ids the registry has never seen, are available to everyone
// unless the registry was built with WithStrictDeclarations.
package gate

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/quotagate/pkg/plan"
)

var ErrInvalidResource = errors.New("gate: invalid resource declaration")

// Resource is a gated action or feature.
type Resource struct {
	ID      string     `yaml:"id"`
	MinPlan plan.Tier  `yaml:"min_plan"`
	Class   plan.Class `yaml:"class"`
}

// Availability explains a resolution.
type Availability string

const (
	FreeListed    Availability = "free_listed"
	PlanSatisfied Availability = "plan_satisfied"
	PlanTooLow    Availability = "plan_too_low"
	Open          Availability = "open"
	Undeclared    Availability = "undeclared"
	// UndeclaredDenied is returned instead of Undeclared by strict registries.
	UndeclaredDenied Availability = "undeclared_denied"
)

// Result is the outcome of Resolve.
type Result struct {
	Available bool
	Reason    Availability
	// RequiredPlan is set when Reason is PlanTooLow.
	RequiredPlan plan.Tier
}

// Registry holds resource declarations. Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	resources    map[string]Resource
	free         map[string]struct{}
	strict       bool
	defaultClass plan.Class
	undeclared   atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry) error

// WithResources declares gated resources.
func WithResources(resources ...Resource) Option {
	return func(r *Registry) error {
		for _, res := range resources {
			if err := r.add(res); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithFreeList puts ids on the free list. Free-listed ids are available to
// every tier, even if they also declare a minimum plan.
func WithFreeList(ids ...string) Option {
	return func(r *Registry) error {
		for _, id := range ids {
			if id == "" {
				return errors.Join(ErrInvalidResource, errors.New("empty free-list id"))
			}
			r.free[id] = struct{}{}
		}
		return nil
	}
}

// WithStrictDeclarations denies resource ids that were never declared.
func WithStrictDeclarations() Option {
	return func(r *Registry) error {
		r.strict = true
		return nil
	}
}

// WithDefaultClass sets the metered class for resources that do not name one.
func WithDefaultClass(class plan.Class) Option {
	return func(r *Registry) error {
		if class == "" {
			return errors.Join(ErrInvalidResource, errors.New("empty default class"))
		}
		r.defaultClass = class
		return nil
	}
}

// NewRegistry builds a registry. The default metered class is plan.AdvisorCall.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		resources:    make(map[string]Resource),
		free:         make(map[string]struct{}),
		defaultClass: plan.AdvisorCall,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a declaration at runtime.
func (r *Registry) Register(res Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(res)
}

func (r *Registry) add(res Resource) error {
	if res.ID == "" {
		return errors.Join(ErrInvalidResource, errors.New("empty resource id"))
	}
	if res.MinPlan != "" && !res.MinPlan.Valid() {
		return errors.Join(ErrInvalidResource, plan.ErrUnknownTier, fmt.Errorf("resource %q: min plan %q", res.ID, res.MinPlan))
	}
	r.resources[res.ID] = res
	return nil
}

// Resolve determines availability of resourceID for tier.
func (r *Registry) Resolve(resourceID string, tier plan.Tier) Result {
	r.mu.RLock()
	_, freeListed := r.free[resourceID]
	res, declared := r.resources[resourceID]
	r.mu.RUnlock()

	switch {
	case freeListed:
		return Result{Available: true, Reason: FreeListed}
	case declared && res.MinPlan != "":
		if plan.Satisfies(tier, res.MinPlan) {
			return Result{Available: true, Reason: PlanSatisfied}
		}
		return Result{Available: false, Reason: PlanTooLow, RequiredPlan: res.MinPlan}
	case declared:
		return Result{Available: true, Reason: Open}
	}

	r.undeclared.Add(1)
	if r.strict {
		return Result{Available: false, Reason: UndeclaredDenied}
	}
	return Result{Available: true, Reason: Undeclared}
}

// IsAvailable is Resolve reduced to a bool.
func (r *Registry) IsAvailable(resourceID string, tier plan.Tier) bool {
	return r.Resolve(resourceID, tier).Available
}

// Lookup returns the declaration for id.
func (r *Registry) Lookup(id string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[id]
	return res, ok
}

// ClassOf returns the metered class of id, falling back to the default class.
func (r *Registry) ClassOf(id string) plan.Class {
	if res, ok := r.Lookup(id); ok && res.Class != "" {
		return res.Class
	}
	return r.defaultClass
}

// Validate checks that the default class and every declared class have a
// quota policy in catalog. Run it at startup so a typo in a class name fails
// before any request is decided.
func (r *Registry) Validate(catalog *plan.Catalog) error {
	if catalog == nil {
		return errors.Join(ErrInvalidResource, errors.New("nil catalog"))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	if _, ok := catalog.Policy(r.defaultClass); !ok {
		errs = append(errs, fmt.Errorf("%w: default class %q", plan.ErrUnknownClass, r.defaultClass))
	}
	ids := slices.Sorted(maps.Keys(r.resources))
	for _, id := range ids {
		res := r.resources[id]
		if res.Class == "" {
			continue
		}
		if _, ok := catalog.Policy(res.Class); !ok {
			errs = append(errs, fmt.Errorf("%w: resource %q uses class %q", plan.ErrUnknownClass, id, res.Class))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidResource}, errs...)...)
	}
	return nil
}

// UndeclaredLookups counts resolutions of ids the registry did not know.
func (r *Registry) UndeclaredLookups() int64 {
	return r.undeclared.Load()
}

type registryFile struct {
	Resources struct {
		Free  []string   `yaml:"free"`
		Gated []Resource `yaml:"gated"`
	} `yaml:"resources"`
}

// LoadYAML builds a registry from the "resources" section of a catalog file:
//
//	resources:
//	  free: [intro-advisor]
//	  gated:
//	    - id: tax-advisor
//	      min_plan: pro
//	      class: advisor_call
func LoadYAML(path string, opts ...Option) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidResource, err)
	}
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Join(ErrInvalidResource, err)
	}
	for i := range f.Resources.Gated {
		if f.Resources.Gated[i].MinPlan == "" {
			continue
		}
		tier, err := plan.Parse(string(f.Resources.Gated[i].MinPlan))
		if err != nil {
			return nil, errors.Join(ErrInvalidResource, err)
		}
		f.Resources.Gated[i].MinPlan = tier
	}
	base := []Option{WithFreeList(f.Resources.Free...), WithResources(f.Resources.Gated...)}
	return NewRegistry(append(base, opts...)...)
}
