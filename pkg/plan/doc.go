// Package plan defines the closed set of subscription tiers, their ordering
// and the per-tier monthly allowances for each metered resource class.
//
// Tiers are ordered free < basic < pro < premium. Comparison is purely
// positional, so a higher tier always satisfies a lower requirement.
//
//	plan.Satisfies(plan.Pro, plan.Basic)    // true
//	plan.Satisfies(plan.Basic, plan.Premium) // false
//
// A Catalog maps each resource class to a Policy of allowances. Catalogs are
// validated once at construction: every policy must define the free tier
// (it is the fallback for tiers a policy omits) and allowances cannot be
// negative. A Catalog never changes after construction and is safe for
// concurrent use.
package plan
