package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a subscription plan level.
type Tier string

const (
	Free    Tier = "free"
	Basic   Tier = "basic"
	Pro     Tier = "pro"
	Premium Tier = "premium"
)

var ordered = [...]Tier{Free, Basic, Pro, Premium}

// Tiers returns all tiers from lowest to highest.
func Tiers() []Tier {
	out := make([]Tier, len(ordered))
	copy(out, ordered[:])
	return out
}

// Parse converts a stored or user-supplied string to a Tier.
func Parse(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errors.Join(ErrUnknownTier, fmt.Errorf("%q", s))
	}
	return t, nil
}

// Valid reports whether t is one of the enumerated tiers.
func (t Tier) Valid() bool {
	for _, o := range ordered {
		if o == t {
			return true
		}
	}
	return false
}

// Rank is the position of t in the hierarchy. Tiers outside the enumeration
// rank as free.
func (t Tier) Rank() int {
	for i, o := range ordered {
		if o == t {
			return i
		}
	}
	return 0
}

// OrFree returns t if valid and Free otherwise.
func (t Tier) OrFree() Tier {
	if t.Valid() {
		return t
	}
	return Free
}

func (t Tier) String() string { return string(t) }

// Satisfies reports whether actual is at least as high as required.
// An empty requirement is satisfied by every tier.
func Satisfies(actual, required Tier) bool {
	if required == "" {
		return true
	}
	return actual.Rank() >= required.Rank()
}
