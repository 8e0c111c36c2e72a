/*
Package padrino computes the four-tier padrino eligibility rank.

PURPOSE:
  A member's rank is derived from attendance ratios in the tracked
  categories (haciendas, workshops, group meetings). The rank is never
  stored: it is recomputed from the user's event entries on demand.

HOW IT WORKS:
  1. ratio = attended / scheduled * 100 per category (0 when nothing scheduled)
  2. Tier 1 is the baseline and always granted
  3. Tier N (2..4) is granted only if the rules of every tier 2..N hold
  4. A rule on a category with nothing scheduled fails, unless the rule
     marks that category as vacuously satisfied

THRESHOLDS ARE DATA:
  Policy carries the rules; factory/thresholds.go loads them from JSON.
  Validate rejects policies where a higher tier is weaker than a lower one
  in any category, so raising an attended count can never lower the tier.

USAGE:
  calc, err := padrino.NewCalculator(padrino.DefaultPolicy())
  snap := calc.Rank(user)
  fmt.Println(snap.Tier, snap.Ratios["hacienda"].Percent)
*/
package padrino

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// TIERS
// =============================================================================

// Tier is the ordinal rank, 1 (lowest) to 4 (highest).
type Tier int

const (
	TierLowest  Tier = 1
	TierMidLow  Tier = 2
	TierMidHigh Tier = 3
	TierHighest Tier = 4
	maxTier          = TierHighest
)

func (t Tier) String() string {
	switch t {
	case TierLowest:
		return "lowest"
	case TierMidLow:
		return "mid_low"
	case TierMidHigh:
		return "mid_high"
	case TierHighest:
		return "highest"
	default:
		return fmt.Sprintf("tier_%d", int(t))
	}
}

var (
	ErrInvalidPolicy          = errors.New("invalid eligibility policy")
	ErrNonMonotonicThresholds = errors.New("thresholds are not monotonic")
)

// =============================================================================
// POLICY
// =============================================================================

// Requirement is one category condition of a tier.
type Requirement struct {
	Category attendance.Category
	Min      decimal.Decimal // minimum ratio in percent, inclusive
	Vacuous  bool            // satisfied when nothing is scheduled
}

// TierRule lists the conditions that must all hold for Tier.
type TierRule struct {
	Tier         Tier
	Label        string
	Requirements []Requirement
}

// Policy is the ordered set of tier rules (tiers 2..4) plus the categories
// reported in every snapshot.
type Policy struct {
	Categories []attendance.Category
	Rules      []TierRule
}

// DefaultPolicy:
//
//	tier 2: hacienda ≥ 95, taller ≥ 60, reunion_grupo = 100
//	tier 3: hacienda ≥ 98, taller ≥ 80, reunion_grupo = 100
//	tier 4: hacienda = 100, taller = 100, reunion_grupo = 100
func DefaultPolicy() Policy {
	req := func(c attendance.Category, pct int64) Requirement {
		return Requirement{Category: c, Min: decimal.NewFromInt(pct)}
	}
	h, w, g := attendance.CategoryHacienda, attendance.CategoryWorkshop, attendance.CategoryGroupMeeting
	return Policy{
		Categories: []attendance.Category{h, w, g},
		Rules: []TierRule{
			{Tier: TierMidLow, Label: "mid_low", Requirements: []Requirement{req(h, 95), req(w, 60), req(g, 100)}},
			{Tier: TierMidHigh, Label: "mid_high", Requirements: []Requirement{req(h, 98), req(w, 80), req(g, 100)}},
			{Tier: TierHighest, Label: "highest", Requirements: []Requirement{req(h, 100), req(w, 100), req(g, 100)}},
		},
	}
}

// Validate checks that rules cover consecutive tiers starting at 2, that
// thresholds lie in [0, 100], and that every tier is at least as strict as
// the one below it in every category the lower tier constrains.
func (p Policy) Validate() error {
	if len(p.Rules) == 0 {
		return nil
	}
	if len(p.Rules) > int(maxTier-TierLowest) {
		return fmt.Errorf("%w: at most %d tier rules", ErrInvalidPolicy, maxTier-TierLowest)
	}

	hundred := decimal.NewFromInt(100)
	var prev map[attendance.Category]Requirement
	for i, rule := range p.Rules {
		if want := TierLowest + Tier(i) + 1; rule.Tier != want {
			return fmt.Errorf("%w: rule %d is for tier %d, expected %d", ErrInvalidPolicy, i, rule.Tier, want)
		}
		cur := make(map[attendance.Category]Requirement, len(rule.Requirements))
		for _, r := range rule.Requirements {
			if r.Category == "" {
				return fmt.Errorf("%w: tier %d has a requirement without category", ErrInvalidPolicy, rule.Tier)
			}
			if _, dup := cur[r.Category]; dup {
				return fmt.Errorf("%w: tier %d lists %s twice", ErrInvalidPolicy, rule.Tier, r.Category)
			}
			if r.Min.IsNegative() || r.Min.GreaterThan(hundred) {
				return fmt.Errorf("%w: tier %d %s threshold %s outside [0, 100]", ErrInvalidPolicy, rule.Tier, r.Category, r.Min)
			}
			cur[r.Category] = r
		}
		for c, lower := range prev {
			upper, ok := cur[c]
			switch {
			case !ok:
				return fmt.Errorf("%w: tier %d drops the %s requirement of tier %d", ErrNonMonotonicThresholds, rule.Tier, c, rule.Tier-1)
			case upper.Min.LessThan(lower.Min):
				return fmt.Errorf("%w: tier %d requires %s ≥ %s but tier %d requires %s",
					ErrNonMonotonicThresholds, rule.Tier, c, upper.Min, rule.Tier-1, lower.Min)
			case upper.Vacuous && !lower.Vacuous:
				return fmt.Errorf("%w: tier %d accepts an empty %s schedule that tier %d rejects",
					ErrNonMonotonicThresholds, rule.Tier, c, rule.Tier-1)
			}
		}
		prev = cur
	}
	return nil
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Ratio is the attendance ratio of one category.
type Ratio struct {
	Category  attendance.Category `json:"category"`
	Attended  int                 `json:"attended"`
	Scheduled int                 `json:"scheduled"`
	Percent   float64             `json:"percent"`
}

// Snapshot is the derived eligibility of one user.
type Snapshot struct {
	UserID string                        `json:"userId"`
	Tier   Tier                          `json:"tier"`
	Label  string                        `json:"label"`
	Ratios map[attendance.Category]Ratio `json:"ratios"`
}

// Calculator ranks users under a validated policy. Rank has no side effects.
type Calculator struct {
	policy Policy
}

func NewCalculator(p Policy) (*Calculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{policy: p}, nil
}

// Policy returns the policy in use.
func (c *Calculator) Policy() Policy { return c.policy }

// Rank computes the user's snapshot.
func (c *Calculator) Rank(u *attendance.User) Snapshot {
	ratios := make(map[attendance.Category]Ratio)
	for _, cat := range c.categories() {
		ratios[cat] = RatioOf(u, cat)
	}

	snap := Snapshot{UserID: u.ID, Tier: TierLowest, Label: TierLowest.String(), Ratios: ratios}
	for _, rule := range c.policy.Rules {
		if !holds(rule, ratios) {
			break
		}
		snap.Tier = rule.Tier
		snap.Label = rule.Label
		if snap.Label == "" {
			snap.Label = rule.Tier.String()
		}
	}
	return snap
}

// categories are the policy's reported categories plus every category a
// rule mentions, sorted.
func (c *Calculator) categories() []attendance.Category {
	seen := make(map[attendance.Category]bool)
	for _, cat := range c.policy.Categories {
		seen[cat] = true
	}
	for _, rule := range c.policy.Rules {
		for _, r := range rule.Requirements {
			seen[r.Category] = true
		}
	}
	out := make([]attendance.Category, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func holds(rule TierRule, ratios map[attendance.Category]Ratio) bool {
	for _, r := range rule.Requirements {
		ratio := ratios[r.Category]
		if ratio.Scheduled == 0 {
			if !r.Vacuous {
				return false
			}
			continue
		}
		// attended/scheduled*100 >= min, compared without rounding
		lhs := decimal.NewFromInt(int64(ratio.Attended)).Mul(decimal.NewFromInt(100))
		if lhs.LessThan(r.Min.Mul(decimal.NewFromInt(int64(ratio.Scheduled)))) {
			return false
		}
	}
	return true
}

// RatioOf counts the user's scheduled and attended entries in a category.
func RatioOf(u *attendance.User, cat attendance.Category) Ratio {
	r := Ratio{Category: cat}
	for _, e := range u.Events[cat] {
		if !e.Scheduled {
			continue
		}
		r.Scheduled++
		if e.Attended {
			r.Attended++
		}
	}
	if r.Scheduled > 0 {
		r.Percent = decimal.NewFromInt(int64(r.Attended)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(r.Scheduled))).
			Round(2).
			InexactFloat64()
	}
	return r
}
