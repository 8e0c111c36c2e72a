/*
Package factory provides JSON to Go eligibility-policy conversion.

PURPOSE:
  Converts JSON tier definitions into padrino.Policy objects. Thresholds
  are configuration: administrators can change them without a release,
  and the factory rejects tables that are not monotonic.

JSON SCHEMA:
  {
    "categories": ["hacienda", "taller", "reunion_grupo"],
    "tiers": [
      {
        "tier": 2,
        "label": "verde",
        "requirements": [
          {"category": "hacienda", "min_percent": 95},
          {"category": "taller", "min_percent": 60},
          {"category": "reunion_grupo", "min_percent": 100, "vacuous": false}
        ]
      }
    ]
  }

KEY FEATURES:
  - Tiers may be listed in any order; they are sorted before validation
  - min_percent accepts numbers or numeric strings ("97.5")
  - An empty "categories" list defaults to the tracked categories

USAGE:
  f := factory.NewThresholdFactory()
  policy, err := f.ParseThresholds(data)
  calc, err := padrino.NewCalculator(policy)

SEE ALSO:
  - padrino/calculator.go: Policy and Validate
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/padrino"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ThresholdsJSON is the JSON representation of an eligibility policy.
type ThresholdsJSON struct {
	Categories []string   `json:"categories,omitempty"`
	Tiers      []TierJSON `json:"tiers"`
}

// TierJSON is one tier rule.
type TierJSON struct {
	Tier         int               `json:"tier"`
	Label        string            `json:"label,omitempty"`
	Requirements []RequirementJSON `json:"requirements"`
}

// RequirementJSON is one category threshold.
type RequirementJSON struct {
	Category   string          `json:"category"`
	MinPercent decimal.Decimal `json:"min_percent"`
	Vacuous    bool            `json:"vacuous,omitempty"`
}

// =============================================================================
// THRESHOLD FACTORY
// =============================================================================

// ThresholdFactory converts JSON tier tables to padrino policies.
type ThresholdFactory struct{}

func NewThresholdFactory() *ThresholdFactory {
	return &ThresholdFactory{}
}

// ParseThresholds parses and validates a JSON tier table.
func (f *ThresholdFactory) ParseThresholds(data []byte) (padrino.Policy, error) {
	var tj ThresholdsJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return padrino.Policy{}, fmt.Errorf("failed to parse thresholds JSON: %w", err)
	}
	return f.FromJSON(tj)
}

// LoadFile reads a thresholds file. An empty path yields the default policy.
func (f *ThresholdFactory) LoadFile(path string) (padrino.Policy, error) {
	if path == "" {
		return padrino.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return padrino.Policy{}, fmt.Errorf("read thresholds file: %w", err)
	}
	return f.ParseThresholds(data)
}

// FromJSON converts ThresholdsJSON to a validated padrino.Policy.
func (f *ThresholdFactory) FromJSON(tj ThresholdsJSON) (padrino.Policy, error) {
	tiers := append([]TierJSON(nil), tj.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Tier < tiers[j].Tier })

	policy := padrino.Policy{}
	for _, c := range tj.Categories {
		policy.Categories = append(policy.Categories, attendance.Category(c))
	}
	if len(policy.Categories) == 0 {
		policy.Categories = attendance.TrackedCategories()
	}

	for _, t := range tiers {
		rule := padrino.TierRule{Tier: padrino.Tier(t.Tier), Label: t.Label}
		for _, r := range t.Requirements {
			rule.Requirements = append(rule.Requirements, padrino.Requirement{
				Category: attendance.Category(r.Category),
				Min:      r.MinPercent,
				Vacuous:  r.Vacuous,
			})
		}
		policy.Rules = append(policy.Rules, rule)
	}

	if err := policy.Validate(); err != nil {
		return padrino.Policy{}, err
	}
	return policy, nil
}

// ToJSON converts a policy back to its JSON form.
func (f *ThresholdFactory) ToJSON(p padrino.Policy) ThresholdsJSON {
	tj := ThresholdsJSON{}
	for _, c := range p.Categories {
		tj.Categories = append(tj.Categories, string(c))
	}
	for _, rule := range p.Rules {
		t := TierJSON{Tier: int(rule.Tier), Label: rule.Label}
		for _, r := range rule.Requirements {
			t.Requirements = append(t.Requirements, RequirementJSON{
				Category:   string(r.Category),
				MinPercent: r.Min,
				Vacuous:    r.Vacuous,
			})
		}
		tj.Tiers = append(tj.Tiers, t)
	}
	return tj
}
