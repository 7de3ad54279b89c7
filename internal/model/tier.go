package model

import (
	"math"

	"github.com/yanun0323/errors"
)

const tierFractionEpsilon = 1e-9

// Tier is one rung of the exit ladder.
type Tier struct {
	Fraction      float64 `json:"fraction" yaml:"fraction"`
	ProfitPercent float64 `json:"profitPercent" yaml:"profit_percent"`
}

// TierPlan is an ordered exit ladder. Fractions must sum to 1.
type TierPlan []Tier

// DefaultTierPlan returns the 50/30/20 ladder at +5/+10/+15%.
func DefaultTierPlan() TierPlan {
	return TierPlan{
		{Fraction: 0.5, ProfitPercent: 5},
		{Fraction: 0.3, ProfitPercent: 10},
		{Fraction: 0.2, ProfitPercent: 15},
	}
}

// Validate checks that the plan is usable.
func (p TierPlan) Validate() error {
	if len(p) == 0 {
		return errors.Errorf("tier plan is empty")
	}
	sum := 0.0
	for i, t := range p {
		if t.Fraction <= 0 || t.Fraction > 1 {
			return errors.Errorf("tier %d fraction must be in (0, 1], got %v", i, t.Fraction)
		}
		if t.ProfitPercent <= 0 {
			return errors.Errorf("tier %d profit percent must be > 0, got %v", i, t.ProfitPercent)
		}
		sum += t.Fraction
	}
	if math.Abs(sum-1) > tierFractionEpsilon {
		return errors.Errorf("tier fractions must sum to 1, got %v", sum)
	}
	return nil
}
