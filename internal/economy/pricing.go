package economy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceRule moves market prices toward the level where demand meets supply.
// Floor and Ceiling bound the price as multiples of the base price; Rate is the fraction
// of the gap to the target closed each day (1 jumps straight to it).
type PriceRule struct {
	Floor   decimal.Decimal `json:"floor" yaml:"floor"`
	Ceiling decimal.Decimal `json:"ceiling" yaml:"ceiling"`
	Rate    decimal.Decimal `json:"rate" yaml:"rate"`
}

// DefaultPriceRule keeps prices within a quarter and four times their base.
func DefaultPriceRule() PriceRule {
	return PriceRule{
		Floor:   decimal.RequireFromString("0.25"),
		Ceiling: decimal.NewFromInt(4),
		Rate:    decimal.RequireFromString("0.2"),
	}
}

// Validate checks the bounds are ordered and the rate is in (0,1].
func (r PriceRule) Validate() error {
	if !r.Floor.IsPositive() || r.Ceiling.LessThan(r.Floor) {
		return fmt.Errorf("price rule floor %s, ceiling %s: %w", r.Floor, r.Ceiling, ErrInvalidArgument)
	}
	if !r.Rate.IsPositive() || r.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("price rule rate %s outside (0,1]: %w", r.Rate, ErrInvalidArgument)
	}
	return nil
}

// ResolvePrices updates the price of every base-priced product from today's demand and
// supply: target = base * demand / supply, bounded by the rule. Demand and supply below
// one unit count as one, so an idle good drifts back toward its base price.
// Call after the buy phase.
func (m *Market) ResolvePrices(rule PriceRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("market %d: %w", m.ID, err)
	}
	unit := decimal.NewFromInt(1)
	for _, g := range m.BasePrices.Goods() {
		base := m.BasePrices[g]
		if !base.IsPositive() {
			continue
		}
		supply := decimal.Max(m.ForSale.Get(g), unit)
		demand := decimal.Max(m.Demand.Get(g), unit)

		target := base.Mul(demand).Div(supply)
		target = decimal.Max(target, base.Mul(rule.Floor))
		target = decimal.Min(target, base.Mul(rule.Ceiling))

		cur := m.Prices.Get(g)
		m.Prices[g] = cur.Add(target.Sub(cur).Mul(rule.Rate)).Round(4)
	}
	return nil
}
