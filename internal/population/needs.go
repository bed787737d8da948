// Package population provides population groups: the producers and consumers of the
// simulation, and the daily phases they run against a market.
package population

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
)

// Tier is one layer of a need basket. Lower tiers are bought first.
type Tier uint8

const (
	TierLife   Tier = iota // Food, shelter: bought before anything else
	TierDaily              // Ordinary comforts
	TierLuxury             // Bought only with what is left
)

// NumTiers is the number of need tiers.
const NumTiers = 3

var tierNames = [NumTiers]string{"life", "daily", "luxury"}

func (t Tier) String() string {
	if int(t) < NumTiers {
		return tierNames[t]
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// ParseTier resolves a tier name.
func ParseTier(s string) (Tier, error) {
	for i, n := range tierNames {
		if n == s {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown need tier %q: %w", s, economy.ErrInvalidArgument)
}

// Tiers returns every tier in buying order.
func Tiers() [NumTiers]Tier {
	return [NumTiers]Tier{TierLife, TierDaily, TierLuxury}
}

// NeedBasket holds the per-person daily quantity of each good, by tier. A line may name a
// product or a want.
type NeedBasket [NumTiers]economy.Ledger

// NewNeedBasket copies the three tiers. Nil tiers are empty.
func NewNeedBasket(life, daily, luxury economy.Ledger) NeedBasket {
	var b NeedBasket
	for i, l := range []economy.Ledger{life, daily, luxury} {
		if l == nil {
			b[i] = economy.NewLedger()
		} else {
			b[i] = l.Clone()
		}
	}
	return b
}

// Tier returns the lines of one tier.
func (b NeedBasket) Tier(t Tier) economy.Ledger {
	if b[t] == nil {
		return economy.NewLedger()
	}
	return b[t]
}

// IsEmpty reports whether no tier has a positive line.
func (b NeedBasket) IsEmpty() bool {
	for _, l := range b {
		if !l.IsEmpty() {
			return false
		}
	}
	return true
}

// Validate checks that every line is non-negative and names a known good.
func (b NeedBasket) Validate(catalog *economy.Catalog) error {
	for _, t := range Tiers() {
		for g, q := range b[t] {
			if q.IsNegative() {
				return fmt.Errorf("%s need %s: %w", t, catalog.Name(g), economy.ErrNegativeAmount)
			}
			if _, ok := catalog.Good(g); !ok {
				return fmt.Errorf("%s need %d: %w", t, g, economy.ErrUnknownGood)
			}
		}
	}
	return nil
}

// Scaled returns one tier multiplied by count.
func (b NeedBasket) Scaled(t Tier, count int64) economy.Ledger {
	return b.Tier(t).Multiply(decimal.NewFromInt(count))
}
