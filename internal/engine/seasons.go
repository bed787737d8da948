// Seasonal calendar and seasonal spoilage.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
)

// Season indexes the four seasons of a simulated year.
type Season uint8

const (
	SeasonSpring Season = iota
	SeasonSummer
	SeasonAutumn
	SeasonWinter
)

// SeasonOf returns the season a day falls in. Day 1 is the first day of spring.
func SeasonOf(day uint64) Season {
	if day == 0 {
		return SeasonSpring
	}
	return Season(((day - 1) / DaysPerSeason) % 4)
}

// SeasonName returns a human-readable season name.
func SeasonName(season Season) string {
	switch season {
	case SeasonSpring:
		return "Spring"
	case SeasonSummer:
		return "Summer"
	case SeasonAutumn:
		return "Autumn"
	case SeasonWinter:
		return "Winter"
	default:
		return "Unknown"
	}
}

func (s Season) String() string { return SeasonName(s) }

// SeasonalSpoilage returns the multiplier applied to daily loss in a season.
// Goods rot fastest in summer heat and keep best through the winter cold.
func SeasonalSpoilage(season Season) decimal.Decimal {
	switch season {
	case SeasonSummer:
		return decimal.RequireFromString("1.5")
	case SeasonAutumn:
		return decimal.NewFromInt(1)
	case SeasonWinter:
		return decimal.RequireFromString("0.5")
	}
	return decimal.NewFromInt(1)
}

// seasonalLoss scales another loss model, never destroying more than is held.
type seasonalLoss struct {
	base   economy.LossModel
	factor decimal.Decimal
}

// SeasonalLoss wraps base so its losses follow the spoilage of the given season.
func SeasonalLoss(base economy.LossModel, season Season) economy.LossModel {
	return seasonalLoss{base: base, factor: SeasonalSpoilage(season)}
}

func (l seasonalLoss) Loss(good economy.Good, held decimal.Decimal) decimal.Decimal {
	loss := l.base.Loss(good, held).Mul(l.factor)
	if !good.Fractional {
		loss = loss.Floor()
	}
	if loss.GreaterThan(held) {
		return held
	}
	return loss
}
