package economy

import "github.com/shopspring/decimal"

// LossModel decides how much of a held good is destroyed in one day.
type LossModel interface {
	Loss(good Good, held decimal.Decimal) decimal.Decimal
}

// DecayModel destroys FailureChance of every held good per day. Indivisible goods
// lose whole units only, rounded down.
type DecayModel struct{}

// Loss implements LossModel.
func (DecayModel) Loss(good Good, held decimal.Decimal) decimal.Decimal {
	if !good.FailureChance.IsPositive() || !held.IsPositive() {
		return decimal.Zero
	}
	loss := held.Mul(good.FailureChance)
	if !good.Fractional {
		loss = loss.Floor()
	}
	return loss
}
