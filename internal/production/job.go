// Package production implements job recipes: the labor-scaled transformation of input
// goods into output goods.
package production

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
)

// ErrInvalidRecipe reports a malformed job definition.
var ErrInvalidRecipe = errors.New("production: invalid recipe")

// JobID identifies a job.
type JobID uint32

// Job is an immutable recipe. Inputs are consumed, capital must be present but is not
// consumed, and outputs are produced, all per batch. LaborRequirement is the days of
// labor one batch takes.
type Job struct {
	ID               JobID           `json:"id"`
	Name             string          `json:"name"`
	Inputs           economy.Ledger  `json:"inputs"`
	Capital          economy.Ledger  `json:"capital"`
	Outputs          economy.Ledger  `json:"outputs"`
	LaborRequirement decimal.Decimal `json:"labor_requirement"`
}

// NewJob builds and validates a job. Nil ledgers are treated as empty.
func NewJob(id JobID, name string, inputs, capital, outputs economy.Ledger, labor decimal.Decimal) (*Job, error) {
	j := &Job{
		ID:               id,
		Name:             name,
		Inputs:           orEmpty(inputs),
		Capital:          orEmpty(capital),
		Outputs:          orEmpty(outputs),
		LaborRequirement: labor,
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

func orEmpty(l economy.Ledger) economy.Ledger {
	if l == nil {
		return economy.NewLedger()
	}
	return l.Clone()
}

// Validate checks the recipe invariants.
func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("nil job: %w", ErrInvalidRecipe)
	}
	if !j.LaborRequirement.IsPositive() {
		return fmt.Errorf("job %q: labor requirement %s must be positive: %w", j.Name, j.LaborRequirement, ErrInvalidRecipe)
	}
	for name, lines := range map[string]economy.Ledger{"input": j.Inputs, "capital": j.Capital, "output": j.Outputs} {
		for g, q := range lines {
			if q.IsNegative() {
				return fmt.Errorf("job %q: negative %s line for good %d: %w", j.Name, name, g, ErrInvalidRecipe)
			}
		}
	}
	return nil
}

// ExpectedInputs returns Inputs * batches / LaborRequirement.
func (j *Job) ExpectedInputs(batches decimal.Decimal) economy.Ledger {
	return j.scale(j.Inputs, batches)
}

// ExpectedOutputs returns Outputs * batches / LaborRequirement.
func (j *Job) ExpectedOutputs(batches decimal.Decimal) economy.Ledger {
	return j.scale(j.Outputs, batches)
}

// ExpectedCapital returns Capital * batches / LaborRequirement.
func (j *Job) ExpectedCapital(batches decimal.Decimal) economy.Ledger {
	return j.scale(j.Capital, batches)
}

func (j *Job) scale(lines economy.Ledger, batches decimal.Decimal) economy.Ledger {
	out := make(economy.Ledger, len(lines))
	for g, q := range lines {
		out[g] = q.Mul(batches).Div(j.LaborRequirement)
	}
	return out
}

// RunResult is the outcome of one whole-batch run.
type RunResult struct {
	MaxWork decimal.Decimal // Whole batches performed
	Delta   economy.Ledger  // -inputs, +outputs; empty when MaxWork is zero
}

// Run performs as many whole batches as labor and every input allow.
//
// A run never starts when an input or capital good is entirely absent. Otherwise each
// input caps the work at floor(available/perBatch), labor caps it at
// floor(labor/LaborRequirement), and the delta removes exactly inputs*MaxWork and adds
// outputs*MaxWork. Insufficient goods are not an error.
func (j *Job) Run(available economy.Ledger, labor decimal.Decimal) (RunResult, error) {
	if err := j.Validate(); err != nil {
		return RunResult{}, err
	}
	if available == nil {
		return RunResult{}, fmt.Errorf("job %q: nil available goods: %w", j.Name, economy.ErrInvalidArgument)
	}
	if labor.IsNegative() {
		return RunResult{}, fmt.Errorf("job %q: labor %s: %w", j.Name, labor, economy.ErrNegativeAmount)
	}

	res := RunResult{MaxWork: decimal.Zero, Delta: economy.NewLedger()}
	for _, lines := range []economy.Ledger{j.Inputs, j.Capital} {
		for _, g := range lines.Goods() {
			if lines[g].IsPositive() && !available.Get(g).IsPositive() {
				return res, nil
			}
		}
	}

	work := labor.Div(j.LaborRequirement).Floor()
	for _, g := range j.Inputs.Goods() {
		per := j.Inputs[g]
		if !per.IsPositive() {
			continue
		}
		if limit := available.Get(g).Div(per).Floor(); limit.LessThan(work) {
			work = limit
		}
	}
	if !work.IsPositive() {
		return res, nil
	}

	res.MaxWork = work
	for g, q := range j.Inputs {
		res.Delta.Change(g, q.Mul(work).Neg())
	}
	for g, q := range j.Outputs {
		res.Delta.Change(g, q.Mul(work))
	}
	return res, nil
}

// Satisfaction returns the fraction of a labor-scaled run the available goods support:
// min(1, available/needed) over every input and capital line. A recipe with no inputs
// or capital is fully satisfied whenever labor is positive.
func (j *Job) Satisfaction(available economy.Ledger, labor decimal.Decimal) (decimal.Decimal, error) {
	if err := j.Validate(); err != nil {
		return decimal.Zero, err
	}
	if available == nil {
		return decimal.Zero, fmt.Errorf("job %q: nil available goods: %w", j.Name, economy.ErrInvalidArgument)
	}
	if !labor.IsPositive() {
		return decimal.Zero, nil
	}

	sat := decimal.NewFromInt(1)
	for _, needed := range []economy.Ledger{j.ExpectedInputs(labor), j.ExpectedCapital(labor)} {
		for _, g := range needed.Goods() {
			n := needed[g]
			if !n.IsPositive() {
				continue
			}
			if r := available.Get(g).Div(n); r.LessThan(sat) {
				sat = r
			}
		}
	}
	return decimal.Max(sat, decimal.Zero), nil
}
