package population

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
)

var one = decimal.NewFromInt(1)

// ProductionResult is what the production phase did.
type ProductionResult struct {
	Satisfaction decimal.Decimal // Fraction of a full day's work the inputs supported
	SurplusLabor decimal.Decimal // Labor-days left idle, added to storage as the labor good
	Delta        economy.Ledger  // Net change to storage
}

// Production works the group's job with Count labor-days.
//
// The work done scales with the job's input satisfaction: a group holding 60% of the
// inputs it needs consumes that 60% and produces 60% of the outputs. When satisfaction is
// below one and laborGood is set, the idle labor-days are added to storage as laborGood
// so they can be sold. A group with no job, or whose satisfaction is zero, changes nothing.
func (g *Group) Production(laborGood economy.GoodID) (ProductionResult, error) {
	res := ProductionResult{Satisfaction: decimal.Zero, SurplusLabor: decimal.Zero, Delta: economy.NewLedger()}
	if err := g.enter(PhaseProduction); err != nil {
		return res, err
	}
	if g.Job == nil || g.Count == 0 {
		return res, nil
	}

	labor := decimal.NewFromInt(g.Count)
	sat, err := g.Job.Satisfaction(g.Storage, labor)
	if err != nil {
		return res, fmt.Errorf("group %d production: %w", g.ID, err)
	}
	res.Satisfaction = sat
	if sat.IsZero() {
		return res, nil
	}

	for good, q := range g.Job.ExpectedInputs(labor) {
		want := q.Mul(sat)
		short := g.Storage.Subtract(good, want)
		res.Delta.Change(good, want.Sub(short).Neg())
	}
	for good, q := range g.Job.ExpectedOutputs(labor) {
		made := q.Mul(sat)
		g.Storage.Add(good, made)
		res.Delta.Change(good, made)
	}
	if sat.LessThan(one) && laborGood != economy.NoGood {
		res.SurplusLabor = one.Sub(sat).Mul(labor)
		g.Storage.Add(laborGood, res.SurplusLabor)
		res.Delta.Change(laborGood, res.SurplusLabor)
	}
	return res, nil
}

// Offer moves everything the group holds beyond today's requirements into an escrow
// seller and registers it with the market. Reclaim returns what does not sell.
func (g *Group) Offer(m *economy.Market) (economy.Ledger, error) {
	if err := g.enter(PhaseOffer); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("group %d offer: %w", g.ID, ErrNoMarket)
	}

	req := g.requirements()
	s := economy.NewSeller(g.TraderID())
	markup := one.Add(g.Markup)
	for _, good := range g.Storage.Goods() {
		surplus := g.Storage[good].Sub(req.Get(good))
		if !surplus.IsPositive() {
			continue
		}
		s.ForSale[good] = surplus
		s.Prices[good] = m.PriceOf(good).Mul(markup)
	}
	if s.ForSale.IsEmpty() {
		return economy.NewLedger(), nil
	}
	s.Selling = true
	if err := m.AddSeller(s); err != nil {
		return nil, fmt.Errorf("group %d offer: %w", g.ID, err)
	}
	for good, q := range s.ForSale {
		g.Storage.Subtract(good, q)
	}
	g.escrow = s
	return s.ForSale.Clone(), nil
}

// Buy requests, in order: life needs, job capital, job inputs, daily needs, luxury needs.
// Each request counts storage that earlier requests have not already reserved, so nothing
// held is bought again. Partial deliveries are accepted. Returns everything delivered.
func (g *Group) Buy(m *economy.Market) (economy.Ledger, error) {
	if err := g.enter(PhaseBuy); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("group %d buy: %w", g.ID, ErrNoMarket)
	}

	b := &buyer{group: g, market: m, cart: economy.NewLedger(), reserved: economy.NewLedger()}
	steps := []economy.Ledger{g.needs.Scaled(TierLife, g.Count)}
	if g.Job != nil {
		labor := decimal.NewFromInt(g.Count)
		steps = append(steps, g.Job.ExpectedCapital(labor), g.Job.ExpectedInputs(labor))
	}
	steps = append(steps, g.needs.Scaled(TierDaily, g.Count), g.needs.Scaled(TierLuxury, g.Count))

	for _, lines := range steps {
		for _, good := range lines.Goods() {
			if err := b.request(good, lines[good]); err != nil {
				return nil, err
			}
		}
	}
	return b.cart, nil
}

type buyer struct {
	group    *Group
	market   *economy.Market
	cart     economy.Ledger
	reserved economy.Ledger
}

// reserve claims up to qty of good from unreserved storage and returns how much it got.
func (b *buyer) reserve(good economy.GoodID, qty decimal.Decimal) decimal.Decimal {
	free := decimal.Max(b.group.Storage.Get(good).Sub(b.reserved.Get(good)), decimal.Zero)
	take := decimal.Min(free, qty)
	b.reserved.Change(good, take)
	return take
}

func (b *buyer) request(good economy.GoodID, needed decimal.Decimal) error {
	if !needed.IsPositive() {
		return nil
	}
	gd, ok := b.group.catalog.Good(good)
	if !ok {
		return fmt.Errorf("group %d buy good %d: %w", b.group.ID, good, economy.ErrUnknownGood)
	}

	missing := needed
	if gd.IsWant() {
		held, consumed := wantSources(gd)
		for _, src := range append(held, consumed...) {
			missing = missing.Sub(b.reserve(src, missing))
		}
	} else {
		missing = missing.Sub(b.reserve(good, missing))
	}
	if !missing.IsPositive() {
		return nil
	}

	delivered, err := b.market.Buy(b.group.TraderID(), b.cart, good, missing)
	if err != nil {
		return fmt.Errorf("group %d buy %s: %w", b.group.ID, gd.Key(), err)
	}
	for p, q := range delivered {
		b.group.Storage.Add(p, q)
		b.reserved.Change(p, q)
	}
	return nil
}

// Reclaim returns unsold escrow to storage and reports what sold.
func (g *Group) Reclaim() (economy.Ledger, error) {
	if err := g.enter(PhaseReclaim); err != nil {
		return nil, err
	}
	return g.reclaim(), nil
}

func (g *Group) reclaim() economy.Ledger {
	if g.escrow == nil {
		return economy.NewLedger()
	}
	for good, q := range g.escrow.ForSale {
		g.Storage.Add(good, q)
	}
	sold := g.escrow.Sold.Clone()
	g.escrow = nil
	return sold
}

// Consumption consumes each tier, life first, and records the satisfaction of every
// positive line.
//
// A product line is met from storage: satisfaction is min(1, held/needed) and
// min(held, needed) is consumed. A want line is met from its source products: use and
// ownership sources count without being consumed, each unit once per day, and consumption
// sources are consumed. Shortfalls in one tier are not backfilled from another.
// Returns what was consumed.
func (g *Group) Consumption() (economy.Ledger, error) {
	if err := g.enter(PhaseConsumption); err != nil {
		return nil, err
	}

	consumed := economy.NewLedger()
	claimed := economy.NewLedger()
	free := func(good economy.GoodID) decimal.Decimal {
		return decimal.Max(g.Storage.Get(good).Sub(claimed.Get(good)), decimal.Zero)
	}
	consume := func(good economy.GoodID, q decimal.Decimal) {
		if q.IsPositive() {
			g.Storage.Subtract(good, q)
			consumed.Change(good, q)
		}
	}

	for _, t := range Tiers() {
		sat := economy.NewLedger()
		scaled := g.needs.Scaled(t, g.Count)
		for _, good := range scaled.Goods() {
			needed := scaled[good]
			if !needed.IsPositive() {
				continue
			}
			gd, _ := g.catalog.Good(good)
			met := decimal.Zero
			if gd.IsWant() {
				held, eaten := wantSources(gd)
				for _, src := range held {
					take := decimal.Min(free(src), needed.Sub(met))
					claimed.Change(src, take)
					met = met.Add(take)
				}
				for _, src := range eaten {
					take := decimal.Min(free(src), needed.Sub(met))
					consume(src, take)
					met = met.Add(take)
				}
			} else {
				met = decimal.Min(free(good), needed)
				consume(good, met)
			}
			sat[good] = decimal.Min(one, met.Div(needed))
		}
		g.Satisfaction[t] = sat

		if t == TierLife {
			if avg, ok := g.TierSatisfaction(t); ok && avg.LessThan(one) {
				slog.Warn("life needs unmet", "group", g.ID, "name", g.Name, "satisfaction", avg.StringFixed(3))
			}
		}
	}
	return consumed, nil
}

// Loss destroys stored goods according to the model. Returns what was destroyed.
func (g *Group) Loss(model economy.LossModel) (economy.Ledger, error) {
	if err := g.enter(PhaseLoss); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("group %d loss: nil model: %w", g.ID, economy.ErrInvalidArgument)
	}

	lost := economy.NewLedger()
	for _, good := range g.Storage.Goods() {
		held := g.Storage[good]
		gd, ok := g.catalog.Good(good)
		if !ok || !held.IsPositive() {
			continue
		}
		q := decimal.Min(decimal.Max(model.Loss(gd, held), decimal.Zero), held)
		if q.IsPositive() {
			g.Storage.Subtract(good, q)
			lost[good] = q
		}
	}
	g.Storage.Prune()
	return lost, nil
}
