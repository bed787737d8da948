package population

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/production"
)

var (
	// ErrPhaseOrder reports a phase called out of daily order.
	ErrPhaseOrder = errors.New("population: phase out of order")
	// ErrNoMarket reports a market-facing phase called without a market.
	ErrNoMarket = errors.New("population: no market")
)

// GroupID identifies a population group.
type GroupID uint64

// Phase is a step of the daily cycle. A group moves through them in declaration order,
// at most once each per day.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseProduction
	PhaseOffer
	PhaseBuy
	PhaseReclaim
	PhaseConsumption
	PhaseLoss
)

var phaseNames = [...]string{"idle", "production", "offer", "buy", "reclaim", "consumption", "loss"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Group is a population of identical people sharing storage, a job and a need basket.
// Count is both the number of people and the labor-days they supply each day.
type Group struct {
	ID       GroupID          `json:"id"`
	Name     string           `json:"name"`
	Priority int              `json:"priority"` // Lower buys first
	MarketID economy.MarketID `json:"market_id"`
	Count    int64            `json:"count"`
	Job      *production.Job  `json:"job,omitempty"`
	Markup   decimal.Decimal  `json:"markup"` // Asking price = market price * (1 + Markup)

	Storage      economy.Ledger           `json:"storage"`
	Satisfaction [NumTiers]economy.Ledger `json:"satisfaction"` // Per good, in [0,1], from the last consumption

	needs   NeedBasket
	catalog *economy.Catalog
	escrow  *economy.Seller
	phase   Phase
}

// GroupConfig describes a group to create.
type GroupConfig struct {
	ID       GroupID
	Name     string
	Priority int
	MarketID economy.MarketID
	Count    int64
	Job      *production.Job
	Markup   decimal.Decimal
	Storage  economy.Ledger
	Needs    NeedBasket
	Catalog  *economy.Catalog
}

// NewGroup validates a config and returns the group.
func NewGroup(cfg GroupConfig) (*Group, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("group %d: nil catalog: %w", cfg.ID, economy.ErrInvalidArgument)
	}
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("group %d: count %d must be positive: %w", cfg.ID, cfg.Count, economy.ErrInvalidArgument)
	}
	if cfg.Markup.LessThanOrEqual(decimal.NewFromInt(-1)) {
		return nil, fmt.Errorf("group %d: markup %s would price goods at or below zero: %w", cfg.ID, cfg.Markup, economy.ErrInvalidArgument)
	}
	if cfg.Job != nil {
		if err := cfg.Job.Validate(); err != nil {
			return nil, fmt.Errorf("group %d: %w", cfg.ID, err)
		}
	}
	g := &Group{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Priority: cfg.Priority,
		MarketID: cfg.MarketID,
		Count:    cfg.Count,
		Job:      cfg.Job,
		Markup:   cfg.Markup,
		Storage:  economy.NewLedger(),
		catalog:  cfg.Catalog,
	}
	for good, q := range cfg.Storage {
		gd, ok := cfg.Catalog.Good(good)
		if !ok {
			return nil, fmt.Errorf("group %d: storage good %d: %w", cfg.ID, good, economy.ErrUnknownGood)
		}
		if gd.IsWant() {
			return nil, fmt.Errorf("group %d: storage holds want %q: %w", cfg.ID, gd.Key(), economy.ErrInvalidArgument)
		}
		if q.IsNegative() {
			return nil, fmt.Errorf("group %d: storage %q: %w", cfg.ID, gd.Key(), economy.ErrNegativeAmount)
		}
		g.Storage[good] = q
	}
	if err := g.SetNeeds(cfg.Needs); err != nil {
		return nil, err
	}
	for i := range g.Satisfaction {
		g.Satisfaction[i] = economy.NewLedger()
	}
	return g, nil
}

// TraderID is the identity the group buys and sells under.
func (g *Group) TraderID() economy.TraderID {
	return economy.TraderID(fmt.Sprintf("group:%d", g.ID))
}

// Needs returns the group's need basket. Callers must not mutate it.
func (g *Group) Needs() NeedBasket {
	return g.needs
}

// SetNeeds replaces the need basket.
func (g *Group) SetNeeds(b NeedBasket) error {
	b = NewNeedBasket(b[TierLife], b[TierDaily], b[TierLuxury])
	if err := b.Validate(g.catalog); err != nil {
		return fmt.Errorf("group %d: %w", g.ID, err)
	}
	g.needs = b
	return nil
}

// SetCount changes the population. A group at zero is removed at the end of the day.
func (g *Group) SetCount(n int64) error {
	if n < 0 {
		return fmt.Errorf("group %d: count %d: %w", g.ID, n, economy.ErrNegativeAmount)
	}
	g.Count = n
	return nil
}

// Phase returns the last phase the group completed today.
func (g *Group) Phase() Phase {
	return g.phase
}

// ResetDay returns the group to idle. Any escrow still out is reclaimed first.
func (g *Group) ResetDay() {
	if g.escrow != nil {
		g.reclaim()
	}
	g.phase = PhaseIdle
}

// TierSatisfaction averages the satisfaction of one tier. It reports false when the tier
// had no lines at the last consumption.
func (g *Group) TierSatisfaction(t Tier) (decimal.Decimal, bool) {
	l := g.Satisfaction[t]
	if len(l) == 0 {
		return decimal.Zero, false
	}
	return l.Total().Div(decimal.NewFromInt(int64(len(l)))), true
}

// enter moves to phase p. Phases only move forward; a completed Loss starts a new day.
func (g *Group) enter(p Phase) error {
	cur := g.phase
	if cur == PhaseLoss {
		cur = PhaseIdle
	}
	if p <= cur {
		return fmt.Errorf("group %d: %s after %s: %w", g.ID, p, g.phase, ErrPhaseOrder)
	}
	if p > PhaseReclaim && g.escrow != nil {
		return fmt.Errorf("group %d: %s with unreclaimed escrow: %w", g.ID, p, ErrPhaseOrder)
	}
	g.phase = p
	return nil
}

// wantSources lists the products that satisfy a want: held sources first, then consumed.
func wantSources(w economy.Good) (held, consumed []economy.GoodID) {
	held = append(append(held, w.UseSources...), w.OwnershipSources...)
	return held, w.ConsumptionSources
}

// requirements returns the product quantities the group intends to keep for today:
// every need tier and the job's inputs and capital for Count labor. Want needs reserve
// their source products from what is held.
func (g *Group) requirements() economy.Ledger {
	req := economy.NewLedger()
	if g.Job != nil {
		labor := decimal.NewFromInt(g.Count)
		req.Merge(g.Job.ExpectedInputs(labor))
		for good, q := range g.Job.ExpectedCapital(labor) {
			if q.GreaterThan(req.Get(good)) {
				req[good] = q
			}
		}
	}
	for _, t := range Tiers() {
		scaled := g.needs.Scaled(t, g.Count)
		for _, good := range scaled.Goods() {
			gd, _ := g.catalog.Good(good)
			if !gd.IsWant() {
				req.Change(good, scaled[good])
				continue
			}
			held, consumed := wantSources(gd)
			left := scaled[good]
			for _, src := range append(held, consumed...) {
				if !left.IsPositive() {
					break
				}
				free := decimal.Max(g.Storage.Get(src).Sub(req.Get(src)), decimal.Zero)
				take := decimal.Min(free, left)
				req.Change(src, take)
				left = left.Sub(take)
			}
		}
	}
	return req
}
