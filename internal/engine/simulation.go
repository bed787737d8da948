// Simulation ties markets and population groups together and runs the daily cycle.
package engine

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/population"
)

// maxEvents bounds the in-memory event log.
const maxEvents = 1000

// Simulation holds the complete economy state.
type Simulation struct {
	RunID       uuid.UUID
	Catalog     *economy.Catalog
	Markets     []*economy.Market
	MarketIndex map[economy.MarketID]*economy.Market
	Groups      []*population.Group // Buying order: Priority, then ID
	GroupIndex  map[population.GroupID]*population.Group

	LaborGood economy.GoodID     // Surplus labor is stored as this good; NoGood disables it
	Loss      economy.LossModel  // Daily loss of stored goods
	Pricing   *economy.PriceRule // Daily price discovery; nil keeps prices fixed
	Seasonal  bool               // Scale daily loss by the season's spoilage
	Day       uint64             // Last completed day

	Events []Event // Recent events, oldest first
	Stats  SimStats
}

// SimStats tracks aggregate statistics as of the last completed day.
type SimStats struct {
	Groups     int             `json:"groups"`
	Population int64           `json:"population"`
	AvgLife    decimal.Decimal `json:"avg_life"`
	Traded     decimal.Decimal `json:"traded"`
}

// NewSimulation wires groups to their markets. Every group's market must be present.
func NewSimulation(catalog *economy.Catalog, markets []*economy.Market, groups []*population.Group, laborGood economy.GoodID, loss economy.LossModel) (*Simulation, error) {
	if catalog == nil {
		return nil, fmt.Errorf("new simulation: nil catalog: %w", economy.ErrInvalidArgument)
	}
	if loss == nil {
		loss = economy.DecayModel{}
	}
	if laborGood != economy.NoGood {
		if g, ok := catalog.Good(laborGood); !ok || g.IsWant() {
			return nil, fmt.Errorf("new simulation: labor good %d must be a product: %w", laborGood, economy.ErrInvalidArgument)
		}
	}

	s := &Simulation{
		RunID:       uuid.New(),
		Catalog:     catalog,
		MarketIndex: make(map[economy.MarketID]*economy.Market, len(markets)),
		GroupIndex:  make(map[population.GroupID]*population.Group, len(groups)),
		LaborGood:   laborGood,
		Loss:        loss,
	}
	for _, m := range markets {
		if m == nil {
			return nil, fmt.Errorf("new simulation: nil market: %w", economy.ErrInvalidArgument)
		}
		if _, dup := s.MarketIndex[m.ID]; dup {
			return nil, fmt.Errorf("new simulation: duplicate market %d: %w", m.ID, economy.ErrInvalidArgument)
		}
		s.MarketIndex[m.ID] = m
		s.Markets = append(s.Markets, m)
	}
	slices.SortFunc(s.Markets, func(a, b *economy.Market) int {
		return compareIDs(uint64(a.ID), uint64(b.ID))
	})
	for _, g := range groups {
		if err := s.AddGroup(g); err != nil {
			return nil, fmt.Errorf("new simulation: %w", err)
		}
	}
	s.updateStats(nil)
	return s, nil
}

// AddGroup adds a group, keeping buying order.
func (s *Simulation) AddGroup(g *population.Group) error {
	if g == nil {
		return fmt.Errorf("add nil group: %w", economy.ErrInvalidArgument)
	}
	if _, dup := s.GroupIndex[g.ID]; dup {
		return fmt.Errorf("duplicate group %d: %w", g.ID, economy.ErrInvalidArgument)
	}
	if _, ok := s.MarketIndex[g.MarketID]; !ok {
		return fmt.Errorf("group %d: market %d: %w", g.ID, g.MarketID, population.ErrNoMarket)
	}
	s.GroupIndex[g.ID] = g
	s.Groups = append(s.Groups, g)
	slices.SortStableFunc(s.Groups, func(a, b *population.Group) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return compareIDs(uint64(a.ID), uint64(b.ID))
	})
	return nil
}

func compareIDs(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// RunDay runs one full day: production, offers, buying, reclaiming, consumption and loss,
// each phase across every group before the next begins. A structural error aborts the
// day and is returned tagged with the group or market it came from; goods still listed
// for sale go back to their owners, so storage and stockpiles hold everything again.
func (s *Simulation) RunDay() (*DayReport, error) {
	report, err := s.runDay()
	if err != nil {
		s.releaseOffers()
		return nil, err
	}
	return report, nil
}

// releaseOffers returns unsold escrow to every group and the unsold stockpile offer
// to every market.
func (s *Simulation) releaseOffers() {
	for _, g := range s.Groups {
		g.ResetDay()
	}
	for _, m := range s.Markets {
		m.ReclaimStockpile()
	}
}

func (s *Simulation) runDay() (*DayReport, error) {
	day := s.Day + 1
	records := make(map[population.GroupID]*GroupDay, len(s.Groups))
	for _, g := range s.Groups {
		g.ResetDay()
		rec := &GroupDay{ID: g.ID, Name: g.Name, MarketID: g.MarketID}
		if g.Job != nil {
			rec.Job = g.Job.Name
		}
		records[g.ID] = rec
	}
	for _, m := range s.Markets {
		m.BeginDay()
	}

	// ── Production ──
	for _, g := range s.Groups {
		res, err := g.Production(s.LaborGood)
		if err != nil {
			return nil, fmt.Errorf("day %d: %w", day, err)
		}
		rec := records[g.ID]
		rec.ProductionSatisfaction = res.Satisfaction
		rec.SurplusLabor = res.SurplusLabor
		rec.Produced = res.Delta
		slog.Debug("production", "day", day, "group", g.ID, "satisfaction", res.Satisfaction.StringFixed(3))
	}

	// ── Offer ──
	for _, m := range s.Markets {
		if err := m.OfferStockpile(); err != nil {
			return nil, fmt.Errorf("day %d: market %d stockpile: %w", day, m.ID, err)
		}
	}
	for _, g := range s.Groups {
		offered, err := g.Offer(s.MarketIndex[g.MarketID])
		if err != nil {
			return nil, fmt.Errorf("day %d: %w", day, err)
		}
		records[g.ID].Offered = offered
	}
	for _, m := range s.Markets {
		m.Freeze()
	}

	// ── Buy ──
	for _, g := range s.Groups {
		bought, err := g.Buy(s.MarketIndex[g.MarketID])
		if err != nil {
			return nil, fmt.Errorf("day %d: %w", day, err)
		}
		records[g.ID].Bought = bought
	}

	// ── Reclaim ──
	for _, g := range s.Groups {
		sold, err := g.Reclaim()
		if err != nil {
			return nil, fmt.Errorf("day %d: %w", day, err)
		}
		records[g.ID].Sold = sold
	}
	marketDays := make([]MarketDay, 0, len(s.Markets))
	for _, m := range s.Markets {
		if s.Pricing != nil {
			if err := m.ResolvePrices(*s.Pricing); err != nil {
				return nil, fmt.Errorf("day %d: %w", day, err)
			}
		}
		marketDays = append(marketDays, MarketDay{
			ID:            m.ID,
			Name:          m.Name,
			Sellers:       m.SellerCount(),
			ForSale:       m.ForSale.Clone(),
			Sold:          m.Sold.Clone(),
			StockpileSold: m.ReclaimStockpile(),
			Stockpile:     m.Stockpile.Clone(),
			Prices:        m.Prices.Clone(),
		})
	}

	// ── Consumption ──
	for _, g := range s.Groups {
		consumed, err := g.Consumption()
		if err != nil {
			return nil, fmt.Errorf("day %d: %w", day, err)
		}
		records[g.ID].Consumed = consumed
	}

	// ── Loss ──
	loss := s.Loss
	if s.Seasonal {
		loss = SeasonalLoss(s.Loss, SeasonOf(day))
	}
	for _, g := range s.Groups {
		lost, err := g.Loss(loss)
		if err != nil {
			return nil, fmt.Errorf("day %d: %w", day, err)
		}
		records[g.ID].Lost = lost
	}

	report := &DayReport{
		RunID:   s.RunID.String(),
		Day:     day,
		Date:    SimDate(day),
		Markets: marketDays,
	}
	var events []Event
	if day > 1 && SeasonOf(day) != SeasonOf(day-1) {
		events = append(events, Event{Day: day, Category: "season",
			Description: fmt.Sprintf("%s begins", SeasonOf(day))})
		slog.Info("season change", "day", day, "season", SeasonOf(day).String(), "population", s.Stats.Population)
	}
	for _, g := range s.Groups {
		rec := records[g.ID]
		rec.Count = g.Count
		rec.Storage = g.Storage.Clone()
		for i, l := range g.Satisfaction {
			rec.Satisfaction[i] = l.Clone()
		}
		report.Groups = append(report.Groups, *rec)

		if g.Job != nil && rec.ProductionSatisfaction.IsZero() {
			events = append(events, Event{Day: day, Category: "idle",
				Description: fmt.Sprintf("%s produced nothing", g.Name)})
		}
		if life, ok := g.TierSatisfaction(population.TierLife); ok && life.LessThan(decimal.NewFromFloat(0.5)) {
			events = append(events, Event{Day: day, Category: "shortage",
				Description: fmt.Sprintf("%s met %s%% of life needs", g.Name, life.Mul(decimal.NewFromInt(100)).StringFixed(0))})
		}
	}

	removed := s.removeEmptyGroups()
	for _, g := range removed {
		events = append(events, Event{Day: day, Category: "removal",
			Description: fmt.Sprintf("%s has no members left", g.Name)})
	}

	s.Day = day
	s.Events = append(s.Events, events...)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
	report.Events = events
	report.Summary = summarize(report, len(removed))
	s.updateStats(report)

	slog.Info("daily report",
		"day", day,
		"date", report.Date,
		"groups", report.Summary.Groups,
		"population", report.Summary.Population,
		"avg_life", report.Summary.Satisfaction[population.TierLife].StringFixed(3),
		"avg_daily", report.Summary.Satisfaction[population.TierDaily].StringFixed(3),
		"avg_luxury", report.Summary.Satisfaction[population.TierLuxury].StringFixed(3),
		"traded", report.Summary.Traded.StringFixed(2),
		"idle_groups", report.Summary.Idle,
		"starved", report.Summary.Starved,
		"removed", report.Summary.Removed,
	)
	return report, nil
}

// RemoveGroup drops a group from the buying order and the index. Reports false when
// the group is not present.
func (s *Simulation) RemoveGroup(id population.GroupID) bool {
	if _, ok := s.GroupIndex[id]; !ok {
		return false
	}
	delete(s.GroupIndex, id)
	s.Groups = slices.DeleteFunc(s.Groups, func(g *population.Group) bool { return g.ID == id })
	return true
}

// removeEmptyGroups drops groups whose count reached zero and returns them.
func (s *Simulation) removeEmptyGroups() []*population.Group {
	var removed []*population.Group
	kept := s.Groups[:0]
	for _, g := range s.Groups {
		if g.Count == 0 {
			removed = append(removed, g)
			delete(s.GroupIndex, g.ID)
			continue
		}
		kept = append(kept, g)
	}
	s.Groups = kept
	return removed
}

func summarize(r *DayReport, removed int) Summary {
	sum := Summary{Day: r.Day, Traded: decimal.Zero, Removed: removed}
	var weights [population.NumTiers]int64
	var totals [population.NumTiers]decimal.Decimal
	half := decimal.NewFromFloat(0.5)

	for _, g := range r.Groups {
		if g.Count > 0 {
			sum.Groups++
			sum.Population += g.Count
		}
		if g.Job != "" && g.ProductionSatisfaction.IsZero() {
			sum.Idle++
		}
		for _, t := range population.Tiers() {
			l := g.Satisfaction[t]
			if len(l) == 0 || g.Count == 0 {
				continue
			}
			avg := l.Total().Div(decimal.NewFromInt(int64(len(l))))
			totals[t] = totals[t].Add(avg.Mul(decimal.NewFromInt(g.Count)))
			weights[t] += g.Count
			if t == population.TierLife && avg.LessThan(half) {
				sum.Starved++
			}
		}
	}
	for _, t := range population.Tiers() {
		sum.Satisfaction[t] = decimal.NewFromInt(1)
		if weights[t] > 0 {
			sum.Satisfaction[t] = totals[t].Div(decimal.NewFromInt(weights[t]))
		}
	}
	for _, m := range r.Markets {
		sum.Traded = sum.Traded.Add(m.Sold.Total())
	}
	return sum
}

// RefreshStats recomputes group and population totals after state is changed
// outside RunDay, such as a restore from a snapshot.
func (s *Simulation) RefreshStats() {
	avg, traded := s.Stats.AvgLife, s.Stats.Traded
	s.updateStats(nil)
	s.Stats.AvgLife, s.Stats.Traded = avg, traded
}

func (s *Simulation) updateStats(r *DayReport) {
	s.Stats = SimStats{Groups: len(s.Groups), AvgLife: decimal.NewFromInt(1), Traded: decimal.Zero}
	for _, g := range s.Groups {
		s.Stats.Population += g.Count
	}
	if r != nil {
		s.Stats.AvgLife = r.Summary.Satisfaction[population.TierLife]
		s.Stats.Traded = r.Summary.Traded
	}
}
