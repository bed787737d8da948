package engine

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/population"
)

// DayReport is the immutable record of one simulated day. It is what the simulation
// hands to persistence, the journal and the API.
type DayReport struct {
	RunID   string      `json:"run_id"`
	Day     uint64      `json:"day"`
	Date    string      `json:"date"`
	Groups  []GroupDay  `json:"groups"`
	Markets []MarketDay `json:"markets"`
	Events  []Event     `json:"events,omitempty"`
	Summary Summary     `json:"summary"`
}

// GroupDay is one group's ledgers for the day, and its state at the end of it.
type GroupDay struct {
	ID       population.GroupID `json:"id"`
	Name     string             `json:"name"`
	MarketID economy.MarketID   `json:"market_id"`
	Count    int64              `json:"count"`
	Job      string             `json:"job,omitempty"`

	ProductionSatisfaction decimal.Decimal `json:"production_satisfaction"`
	SurplusLabor           decimal.Decimal `json:"surplus_labor"`

	Produced     economy.Ledger                      `json:"produced"` // Net production delta
	Offered      economy.Ledger                      `json:"offered"`
	Bought       economy.Ledger                      `json:"bought"`
	Sold         economy.Ledger                      `json:"sold"`
	Consumed     economy.Ledger                      `json:"consumed"`
	Lost         economy.Ledger                      `json:"lost"`
	Storage      economy.Ledger                      `json:"storage"`
	Satisfaction [population.NumTiers]economy.Ledger `json:"satisfaction"`
}

// MarketDay is one market's registry totals for the day.
type MarketDay struct {
	ID            economy.MarketID `json:"id"`
	Name          string           `json:"name"`
	Sellers       int              `json:"sellers"`
	ForSale       economy.Ledger   `json:"for_sale"`
	Sold          economy.Ledger   `json:"sold"`
	StockpileSold economy.Ledger   `json:"stockpile_sold"`
	Stockpile     economy.Ledger   `json:"stockpile"`
	Prices        economy.Ledger   `json:"prices"`
}

// Summary aggregates a day across every group and market.
type Summary struct {
	Day        uint64 `json:"day"`
	Groups     int    `json:"groups"`
	Population int64  `json:"population"`

	// Population-weighted mean satisfaction per tier, over groups with lines in that tier.
	Satisfaction [population.NumTiers]decimal.Decimal `json:"satisfaction"`

	Traded  decimal.Decimal `json:"traded"`      // Units sold across all markets
	Idle    int             `json:"idle_groups"` // Groups with a job that produced nothing
	Removed int             `json:"removed"`     // Groups dropped at count zero
	Starved int             `json:"starved"`     // Groups below half life satisfaction
}

// Event is a notable occurrence during a day.
type Event struct {
	Day         uint64 `json:"day"`
	Description string `json:"description"`
	Category    string `json:"category"` // "idle", "shortage", "removal"
}

// Group returns the group's record, if it was present that day.
func (r *DayReport) Group(id population.GroupID) (GroupDay, bool) {
	for _, g := range r.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return GroupDay{}, false
}
