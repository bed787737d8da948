package economy

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolvePricesFollowsDemand(t *testing.T) {
	f := newFixture(t)
	if err := f.market.AddSeller(seller("farmer", f.grain, "10", "10")); err != nil {
		t.Fatalf("AddSeller: %v", err)
	}
	if _, err := f.market.Buy("buyer", NewLedger(), f.grain, d("40")); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if err := f.market.ResolvePrices(DefaultPriceRule()); err != nil {
		t.Fatalf("ResolvePrices: %v", err)
	}
	// Target 10 * 40/10 = 40, a fifth of the way from 10.
	if got := f.market.PriceOf(f.grain); !got.Equal(d("16")) {
		t.Fatalf("expected 16, got %s", got)
	}
}

func TestResolvePricesRespectsFloor(t *testing.T) {
	f := newFixture(t)
	if err := f.market.AddSeller(seller("farmer", f.grain, "100", "10")); err != nil {
		t.Fatalf("AddSeller: %v", err)
	}
	rule := DefaultPriceRule()
	rule.Rate = decimal.NewFromInt(1)
	if err := f.market.ResolvePrices(rule); err != nil {
		t.Fatalf("ResolvePrices: %v", err)
	}
	if got := f.market.PriceOf(f.grain); !got.Equal(d("2.5")) {
		t.Fatalf("expected price held at the 0.25 floor, got %s", got)
	}
}

func TestPriceRuleValidate(t *testing.T) {
	bad := []PriceRule{
		{Floor: d("0"), Ceiling: d("2"), Rate: d("0.5")},
		{Floor: d("2"), Ceiling: d("1"), Rate: d("0.5")},
		{Floor: d("0.5"), Ceiling: d("2"), Rate: d("1.5")},
	}
	for i, r := range bad {
		if err := r.Validate(); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("rule %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
}
