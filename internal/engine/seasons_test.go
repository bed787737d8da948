package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
)

func TestSeasonOf(t *testing.T) {
	cases := map[uint64]Season{
		0:                   SeasonSpring,
		1:                   SeasonSpring,
		DaysPerSeason:       SeasonSpring,
		DaysPerSeason + 1:   SeasonSummer,
		2*DaysPerSeason + 1: SeasonAutumn,
		DaysPerYear:         SeasonWinter,
		DaysPerYear + 1:     SeasonSpring,
		DaysPerYear*3 + 200: SeasonAutumn,
	}
	for day, want := range cases {
		if got := SeasonOf(day); got != want {
			t.Fatalf("SeasonOf(%d) = %s, want %s", day, got, want)
		}
	}
}

func TestSeasonalLoss(t *testing.T) {
	bread := economy.Good{Name: "Bread", FailureChance: decimal.RequireFromString("0.5")}
	grain := economy.Good{Name: "Grain", Fractional: true, FailureChance: decimal.RequireFromString("0.1")}
	held := decimal.NewFromInt(9)

	summer := SeasonalLoss(economy.DecayModel{}, SeasonSummer)
	// 9 * 0.5 = 4 whole loaves, then 4 * 1.5 = 6.
	if got := summer.Loss(bread, held); !got.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("summer bread loss %s", got)
	}
	if got := summer.Loss(grain, held); !got.Equal(decimal.RequireFromString("1.35")) {
		t.Fatalf("summer grain loss %s", got)
	}

	winter := SeasonalLoss(economy.DecayModel{}, SeasonWinter)
	if got := winter.Loss(bread, held); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("winter bread loss %s", got)
	}

	spoiled := economy.Good{Name: "Ice", Fractional: true, FailureChance: decimal.NewFromInt(1)}
	if got := summer.Loss(spoiled, held); !got.Equal(held) {
		t.Fatalf("loss must not exceed holdings: %s", got)
	}
}
