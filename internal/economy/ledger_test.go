package economy

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerGetUntrackedIsZero(t *testing.T) {
	l := NewLedger()
	if !l.Get(7).IsZero() {
		t.Fatalf("expected zero for untracked good, got %s", l.Get(7))
	}
	if l.Contains(7) {
		t.Fatalf("expected Get not to create an entry")
	}
}

func TestLedgerSubtractClampsAndReportsShortfall(t *testing.T) {
	l := Ledger{1: d("3")}
	short := l.Subtract(1, d("5"))
	if !short.Equal(d("2")) {
		t.Fatalf("expected shortfall 2, got %s", short)
	}
	if !l.Get(1).IsZero() {
		t.Fatalf("expected balance clamped to 0, got %s", l.Get(1))
	}

	short = l.Add(1, d("4"))
	if !short.IsZero() || !l.Get(1).Equal(d("4")) {
		t.Fatalf("expected 4 with no shortfall, got %s short %s", l.Get(1), short)
	}
}

func TestLedgerChangeAllowsNegativeDeltas(t *testing.T) {
	delta := NewLedger()
	delta.Change(2, d("-6"))
	delta.Change(3, d("9"))
	delta.Change(2, d("1"))
	if !delta.Get(2).Equal(d("-5")) {
		t.Fatalf("expected -5, got %s", delta.Get(2))
	}

	store := Ledger{2: d("4")}
	short := store.Apply(delta)
	if !short.Get(2).Equal(d("1")) {
		t.Fatalf("expected shortfall 1 for good 2, got %#v", short)
	}
	if !store.Get(2).IsZero() || !store.Get(3).Equal(d("9")) {
		t.Fatalf("unexpected store after apply: %#v", store)
	}
}

func TestLedgerMultiplyReturnsNewLedger(t *testing.T) {
	l := Ledger{1: d("2"), 2: d("0.5")}
	m := l.Multiply(d("3"))
	if !m.Get(1).Equal(d("6")) || !m.Get(2).Equal(d("1.5")) {
		t.Fatalf("unexpected product: %#v", m)
	}
	if !l.Get(1).Equal(d("2")) {
		t.Fatalf("multiply mutated the receiver")
	}
}

func TestLedgerGetManyKeepsRequestedOrder(t *testing.T) {
	l := Ledger{1: d("1"), 2: d("2"), 3: d("3")}
	got := l.GetMany([]GoodID{3, 9, 1})
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	if got[0].Good != 3 || !got[0].Qty.Equal(d("3")) {
		t.Fatalf("unexpected first line %+v", got[0])
	}
	if got[1].Good != 9 || !got[1].Qty.IsZero() {
		t.Fatalf("expected untracked good to read zero, got %+v", got[1])
	}
}

func TestLedgerEqualIgnoresZeroEntries(t *testing.T) {
	a := Ledger{1: d("2"), 2: decimal.Zero}
	b := Ledger{1: d("2.0")}
	if !a.Equal(b) || !b.Equal(a) {
		t.Fatalf("expected ledgers to compare equal")
	}
	a.Prune()
	if a.Contains(2) {
		t.Fatalf("expected prune to drop zero entry")
	}
}
