package engine

import (
	"errors"
	"testing"
)

func TestEngineStopsAfterMaxDays(t *testing.T) {
	e := NewEngine()
	e.Interval = 0
	e.MaxDays = 5
	e.Day = 10

	var seen []uint64
	e.OnDay = func(day uint64) error {
		seen = append(seen, day)
		return nil
	}
	if err := e.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Day != 15 || len(seen) != 5 || seen[0] != 11 {
		t.Fatalf("expected days 11..15, got %v (day %d)", seen, e.Day)
	}
	if e.Running() {
		t.Fatalf("expected engine stopped")
	}
}

func TestEngineHaltsOnDayError(t *testing.T) {
	boom := errors.New("boom")
	e := NewEngine()
	e.Interval = 0
	e.OnDay = func(day uint64) error {
		if day == 3 {
			return boom
		}
		return nil
	}
	if err := e.Run(); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if e.Day != 2 {
		t.Fatalf("expected the failed day not to count, got %d", e.Day)
	}
}

func TestEngineStopFromCallback(t *testing.T) {
	e := NewEngine()
	e.Interval = 0
	e.OnDay = func(day uint64) error {
		if day == 4 {
			e.Stop()
		}
		return nil
	}
	if err := e.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Day != 4 {
		t.Fatalf("expected stop after day 4, got %d", e.Day)
	}
}

func TestSetSpeedRejectsNegative(t *testing.T) {
	e := NewEngine()
	if err := e.SetSpeed(-1); err == nil {
		t.Fatalf("expected an error")
	}
	if err := e.SetSpeed(4); err != nil || e.Speed() != 4 {
		t.Fatalf("expected speed 4, got %v (%v)", e.Speed(), err)
	}
}

func TestSimDate(t *testing.T) {
	cases := map[uint64]string{
		1:   "Spring Day 1, Year 1",
		90:  "Spring Day 90, Year 1",
		91:  "Summer Day 1, Year 1",
		361: "Spring Day 1, Year 2",
	}
	for day, want := range cases {
		if got := SimDate(day); got != want {
			t.Fatalf("day %d: expected %q, got %q", day, want, got)
		}
	}
}
