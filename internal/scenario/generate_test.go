package scenario

import (
	"reflect"
	"testing"
)

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(SmallTestConfig())
	b := Generate(SmallTestConfig())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different scenarios")
	}
	if a.Seed != 42 {
		t.Fatalf("seed %d", a.Seed)
	}
}

func TestGenerateShape(t *testing.T) {
	cfg := DefaultGenConfig()
	cfg.Seed = 99
	f := Generate(cfg)
	if len(f.Markets) != cfg.Markets {
		t.Fatalf("markets %d", len(f.Markets))
	}
	if len(f.Groups) != cfg.Markets*cfg.GroupsPerMarket {
		t.Fatalf("groups %d", len(f.Groups))
	}
	for _, g := range f.Groups {
		if g.Count < cfg.MinCount || g.Count > cfg.MaxCount {
			t.Fatalf("group %q count %d outside [%d,%d]", g.Name, g.Count, cfg.MinCount, cfg.MaxCount)
		}
	}
}

func TestGeneratedScenarioRoundTrips(t *testing.T) {
	raw, err := Marshal(Generate(SmallTestConfig()))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse generated: %v\n%s", err, raw)
	}
	sim, err := Build(f)
	if err != nil {
		t.Fatalf("Build generated: %v", err)
	}
	for day := 1; day <= 5; day++ {
		if _, err := sim.RunDay(); err != nil {
			t.Fatalf("day %d: %v", day, err)
		}
	}
}
