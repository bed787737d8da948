// Package scenario loads, validates and builds simulation scenarios: the goods, jobs,
// markets and population groups a run starts from.
package scenario

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/engine"
	"github.com/talgya/marketsim/internal/population"
	"github.com/talgya/marketsim/internal/production"
)

//go:embed schema.json
var schemaJSON string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("scenario.schema.json", schemaJSON)
})

// Quantity is a decimal that reads from either a YAML number or a numeric string.
type Quantity struct {
	decimal.Decimal
}

// Q builds a Quantity from a decimal string. Panics on malformed input.
func Q(s string) Quantity {
	return Quantity{decimal.RequireFromString(s)}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (q *Quantity) UnmarshalYAML(value *yaml.Node) error {
	d, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: quantity %q: %w", value.Line, value.Value, err)
	}
	q.Decimal = d
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (q Quantity) MarshalYAML() (any, error) {
	return q.String(), nil
}

// Lines maps good keys ("Name" or "Name(variant)") to quantities.
type Lines map[string]Quantity

// File is a scenario document.
type File struct {
	Name     string        `yaml:"name"`
	Seed     int64         `yaml:"seed,omitempty"`
	Tuning   Tuning        `yaml:"tuning,omitempty"`
	Products []ProductSpec `yaml:"products"`
	Wants    []WantSpec    `yaml:"wants,omitempty"`
	Jobs     []JobSpec     `yaml:"jobs,omitempty"`
	Markets  []MarketSpec  `yaml:"markets"`
	Groups   []GroupSpec   `yaml:"groups"`
}

// Tuning holds run parameters.
type Tuning struct {
	DayIntervalMs      int          `yaml:"day_interval_ms,omitempty"`
	Speed              float64      `yaml:"speed,omitempty"`
	LaborGood          string       `yaml:"labor_good,omitempty"`
	SnapshotEveryDays  int          `yaml:"snapshot_every_days,omitempty"`
	JournalDaysPerFile int          `yaml:"journal_days_per_file,omitempty"`
	MaxDays            int          `yaml:"max_days,omitempty"`
	SeasonalLoss       bool         `yaml:"seasonal_loss,omitempty"`
	Pricing            *PricingSpec `yaml:"pricing,omitempty"`
}

// PricingSpec enables daily price discovery.
type PricingSpec struct {
	Floor   Quantity `yaml:"floor"`
	Ceiling Quantity `yaml:"ceiling"`
	Rate    Quantity `yaml:"rate"`
}

type ProductSpec struct {
	Name          string   `yaml:"name"`
	Variant       string   `yaml:"variant,omitempty"`
	Mass          Quantity `yaml:"mass,omitempty"`
	Bulk          Quantity `yaml:"bulk,omitempty"`
	Fractional    bool     `yaml:"fractional,omitempty"`
	FailureChance Quantity `yaml:"failure_chance,omitempty"`
}

type WantSpec struct {
	Name        string   `yaml:"name"`
	Use         []string `yaml:"use,omitempty"`
	Consumption []string `yaml:"consumption,omitempty"`
	Ownership   []string `yaml:"ownership,omitempty"`
}

type JobSpec struct {
	Name             string   `yaml:"name"`
	Inputs           Lines    `yaml:"inputs,omitempty"`
	Capital          Lines    `yaml:"capital,omitempty"`
	Outputs          Lines    `yaml:"outputs,omitempty"`
	LaborRequirement Quantity `yaml:"labor_requirement"`
}

type MarketSpec struct {
	ID        uint64 `yaml:"id"`
	Name      string `yaml:"name"`
	Prices    Lines  `yaml:"prices,omitempty"`
	Stockpile Lines  `yaml:"stockpile,omitempty"`
}

type GroupSpec struct {
	ID       uint64    `yaml:"id"`
	Name     string    `yaml:"name"`
	Priority int       `yaml:"priority,omitempty"`
	Market   uint64    `yaml:"market"`
	Count    int64     `yaml:"count"`
	Job      string    `yaml:"job,omitempty"`
	Markup   Quantity  `yaml:"markup,omitempty"`
	Storage  Lines     `yaml:"storage,omitempty"`
	Needs    NeedsSpec `yaml:"needs,omitempty"`
}

type NeedsSpec struct {
	Life   Lines `yaml:"life,omitempty"`
	Daily  Lines `yaml:"daily,omitempty"`
	Luxury Lines `yaml:"luxury,omitempty"`
}

// Load reads and validates a scenario file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse validates a YAML scenario against the schema and decodes it.
func Parse(raw []byte) (*File, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &f, nil
}

// Validate checks a YAML scenario against the embedded JSON schema.
func Validate(raw []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	b, err := json.Marshal(jsonCompatible(doc))
	if err != nil {
		return fmt.Errorf("convert scenario: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("convert scenario: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	return nil
}

// jsonCompatible converts YAML maps with non-string keys into string-keyed maps.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = jsonCompatible(x)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[fmt.Sprint(k)] = jsonCompatible(x)
		}
		return out
	case []any:
		for i, x := range t {
			t[i] = jsonCompatible(x)
		}
		return t
	}
	return v
}

// Marshal encodes a scenario as YAML.
func Marshal(f *File) ([]byte, error) {
	return yaml.Marshal(f)
}

// Build resolves names to handles and assembles a simulation.
func Build(f *File) (*engine.Simulation, error) {
	cat := economy.NewCatalog()
	for _, p := range f.Products {
		_, err := cat.AddProduct(economy.ProductDef{
			Name:          p.Name,
			Variant:       p.Variant,
			Mass:          p.Mass.Decimal,
			Bulk:          p.Bulk.Decimal,
			Fractional:    p.Fractional,
			FailureChance: p.FailureChance.Decimal,
		})
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", f.Name, err)
		}
	}
	for _, w := range f.Wants {
		def := economy.WantDef{Name: w.Name}
		var err error
		if def.Use, err = lookupAll(cat, w.Use); err == nil {
			if def.Consumption, err = lookupAll(cat, w.Consumption); err == nil {
				def.Ownership, err = lookupAll(cat, w.Ownership)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("scenario %q: want %q: %w", f.Name, w.Name, err)
		}
		if _, err := cat.AddWant(def); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", f.Name, err)
		}
	}

	jobs := make(map[string]*production.Job, len(f.Jobs))
	for i, js := range f.Jobs {
		var recipe [3]economy.Ledger
		for k, l := range []Lines{js.Inputs, js.Capital, js.Outputs} {
			led, err := ledger(cat, l)
			if err != nil {
				return nil, fmt.Errorf("scenario %q: job %q: %w", f.Name, js.Name, err)
			}
			recipe[k] = led
		}
		j, err := production.NewJob(production.JobID(i+1), js.Name, recipe[0], recipe[1], recipe[2], js.LaborRequirement.Decimal)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", f.Name, err)
		}
		if _, dup := jobs[js.Name]; dup {
			return nil, fmt.Errorf("scenario %q: duplicate job %q: %w", f.Name, js.Name, economy.ErrInvalidArgument)
		}
		jobs[js.Name] = j
	}

	markets := make([]*economy.Market, 0, len(f.Markets))
	for _, ms := range f.Markets {
		prices, err := ledger(cat, ms.Prices)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: market %q prices: %w", f.Name, ms.Name, err)
		}
		stock, err := ledger(cat, ms.Stockpile)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: market %q stockpile: %w", f.Name, ms.Name, err)
		}
		m, err := economy.NewMarket(economy.MarketID(ms.ID), ms.Name, cat, prices, stock)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", f.Name, err)
		}
		markets = append(markets, m)
	}

	groups := make([]*population.Group, 0, len(f.Groups))
	for _, gs := range f.Groups {
		g, err := buildGroup(cat, jobs, gs)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: group %q: %w", f.Name, gs.Name, err)
		}
		groups = append(groups, g)
	}

	labor := economy.NoGood
	if f.Tuning.LaborGood != "" {
		id, ok := cat.Lookup(f.Tuning.LaborGood)
		if !ok {
			return nil, fmt.Errorf("scenario %q: labor good %q: %w", f.Name, f.Tuning.LaborGood, economy.ErrUnknownGood)
		}
		labor = id
	}

	sim, err := engine.NewSimulation(cat, markets, groups, labor, economy.DecayModel{})
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", f.Name, err)
	}
	sim.Seasonal = f.Tuning.SeasonalLoss
	if p := f.Tuning.Pricing; p != nil {
		rule := economy.PriceRule{Floor: p.Floor.Decimal, Ceiling: p.Ceiling.Decimal, Rate: p.Rate.Decimal}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", f.Name, err)
		}
		sim.Pricing = &rule
	}
	return sim, nil
}

func buildGroup(cat *economy.Catalog, jobs map[string]*production.Job, gs GroupSpec) (*population.Group, error) {
	var job *production.Job
	if gs.Job != "" {
		j, ok := jobs[gs.Job]
		if !ok {
			return nil, fmt.Errorf("unknown job %q: %w", gs.Job, economy.ErrInvalidArgument)
		}
		job = j
	}
	storage, err := ledger(cat, gs.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	var needs population.NeedBasket
	for i, l := range []Lines{gs.Needs.Life, gs.Needs.Daily, gs.Needs.Luxury} {
		if needs[i], err = ledger(cat, l); err != nil {
			return nil, fmt.Errorf("%s needs: %w", population.Tier(i), err)
		}
	}
	return population.NewGroup(population.GroupConfig{
		ID:       population.GroupID(gs.ID),
		Name:     gs.Name,
		Priority: gs.Priority,
		MarketID: economy.MarketID(gs.Market),
		Count:    gs.Count,
		Job:      job,
		Markup:   gs.Markup.Decimal,
		Storage:  storage,
		Needs:    needs,
		Catalog:  cat,
	})
}

func lookupAll(cat *economy.Catalog, keys []string) ([]economy.GoodID, error) {
	ids := make([]economy.GoodID, 0, len(keys))
	for _, k := range keys {
		id, ok := cat.Lookup(k)
		if !ok {
			return nil, fmt.Errorf("good %q: %w", k, economy.ErrUnknownGood)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func ledger(cat *economy.Catalog, lines Lines) (economy.Ledger, error) {
	out := economy.NewLedger()
	for k, q := range lines {
		id, ok := cat.Lookup(k)
		if !ok {
			return nil, fmt.Errorf("good %q: %w", k, economy.ErrUnknownGood)
		}
		out[id] = q.Decimal
	}
	return out, nil
}
