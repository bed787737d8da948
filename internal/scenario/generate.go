// Procedural scenario generation using simplex noise.
// Every market gets the same goods and jobs; noise varies group sizes, starting
// storage, stockpiles and price levels so no two seeds trade alike.
package scenario

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/entropy"
)

// GenConfig holds scenario generation parameters.
type GenConfig struct {
	Name            string
	Seed            int64   // Random seed (0 = draw one from crypto/rand)
	Markets         int     // Number of market towns
	GroupsPerMarket int     // Population groups per town, jobs assigned round-robin
	MinCount        int64   // Smallest group
	MaxCount        int64   // Largest group
	Frequency       float64 // Noise frequency; lower values make neighbouring towns more alike
}

// DefaultGenConfig returns a mid-sized economy.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Name:            "generated",
		Seed:            0,
		Markets:         4,
		GroupsPerMarket: 8,
		MinCount:        10,
		MaxCount:        120,
		Frequency:       0.35,
	}
}

// SmallTestConfig returns a single town for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Name:            "small",
		Seed:            42,
		Markets:         1,
		GroupsPerMarket: 7,
		MinCount:        5,
		MaxCount:        20,
		Frequency:       0.35,
	}
}

type templateGood struct {
	name       string
	fractional bool
	failure    string
	price      float64
}

type templateJob struct {
	name    string
	inputs  map[string]float64
	capital map[string]float64
	outputs map[string]float64
	labor   float64
}

var templateGoods = []templateGood{
	{"Grain", true, "0.01", 1},
	{"Flour", true, "0.02", 2},
	{"Bread", false, "0.2", 3},
	{"Wood", false, "0", 1},
	{"Planks", false, "0.005", 4},
	{"Tools", false, "0.002", 10},
	{"Cloth", false, "0.01", 3},
	{"Labor", true, "1", 1},
}

var templateJobs = []templateJob{
	{name: "farming", outputs: map[string]float64{"Grain": 4}, labor: 1},
	{name: "milling", inputs: map[string]float64{"Grain": 4}, outputs: map[string]float64{"Flour": 3}, labor: 1},
	{name: "baking", inputs: map[string]float64{"Flour": 2}, capital: map[string]float64{"Tools": 0.1}, outputs: map[string]float64{"Bread": 4}, labor: 1},
	{name: "forestry", outputs: map[string]float64{"Wood": 3}, labor: 1},
	{name: "carpentry", inputs: map[string]float64{"Wood": 2}, capital: map[string]float64{"Tools": 0.1}, outputs: map[string]float64{"Planks": 3}, labor: 1},
	{name: "smithing", inputs: map[string]float64{"Wood": 1}, outputs: map[string]float64{"Tools": 0.5}, labor: 2},
	{name: "weaving", inputs: map[string]float64{"Grain": 1}, outputs: map[string]float64{"Cloth": 1}, labor: 1},
}

// Generate builds a scenario from noise. The result always passes Validate once marshaled.
func Generate(cfg GenConfig) *File {
	seed := cfg.Seed
	if seed == 0 {
		seed = entropy.Seed(nil)
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = DefaultGenConfig().Frequency
	}
	if cfg.MaxCount < cfg.MinCount {
		cfg.MaxCount = cfg.MinCount
	}
	if cfg.MinCount < 1 {
		cfg.MinCount = 1
	}
	name := cfg.Name
	if name == "" {
		name = "generated"
	}

	// Independent layers for population, wealth and prices.
	sizeNoise := opensimplex.NewNormalized(seed)
	wealthNoise := opensimplex.NewNormalized(seed + 1)
	priceNoise := opensimplex.NewNormalized(seed + 2)

	rule := economy.DefaultPriceRule()
	f := &File{
		Name: name,
		Seed: seed,
		Tuning: Tuning{
			DayIntervalMs:      1000,
			Speed:              1,
			LaborGood:          "Labor",
			SnapshotEveryDays:  30,
			JournalDaysPerFile: 90,
			SeasonalLoss:       true,
			Pricing: &PricingSpec{
				Floor:   Quantity{rule.Floor},
				Ceiling: Quantity{rule.Ceiling},
				Rate:    Quantity{rule.Rate},
			},
		},
		Wants: []WantSpec{
			{Name: "Food", Consumption: []string{"Bread", "Grain"}},
			{Name: "Shelter", Ownership: []string{"Planks"}},
			{Name: "Clothing", Use: []string{"Cloth"}},
		},
	}
	for _, g := range templateGoods {
		f.Products = append(f.Products, ProductSpec{
			Name:          g.name,
			Fractional:    g.fractional,
			FailureChance: Q(g.failure),
		})
	}
	for _, j := range templateJobs {
		f.Jobs = append(f.Jobs, JobSpec{
			Name:             j.name,
			Inputs:           lines(j.inputs, 1),
			Capital:          lines(j.capital, 1),
			Outputs:          lines(j.outputs, 1),
			LaborRequirement: qty(j.labor),
		})
	}

	groupID := uint64(1)
	for i := 0; i < cfg.Markets; i++ {
		// Towns sit along a line in noise space; groups scatter around their town.
		mx := float64(i) * 3.7
		my := 0.0

		level := 0.8 + 0.4*octaveNoise(priceNoise, mx, my, 3, cfg.Frequency, 0.5)
		prices := make(Lines, len(templateGoods))
		for _, g := range templateGoods {
			prices[g.name] = qty(g.price * level)
		}
		wealth := octaveNoise(wealthNoise, mx, my, 3, cfg.Frequency, 0.5)
		market := MarketSpec{
			ID:     uint64(i + 1),
			Name:   fmt.Sprintf("Town %d", i+1),
			Prices: prices,
			Stockpile: Lines{
				"Grain": qty(math.Round(100 + 400*wealth)),
				"Wood":  qty(math.Round(20 + 80*wealth)),
			},
		}
		f.Markets = append(f.Markets, market)

		for j := 0; j < cfg.GroupsPerMarket; j++ {
			gx := mx + float64(j)*0.9
			gy := my + 1.3
			job := templateJobs[(i+j)%len(templateJobs)]

			size := octaveNoise(sizeNoise, gx, gy, 4, cfg.Frequency, 0.5)
			count := cfg.MinCount + int64(math.Round(size*float64(cfg.MaxCount-cfg.MinCount)))
			stock := 1 + 2*octaveNoise(wealthNoise, gx, gy, 4, cfg.Frequency, 0.5)

			storage := lines(job.inputs, float64(count)*stock)
			for k, v := range lines(job.capital, float64(count)) {
				storage[k] = v
			}
			storage["Grain"] = qty(float64(count) * stock)

			f.Groups = append(f.Groups, GroupSpec{
				ID:       groupID,
				Name:     fmt.Sprintf("%s %s", market.Name, job.name),
				Priority: int(math.Floor(size * 4)),
				Market:   market.ID,
				Count:    count,
				Job:      job.name,
				Markup:   qty(0.05 + 0.2*octaveNoise(priceNoise, gx, gy, 2, cfg.Frequency, 0.5)),
				Storage:  storage,
				Needs: NeedsSpec{
					Life:   Lines{"Food": Q("1")},
					Daily:  Lines{"Shelter": Q("0.05"), "Clothing": Q("0.1")},
					Luxury: Lines{"Bread": Q("0.5")},
				},
			})
			groupID++
		}
	}
	return f
}

func lines(m map[string]float64, scale float64) Lines {
	out := make(Lines, len(m))
	for k, v := range m {
		out[k] = qty(v * scale)
	}
	return out
}

func qty(v float64) Quantity {
	return Quantity{decimal.NewFromFloat(v).Round(2)}
}

// octaveNoise samples multi-octave noise normalized to [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
