// Package economy provides goods, quantity ledgers, per-market seller registries,
// and the exchange that rations buy requests across ranked sellers.
package economy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// GoodID is a stable handle into a Catalog. Names are resolved to handles once, at load time.
type GoodID uint32

// NoGood marks an unset good handle.
const NoGood GoodID = math.MaxUint32

// GoodKind distinguishes physical products from abstract wants.
type GoodKind uint8

const (
	KindProduct GoodKind = iota // Tradeable, storable
	KindWant                    // Satisfied by using, consuming or owning products
)

func (k GoodKind) String() string {
	switch k {
	case KindProduct:
		return "product"
	case KindWant:
		return "want"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Good is anything that can be needed or traded. Immutable once added to a Catalog.
type Good struct {
	ID      GoodID   `json:"id"`
	Kind    GoodKind `json:"kind"`
	Name    string   `json:"name"`
	Variant string   `json:"variant,omitempty"`

	// Product attributes.
	Mass          decimal.Decimal `json:"mass"`
	Bulk          decimal.Decimal `json:"bulk"`
	Fractional    bool            `json:"fractional"`
	FailureChance decimal.Decimal `json:"failure_chance"` // Fraction lost per day, 0–1

	// Want sources. The three lists are disjoint and reference products only.
	UseSources         []GoodID `json:"use_sources,omitempty"`
	ConsumptionSources []GoodID `json:"consumption_sources,omitempty"`
	OwnershipSources   []GoodID `json:"ownership_sources,omitempty"`
}

// Key returns the lookup key for the good: "name" or "name(variant)".
func (g Good) Key() string {
	return GoodKey(g.Name, g.Variant)
}

// IsWant reports whether the good is an abstract want.
func (g Good) IsWant() bool {
	return g.Kind == KindWant
}

// GoodKey builds a catalog lookup key.
func GoodKey(name, variant string) string {
	if variant == "" {
		return name
	}
	return name + "(" + variant + ")"
}

// ProductDef describes a product to register.
type ProductDef struct {
	Name          string
	Variant       string
	Mass          decimal.Decimal
	Bulk          decimal.Decimal
	Fractional    bool
	FailureChance decimal.Decimal
}

// WantDef describes a want to register. Sources must already be registered products.
type WantDef struct {
	Name        string
	Use         []GoodID
	Consumption []GoodID
	Ownership   []GoodID
}

// Catalog is the arena of all goods. Goods are addressed by index and never duplicated.
type Catalog struct {
	goods []Good
	index map[string]GoodID
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{index: make(map[string]GoodID)}
}

// AddProduct registers a product and returns its handle.
func (c *Catalog) AddProduct(def ProductDef) (GoodID, error) {
	if def.Name == "" {
		return NoGood, fmt.Errorf("add product: empty name: %w", ErrInvalidArgument)
	}
	key := GoodKey(def.Name, def.Variant)
	if _, ok := c.index[key]; ok {
		return NoGood, fmt.Errorf("add product %q: %w", key, ErrDuplicateGood)
	}
	if def.FailureChance.IsNegative() || def.FailureChance.GreaterThan(decimal.NewFromInt(1)) {
		return NoGood, fmt.Errorf("add product %q: failure chance %s outside [0,1]: %w",
			key, def.FailureChance, ErrInvalidArgument)
	}
	if def.Mass.IsNegative() || def.Bulk.IsNegative() {
		return NoGood, fmt.Errorf("add product %q: negative mass or bulk: %w", key, ErrInvalidArgument)
	}

	id := GoodID(len(c.goods))
	c.goods = append(c.goods, Good{
		ID:            id,
		Kind:          KindProduct,
		Name:          def.Name,
		Variant:       def.Variant,
		Mass:          def.Mass,
		Bulk:          def.Bulk,
		Fractional:    def.Fractional,
		FailureChance: def.FailureChance,
	})
	c.index[key] = id
	return id, nil
}

// AddWant registers a want and returns its handle.
func (c *Catalog) AddWant(def WantDef) (GoodID, error) {
	if def.Name == "" {
		return NoGood, fmt.Errorf("add want: empty name: %w", ErrInvalidArgument)
	}
	if _, ok := c.index[def.Name]; ok {
		return NoGood, fmt.Errorf("add want %q: %w", def.Name, ErrDuplicateGood)
	}

	seen := make(map[GoodID]bool)
	for _, list := range [][]GoodID{def.Use, def.Consumption, def.Ownership} {
		for _, src := range list {
			g, ok := c.Good(src)
			if !ok {
				return NoGood, fmt.Errorf("add want %q: source %d: %w", def.Name, src, ErrUnknownGood)
			}
			if g.IsWant() {
				return NoGood, fmt.Errorf("add want %q: source %q is a want: %w", def.Name, g.Key(), ErrInvalidArgument)
			}
			if seen[src] {
				return NoGood, fmt.Errorf("add want %q: source %q listed twice: %w", def.Name, g.Key(), ErrInvalidArgument)
			}
			seen[src] = true
		}
	}

	id := GoodID(len(c.goods))
	c.goods = append(c.goods, Good{
		ID:                 id,
		Kind:               KindWant,
		Name:               def.Name,
		UseSources:         append([]GoodID(nil), def.Use...),
		ConsumptionSources: append([]GoodID(nil), def.Consumption...),
		OwnershipSources:   append([]GoodID(nil), def.Ownership...),
	})
	c.index[def.Name] = id
	return id, nil
}

// Lookup resolves a "name" or "name(variant)" key.
func (c *Catalog) Lookup(key string) (GoodID, bool) {
	id, ok := c.index[key]
	return id, ok
}

// MustLookup resolves a key or panics. For generators and tests.
func (c *Catalog) MustLookup(key string) GoodID {
	id, ok := c.index[key]
	if !ok {
		panic(fmt.Sprintf("economy: unknown good %q", key))
	}
	return id
}

// Good returns the good for a handle.
func (c *Catalog) Good(id GoodID) (Good, bool) {
	if int(id) >= len(c.goods) {
		return Good{}, false
	}
	return c.goods[id], true
}

// Name returns a display key for logs; unknown handles render as "#id".
func (c *Catalog) Name(id GoodID) string {
	g, ok := c.Good(id)
	if !ok {
		return fmt.Sprintf("#%d", id)
	}
	return g.Key()
}

// Len returns the number of registered goods.
func (c *Catalog) Len() int {
	return len(c.goods)
}

// All returns every good in handle order.
func (c *Catalog) All() []Good {
	out := make([]Good, len(c.goods))
	copy(out, c.goods)
	return out
}
