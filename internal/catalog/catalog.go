// Package catalog loads the configuration data of the economy: loot tables,
// luck consumables, shop prices and the instruments seeded at startup.
//
// The catalog is read once and treated as immutable. Lookups hand out
// copies so no caller can change a table another draw is reading.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/instrument"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store"
)

//go:embed default.json
var defaultCatalog []byte

// ErrInvalidCatalog wraps every validation failure of a catalog file.
var ErrInvalidCatalog = errors.New("catalog: invalid catalog")

// Price is the cost of one unit of a shop item. Either part may be zero.
type Price struct {
	Stars  decimal.Decimal `json:"stars"`
	Shards decimal.Decimal `json:"shards"`
}

// ShopItem is an item that can be bought directly.
type ShopItem struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Price  Price  `json:"price"`
}

// Consumable is a luck item whose use installs a LuckModifier.
type Consumable struct {
	ItemID           string              `json:"item_id"`
	Name             string              `json:"name"`
	BoostFactor      decimal.Decimal     `json:"boost_factor"`
	AffectedTiers    []model.QualityTier `json:"affected_tiers"`
	ApplicableTables []string            `json:"applicable_tables"`
}

// Modifier builds the LuckModifier installed when c is used.
func (c Consumable) Modifier() *model.LuckModifier {
	m := &model.LuckModifier{
		SourceItemID:     c.ItemID,
		Name:             c.Name,
		BoostFactor:      c.BoostFactor,
		AffectedTiers:    c.AffectedTiers,
		ApplicableTables: c.ApplicableTables,
	}
	return m.Clone()
}

// InstrumentSeed is an instrument listed at startup when absent from the store.
type InstrumentSeed struct {
	Ticker string          `json:"ticker"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// DailyReward is the grant for one day of the streak cycle. Days are
// numbered from 1 and the cycle restarts after the last one.
type DailyReward struct {
	Day    int          `json:"day"`
	Reward model.Reward `json:"reward"`
}

// File mirrors the JSON catalog layout.
type File struct {
	LootTables   []model.LootTable `json:"loot_tables"`
	Consumables  []Consumable      `json:"luck_consumables"`
	Shop         []ShopItem        `json:"shop"`
	Instruments  []InstrumentSeed  `json:"instruments"`
	DailyRewards []DailyReward     `json:"daily_rewards"`
}

// Catalog is the validated, indexed form of a File.
type Catalog struct {
	file        File
	tables      map[string]model.LootTable
	consumables map[string]Consumable
	shop        map[string]ShopItem
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path selects the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a JSON catalog.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return build(f)
}

func build(f File) (*Catalog, error) {
	c := &Catalog{
		file:        f,
		tables:      make(map[string]model.LootTable, len(f.LootTables)),
		consumables: make(map[string]Consumable, len(f.Consumables)),
		shop:        make(map[string]ShopItem, len(f.Shop)),
	}

	for _, t := range f.LootTables {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: loot table without id", ErrInvalidCatalog)
		}
		if _, dup := c.tables[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate loot table %q", ErrInvalidCatalog, t.ID)
		}
		for i, e := range t.Entries {
			if !e.Quality.Valid() {
				return nil, fmt.Errorf("%w: table %s entry %d: unknown quality %q", ErrInvalidCatalog, t.ID, i, e.Quality)
			}
			if err := e.Reward.Validate(); err != nil {
				return nil, fmt.Errorf("%w: table %s entry %d: %v", ErrInvalidCatalog, t.ID, i, err)
			}
		}
		c.tables[t.ID] = t.Clone()
	}

	for _, cons := range f.Consumables {
		if cons.ItemID == "" {
			return nil, fmt.Errorf("%w: luck consumable without item_id", ErrInvalidCatalog)
		}
		if err := cons.Modifier().Validate(); err != nil {
			return nil, fmt.Errorf("%w: consumable %s: %v", ErrInvalidCatalog, cons.ItemID, err)
		}
		for _, id := range cons.ApplicableTables {
			if _, ok := c.tables[id]; !ok {
				return nil, fmt.Errorf("%w: consumable %s references unknown table %q", ErrInvalidCatalog, cons.ItemID, id)
			}
		}
		c.consumables[cons.ItemID] = cons
	}

	for _, item := range f.Shop {
		if item.ItemID == "" {
			return nil, fmt.Errorf("%w: shop item without item_id", ErrInvalidCatalog)
		}
		p := item.Price
		if p.Stars.IsNegative() || p.Shards.IsNegative() || (p.Stars.IsZero() && p.Shards.IsZero()) {
			return nil, fmt.Errorf("%w: shop item %s has no valid price", ErrInvalidCatalog, item.ItemID)
		}
		c.shop[item.ItemID] = item
	}

	for _, seed := range f.Instruments {
		if _, err := instrument.New(seed.Ticker, seed.Name, seed.Price); err != nil {
			return nil, fmt.Errorf("%w: instrument %q: %v", ErrInvalidCatalog, seed.Ticker, err)
		}
	}

	for i, dr := range f.DailyRewards {
		if dr.Day != i+1 {
			return nil, fmt.Errorf("%w: daily reward %d has day %d, want %d", ErrInvalidCatalog, i, dr.Day, i+1)
		}
		if err := dr.Reward.Validate(); err != nil {
			return nil, fmt.Errorf("%w: daily reward day %d: %v", ErrInvalidCatalog, dr.Day, err)
		}
	}
	return c, nil
}

// Table returns a copy of the loot table with id.
func (c *Catalog) Table(id string) (model.LootTable, bool) {
	t, ok := c.tables[id]
	if !ok {
		return model.LootTable{}, false
	}
	return t.Clone(), true
}

// Tables returns copies of all loot tables in file order.
func (c *Catalog) Tables() []model.LootTable {
	out := make([]model.LootTable, 0, len(c.file.LootTables))
	for _, t := range c.file.LootTables {
		out = append(out, t.Clone())
	}
	return out
}

// Consumable returns the luck consumable with itemID.
func (c *Catalog) Consumable(itemID string) (Consumable, bool) {
	cons, ok := c.consumables[itemID]
	return cons, ok
}

// ShopItem returns the buyable item with itemID.
func (c *Catalog) ShopItem(itemID string) (ShopItem, bool) {
	item, ok := c.shop[itemID]
	return item, ok
}

// Shop returns every buyable item in file order.
func (c *Catalog) Shop() []ShopItem {
	return append([]ShopItem(nil), c.file.Shop...)
}

// DailyRewards returns the streak cycle in day order.
func (c *Catalog) DailyRewards() []DailyReward {
	return append([]DailyReward(nil), c.file.DailyRewards...)
}

// SeedInstruments lists every catalog instrument the store does not know
// yet. Existing instruments keep their price. It returns how many were added.
func (c *Catalog) SeedInstruments(ctx context.Context, st store.Store, now time.Time) (int, error) {
	added := 0
	for _, seed := range c.file.Instruments {
		inst, err := instrument.New(seed.Ticker, seed.Name, seed.Price)
		if err != nil {
			return added, err
		}
		_, err = st.GetInstrument(ctx, inst.Ticker)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return added, fmt.Errorf("catalog: seed %s: %w", inst.Ticker, err)
		}
		inst.UpdatedAt = now
		if err := st.UpsertInstrument(ctx, inst); err != nil {
			return added, fmt.Errorf("catalog: seed %s: %w", inst.Ticker, err)
		}
		added++
		slog.Info("instrument seeded", "ticker", inst.Ticker, "price", inst.CurrentPrice.String())
	}
	return added, nil
}
