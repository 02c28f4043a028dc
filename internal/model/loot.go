package model

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// QualityTier groups loot entries for luck boosting.
type QualityTier string

const (
	QualityCommon   QualityTier = "common"
	QualityUncommon QualityTier = "uncommon"
	QualityGood     QualityTier = "good"
	QualityRare     QualityTier = "rare"
	QualityEpic     QualityTier = "epic"
)

var validTiers = map[QualityTier]bool{
	QualityCommon:   true,
	QualityUncommon: true,
	QualityGood:     true,
	QualityRare:     true,
	QualityEpic:     true,
}

// Valid reports whether q is one of the known tiers.
func (q QualityTier) Valid() bool { return validTiers[q] }

// Currency is one of the two spendable balances.
type Currency string

const (
	CurrencyStars  Currency = "stars"
	CurrencyShards Currency = "shards"
)

// Valid reports whether c names a known currency.
func (c Currency) Valid() bool { return c == CurrencyStars || c == CurrencyShards }

// RewardKind selects how a reward is applied to an account.
type RewardKind string

const (
	RewardCurrency RewardKind = "CURRENCY"
	RewardItem     RewardKind = "ITEM"
)

// QuantityRange is an inclusive [Min, Max] integer range.
type QuantityRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Reward describes what a loot entry grants.
type Reward struct {
	Kind          RewardKind     `json:"kind"`
	Currency      Currency       `json:"currency,omitempty"`
	ItemID        string         `json:"item_id,omitempty"`
	Quantity      int64          `json:"quantity,omitempty"` // fixed quantity; 0 means 1
	QuantityRange *QuantityRange `json:"quantity_range,omitempty"`
}

// Validate checks the reward is well formed.
func (r Reward) Validate() error {
	switch r.Kind {
	case RewardCurrency:
		if !r.Currency.Valid() {
			return fmt.Errorf("unknown currency %q", r.Currency)
		}
	case RewardItem:
		if r.ItemID == "" {
			return fmt.Errorf("item reward without item_id")
		}
	default:
		return fmt.Errorf("unknown reward kind %q", r.Kind)
	}
	if r.Quantity < 0 {
		return fmt.Errorf("negative quantity %d", r.Quantity)
	}
	if qr := r.QuantityRange; qr != nil && (qr.Min < 0 || qr.Max < qr.Min) {
		return fmt.Errorf("invalid quantity range [%d, %d]", qr.Min, qr.Max)
	}
	return nil
}

// LootEntry is one weighted outcome of a loot table.
type LootEntry struct {
	Weight  decimal.Decimal `json:"weight"`
	Quality QualityTier     `json:"quality"`
	Reward  Reward          `json:"reward"`
}

// LootTable is the ordered list of possible outcomes for one container type.
type LootTable struct {
	ID      string      `json:"id"`
	Name    string      `json:"name,omitempty"`
	Entries []LootEntry `json:"entries"`
}

// Clone returns a copy whose entries slice can be modified freely.
func (t LootTable) Clone() LootTable {
	t.Entries = slices.Clone(t.Entries)
	return t
}

// TotalWeight sums the positive weights of the table.
func (t LootTable) TotalWeight() decimal.Decimal {
	total := decimal.Zero
	for _, e := range t.Entries {
		if e.Weight.IsPositive() {
			total = total.Add(e.Weight)
		}
	}
	return total
}

// LuckModifier boosts the weight of selected quality tiers for exactly one
// draw from an applicable table.
type LuckModifier struct {
	SourceItemID     string          `json:"source_item_id,omitempty"`
	Name             string          `json:"name,omitempty"`
	BoostFactor      decimal.Decimal `json:"boost_factor"`
	AffectedTiers    []QualityTier   `json:"affected_tiers"`
	ApplicableTables []string        `json:"applicable_tables"`
}

// Clone returns a deep copy of the modifier.
func (m *LuckModifier) Clone() *LuckModifier {
	if m == nil {
		return nil
	}
	c := *m
	c.AffectedTiers = slices.Clone(m.AffectedTiers)
	c.ApplicableTables = slices.Clone(m.ApplicableTables)
	return &c
}

// AppliesTo reports whether the modifier is active for tableID.
func (m *LuckModifier) AppliesTo(tableID string) bool {
	return m != nil && slices.Contains(m.ApplicableTables, tableID)
}

// Affects reports whether entries of tier q are boosted.
func (m *LuckModifier) Affects(q QualityTier) bool {
	return m != nil && slices.Contains(m.AffectedTiers, q)
}

// Validate checks the modifier invariants.
func (m *LuckModifier) Validate() error {
	if !m.BoostFactor.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("boost factor must be > 1, got %s", m.BoostFactor)
	}
	for _, q := range m.AffectedTiers {
		if !q.Valid() {
			return fmt.Errorf("unknown quality tier %q", q)
		}
	}
	return nil
}
