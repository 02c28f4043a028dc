// Package model defines the core domain types shared across the economy engine.
// All currency amounts and prices use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKey identifies one Account: a user within a realm.
type AccountKey struct {
	UserID  string `json:"user_id" db:"user_id"`
	RealmID string `json:"realm_id" db:"realm_id"`
}

func (k AccountKey) String() string { return k.RealmID + "/" + k.UserID }

// Valid reports whether both parts of the key are set.
func (k AccountKey) Valid() bool { return k.UserID != "" && k.RealmID != "" }

// ItemStack is the available/reserved split of one inventory item.
type ItemStack struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
}

// Empty reports whether the stack holds nothing and should be pruned.
func (s ItemStack) Empty() bool { return s.Available == 0 && s.Reserved == 0 }

// Position is a holding of one tradable instrument.
// Invariant: TotalCostBasis ≈ Quantity * AvgCostPerUnit.
type Position struct {
	Ticker         string          `json:"ticker"`
	Quantity       int64           `json:"quantity"`
	AvgCostPerUnit decimal.Decimal `json:"avg_cost_per_unit"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
}

// DailyVolume counts instrument units bought and sold on one UTC day.
type DailyVolume struct {
	Day    string `json:"day"` // YYYY-MM-DD
	Bought int64  `json:"bought"`
	Sold   int64  `json:"sold"`
}

// DailyStreak tracks consecutive daily reward claims.
type DailyStreak struct {
	Count        int64  `json:"count"`
	LastClaimDay string `json:"last_claim_day,omitempty"` // YYYY-MM-DD, UTC
}

// Account is the ledger record of one user in one realm. It is loaded,
// mutated in memory under exclusive access, and persisted as a whole with
// a version check.
type Account struct {
	Key             AccountKey           `json:"key"`
	StarsAvailable  decimal.Decimal      `json:"stars_available"`
	StarsReserved   decimal.Decimal      `json:"stars_reserved"`
	ShardsAvailable decimal.Decimal      `json:"shards_available"`
	ShardsReserved  decimal.Decimal      `json:"shards_reserved"`
	Inventory       map[string]ItemStack `json:"inventory"`
	Portfolio       map[string]Position  `json:"portfolio"`
	Luck            *LuckModifier        `json:"luck,omitempty"`
	DailyVolume     DailyVolume          `json:"daily_volume"`
	Streak          DailyStreak          `json:"daily_streak"`
	Version         int64                `json:"version"` // 0 = never persisted
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// NewAccount returns an empty account for key, as created on first reference.
func NewAccount(key AccountKey) *Account {
	return &Account{
		Key:       key,
		Inventory: make(map[string]ItemStack),
		Portfolio: make(map[string]Position),
	}
}

// Clone returns a deep copy so callers can mutate without affecting the original.
func (a *Account) Clone() *Account {
	c := *a
	c.Inventory = make(map[string]ItemStack, len(a.Inventory))
	for k, v := range a.Inventory {
		c.Inventory[k] = v
	}
	c.Portfolio = make(map[string]Position, len(a.Portfolio))
	for k, v := range a.Portfolio {
		c.Portfolio[k] = v
	}
	if a.Luck != nil {
		c.Luck = a.Luck.Clone()
	}
	return &c
}

// Instrument is a tradable ticker. Owned by an external price feed; the
// engine only reads it.
type Instrument struct {
	Ticker       string          `json:"ticker" db:"ticker"`
	Name         string          `json:"name" db:"name"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Side of a transaction log entry.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TransactionLogEntry is an immutable record of a trade execution.
// Once created, these are never modified or deleted.
type TransactionLogEntry struct {
	ID           string          `json:"id" db:"id"`
	Ticker       string          `json:"ticker" db:"ticker"`
	UserID       string          `json:"user_id" db:"user_id"`
	RealmID      string          `json:"realm_id" db:"realm_id"`
	Side         Side            `json:"side" db:"side"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	TotalValue   decimal.Decimal `json:"total_value" db:"total_value"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// PriceSnapshot is one point of an instrument's price history.
type PriceSnapshot struct {
	Ticker     string          `json:"ticker"`
	Price      decimal.Decimal `json:"price"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// TickerVolume aggregates the transaction log of one ticker since a point in time.
type TickerVolume struct {
	Ticker    string          `json:"ticker"`
	Since     time.Time       `json:"since"`
	Trades    int64           `json:"trades"`
	Bought    int64           `json:"bought"`
	Sold      int64           `json:"sold"`
	BuyValue  decimal.Decimal `json:"buy_value"`
	SellValue decimal.Decimal `json:"sell_value"`
}
