// Package ledger implements the reservation (escrow) model over an in-memory
// Account. Every function mutates the account it is given and leaves it
// untouched on error; persisting the result is the caller's job.
//
// Ledger calls are not idempotent. Callers that hit a storage conflict must
// reload the account and re-apply the whole operation rather than repeat a
// single call.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/model"
)

var (
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")
	ErrInvalidResource       = errors.New("ledger: invalid resource")
	ErrInsufficientAvailable = errors.New("ledger: insufficient available balance")
	ErrInsufficientReserved  = errors.New("ledger: insufficient reserved balance")
)

// Kind is the class of a ledger resource.
type Kind int

const (
	KindStars Kind = iota + 1
	KindShards
	KindItem
)

const itemPrefix = "item:"

var maxItemAmount = decimal.NewFromInt(math.MaxInt64)

// Resource names one balance pool of an account: a currency or an item stack.
type Resource struct {
	Kind   Kind
	ItemID string
}

// Stars and Shards are the two currency resources.
var (
	Stars  = Resource{Kind: KindStars}
	Shards = Resource{Kind: KindShards}
)

// Item returns the resource for the inventory stack of itemID.
func Item(itemID string) Resource { return Resource{Kind: KindItem, ItemID: itemID} }

// CurrencyResource maps a currency to its resource.
func CurrencyResource(c model.Currency) (Resource, error) {
	switch c {
	case model.CurrencyStars:
		return Stars, nil
	case model.CurrencyShards:
		return Shards, nil
	}
	return Resource{}, fmt.Errorf("%w: unknown currency %q", ErrInvalidResource, c)
}

// ParseResource parses "stars", "shards" or "item:<id>".
func ParseResource(s string) (Resource, error) {
	switch s {
	case "stars":
		return Stars, nil
	case "shards":
		return Shards, nil
	}
	if id, ok := strings.CutPrefix(s, itemPrefix); ok && strings.TrimSpace(id) != "" {
		return Item(id), nil
	}
	return Resource{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
}

func (r Resource) String() string {
	switch r.Kind {
	case KindStars:
		return "stars"
	case KindShards:
		return "shards"
	case KindItem:
		return itemPrefix + r.ItemID
	}
	return "unknown"
}

// Balance returns the available and reserved amounts of r on a.
func Balance(a *model.Account, r Resource) (available, reserved decimal.Decimal) {
	switch r.Kind {
	case KindStars:
		return a.StarsAvailable, a.StarsReserved
	case KindShards:
		return a.ShardsAvailable, a.ShardsReserved
	case KindItem:
		st := a.Inventory[r.ItemID]
		return decimal.NewFromInt(st.Available), decimal.NewFromInt(st.Reserved)
	}
	return decimal.Zero, decimal.Zero
}

// Reserve moves amount from available to reserved.
func Reserve(a *model.Account, r Resource, amount decimal.Decimal) error {
	return apply(a, r, amount, func(avail, res decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		if avail.LessThan(amount) {
			return avail, res, fmt.Errorf("%w: reserve %s %s, available %s", ErrInsufficientAvailable, amount, r, avail)
		}
		return avail.Sub(amount), res.Add(amount), nil
	})
}

// Release moves amount from reserved back to available.
func Release(a *model.Account, r Resource, amount decimal.Decimal) error {
	return apply(a, r, amount, func(avail, res decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		if res.LessThan(amount) {
			return avail, res, fmt.Errorf("%w: release %s %s, reserved %s", ErrInsufficientReserved, amount, r, res)
		}
		return avail.Add(amount), res.Sub(amount), nil
	})
}

// Consume permanently removes amount from reserved.
func Consume(a *model.Account, r Resource, amount decimal.Decimal) error {
	return apply(a, r, amount, func(avail, res decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		if res.LessThan(amount) {
			return avail, res, fmt.Errorf("%w: consume %s %s, reserved %s", ErrInsufficientReserved, amount, r, res)
		}
		return avail, res.Sub(amount), nil
	})
}

// Credit adds amount to available. Only for single-step operations.
func Credit(a *model.Account, r Resource, amount decimal.Decimal) error {
	return apply(a, r, amount, func(avail, res decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return avail.Add(amount), res, nil
	})
}

// Debit removes amount from available. Only for single-step operations.
func Debit(a *model.Account, r Resource, amount decimal.Decimal) error {
	return apply(a, r, amount, func(avail, res decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		if avail.LessThan(amount) {
			return avail, res, fmt.Errorf("%w: debit %s %s, available %s", ErrInsufficientAvailable, amount, r, avail)
		}
		return avail.Sub(amount), res, nil
	})
}

// CreditItem and DebitItem are integer conveniences for inventory changes.
func CreditItem(a *model.Account, itemID string, qty int64) error {
	return Credit(a, Item(itemID), decimal.NewFromInt(qty))
}

func DebitItem(a *model.Account, itemID string, qty int64) error {
	return Debit(a, Item(itemID), decimal.NewFromInt(qty))
}

type transition func(avail, res decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)

func apply(a *model.Account, r Resource, amount decimal.Decimal, fn transition) error {
	if err := validate(r, amount); err != nil {
		return err
	}

	switch r.Kind {
	case KindStars:
		avail, res, err := fn(a.StarsAvailable, a.StarsReserved)
		if err != nil {
			return err
		}
		a.StarsAvailable, a.StarsReserved = avail, res
	case KindShards:
		avail, res, err := fn(a.ShardsAvailable, a.ShardsReserved)
		if err != nil {
			return err
		}
		a.ShardsAvailable, a.ShardsReserved = avail, res
	case KindItem:
		st := a.Inventory[r.ItemID]
		avail, res, err := fn(decimal.NewFromInt(st.Available), decimal.NewFromInt(st.Reserved))
		if err != nil {
			return err
		}
		if avail.GreaterThan(maxItemAmount) || res.GreaterThan(maxItemAmount) {
			return fmt.Errorf("%w: %s stack would overflow", ErrInvalidAmount, r)
		}
		st = model.ItemStack{Available: avail.IntPart(), Reserved: res.IntPart()}
		if a.Inventory == nil {
			a.Inventory = make(map[string]model.ItemStack)
		}
		if st.Empty() {
			delete(a.Inventory, r.ItemID)
		} else {
			a.Inventory[r.ItemID] = st
		}
	}
	return nil
}

func validate(r Resource, amount decimal.Decimal) error {
	switch r.Kind {
	case KindStars, KindShards:
	case KindItem:
		if r.ItemID == "" {
			return fmt.Errorf("%w: empty item id", ErrInvalidResource)
		}
		if !amount.IsInteger() {
			return fmt.Errorf("%w: item amount %s is not a whole number", ErrInvalidAmount, amount)
		}
		if amount.GreaterThan(maxItemAmount) {
			return fmt.Errorf("%w: item amount %s out of range", ErrInvalidAmount, amount)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidResource, r.Kind)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	return nil
}
