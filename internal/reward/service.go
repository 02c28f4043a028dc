package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/catalog"
	"github.com/starfall/economy-engine/internal/httpx"
	"github.com/starfall/economy-engine/internal/ledger"
	"github.com/starfall/economy-engine/internal/metrics"
	"github.com/starfall/economy-engine/internal/model"
)

var (
	ErrTableNotFound     = errors.New("reward: loot table not found")
	ErrNoEligibleReward  = errors.New("reward: table has no eligible entry")
	ErrUnknownConsumable = errors.New("reward: unknown luck consumable")
	ErrLuckAlreadyActive = errors.New("reward: a luck modifier is already active")
	ErrNotAContainer     = errors.New("reward: item cannot be opened")
)

func init() {
	httpx.Register(http.StatusNotFound, "TableNotFound", ErrTableNotFound)
	httpx.Register(http.StatusConflict, "NoEligibleReward", ErrNoEligibleReward)
	httpx.Register(http.StatusBadRequest, "UnknownConsumable", ErrUnknownConsumable)
	httpx.Register(http.StatusConflict, "LuckAlreadyActive", ErrLuckAlreadyActive)
	httpx.Register(http.StatusBadRequest, "NotAContainer", ErrNotAContainer)
}

// Catalog is the read-only configuration the service draws from.
type Catalog interface {
	Table(id string) (model.LootTable, bool)
	Tables() []model.LootTable
	Consumable(itemID string) (catalog.Consumable, bool)
	DailyRewards() []catalog.DailyReward
}

// Service draws rewards and activates luck consumables.
type Service struct {
	accounts *account.Manager
	catalog  Catalog
	src      Source
}

// NewService creates a reward service. A nil src uses NewSource.
func NewService(accounts *account.Manager, cat Catalog, src Source) *Service {
	if src == nil {
		src = NewSource()
	}
	return &Service{accounts: accounts, catalog: cat, src: src}
}

// Result describes the reward granted by one draw.
type Result struct {
	TableID     string            `json:"table_id"`
	Kind        model.RewardKind  `json:"kind"`
	Currency    model.Currency    `json:"currency,omitempty"`
	ItemID      string            `json:"item_id,omitempty"`
	Quantity    int64             `json:"quantity"`
	Quality     model.QualityTier `json:"quality"`
	LuckApplied bool              `json:"luck_applied"`
	ContainerID string            `json:"container_id,omitempty"`
}

// Draw selects one entry of tableID for the account, credits its reward and
// consumes the luck modifier if it boosted this draw. Containers granted as
// items are added to the inventory unopened.
func (s *Service) Draw(ctx context.Context, key model.AccountKey, tableID string) (*Result, error) {
	table, err := s.drawableTable(tableID, ErrTableNotFound)
	if err != nil {
		return nil, err
	}

	var res *Result
	_, err = s.accounts.Update(ctx, key, func(a *model.Account) ([]model.TransactionLogEntry, error) {
		var err error
		res, err = s.drawInto(a, table)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	s.record(key, res)
	return res, nil
}

// OpenContainer removes one unit of the container itemID from the
// inventory and draws from the loot table of the same id. If the draw
// fails the container stays in the inventory.
func (s *Service) OpenContainer(ctx context.Context, key model.AccountKey, itemID string) (*Result, error) {
	table, err := s.drawableTable(itemID, ErrNotAContainer)
	if err != nil {
		return nil, err
	}

	var res *Result
	_, err = s.accounts.Update(ctx, key, func(a *model.Account) ([]model.TransactionLogEntry, error) {
		if err := ledger.DebitItem(a, itemID, 1); err != nil {
			return nil, err
		}
		var err error
		res, err = s.drawInto(a, table)
		if err != nil {
			return nil, err
		}
		res.ContainerID = itemID
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.record(key, res)
	return res, nil
}

func (s *Service) drawableTable(id string, notFound error) (model.LootTable, error) {
	table, ok := s.catalog.Table(id)
	if !ok {
		return model.LootTable{}, fmt.Errorf("%w: %q", notFound, id)
	}
	if !table.TotalWeight().IsPositive() {
		return model.LootTable{}, fmt.Errorf("%w: %s", ErrNoEligibleReward, id)
	}
	return table, nil
}

// drawInto applies the account's luck to table, picks and grants one entry
// and clears the modifier when it applied.
func (s *Service) drawInto(a *model.Account, table model.LootTable) (*Result, error) {
	adjusted, applied := AdjustedTable(table, a.Luck)
	entry, ok := pick(adjusted, s.src)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEligibleReward, table.ID)
	}
	qty := rollQuantity(entry.Reward, s.src)
	if err := grant(a, entry.Reward, qty); err != nil {
		return nil, err
	}
	if applied {
		a.Luck = nil
	}
	return &Result{
		TableID:     table.ID,
		Kind:        entry.Reward.Kind,
		Currency:    entry.Reward.Currency,
		ItemID:      entry.Reward.ItemID,
		Quantity:    qty,
		Quality:     entry.Quality,
		LuckApplied: applied,
	}, nil
}

func (s *Service) record(key model.AccountKey, res *Result) {
	metrics.RewardDrawsTotal.WithLabelValues(res.TableID, string(res.Quality), strconv.FormatBool(res.LuckApplied)).Inc()
	slog.Info("reward drawn",
		"account", key.String(),
		"table", res.TableID,
		"container", res.ContainerID,
		"kind", string(res.Kind),
		"currency", string(res.Currency),
		"item", res.ItemID,
		"qty", res.Quantity,
		"quality", string(res.Quality),
		"luck_applied", res.LuckApplied,
	)
}

// grant credits qty units of r. A zero roll grants nothing.
func grant(a *model.Account, r model.Reward, qty int64) error {
	if qty == 0 {
		return nil
	}
	switch r.Kind {
	case model.RewardCurrency:
		res, err := ledger.CurrencyResource(r.Currency)
		if err != nil {
			return err
		}
		return ledger.Credit(a, res, decimal.NewFromInt(qty))
	case model.RewardItem:
		return ledger.CreditItem(a, r.ItemID, qty)
	}
	return fmt.Errorf("%w: reward kind %q", ErrNoEligibleReward, r.Kind)
}

// ActivateLuck uses one unit of the consumable itemID and installs its
// modifier. Only one modifier can be active at a time.
func (s *Service) ActivateLuck(ctx context.Context, key model.AccountKey, itemID string) (*model.LuckModifier, error) {
	cons, ok := s.catalog.Consumable(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConsumable, itemID)
	}

	acct, err := s.accounts.Update(ctx, key, func(a *model.Account) ([]model.TransactionLogEntry, error) {
		if a.Luck != nil {
			return nil, fmt.Errorf("%w: %s", ErrLuckAlreadyActive, a.Luck.SourceItemID)
		}
		if err := ledger.DebitItem(a, itemID, 1); err != nil {
			return nil, err
		}
		a.Luck = cons.Modifier()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("luck activated",
		"account", key.String(),
		"item", itemID,
		"boost", acct.Luck.BoostFactor.String(),
	)
	return acct.Luck, nil
}
