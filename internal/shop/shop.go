// Package shop sells catalog items for stars and shards as a single-step
// purchase: both currencies are debited and the item credited in one unit
// of work, with no reservation phase.
package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/catalog"
	"github.com/starfall/economy-engine/internal/httpx"
	"github.com/starfall/economy-engine/internal/ledger"
	"github.com/starfall/economy-engine/internal/metrics"
	"github.com/starfall/economy-engine/internal/model"
)

var (
	ErrItemNotForSale  = errors.New("shop: item not for sale")
	ErrInvalidQuantity = errors.New("shop: quantity must be a positive integer")
)

func init() {
	httpx.Register(http.StatusNotFound, "ItemNotForSale", ErrItemNotForSale)
	httpx.Register(http.StatusBadRequest, "InvalidQuantity", ErrInvalidQuantity)
}

// Catalog is the price list the shop sells from.
type Catalog interface {
	ShopItem(itemID string) (catalog.ShopItem, bool)
	Shop() []catalog.ShopItem
}

type Service struct {
	accounts *account.Manager
	catalog  Catalog
}

func NewService(accounts *account.Manager, cat Catalog) *Service {
	return &Service{accounts: accounts, catalog: cat}
}

// Receipt is the outcome of a purchase.
type Receipt struct {
	ItemID          string          `json:"item_id"`
	Quantity        int64           `json:"quantity"`
	StarsSpent      decimal.Decimal `json:"stars_spent"`
	ShardsSpent     decimal.Decimal `json:"shards_spent"`
	StarsAvailable  decimal.Decimal `json:"stars_available"`
	ShardsAvailable decimal.Decimal `json:"shards_available"`
	ItemsAvailable  int64           `json:"items_available"`
}

// Purchase buys qty units of itemID at the catalog price.
func (s *Service) Purchase(ctx context.Context, key model.AccountKey, itemID string, qty int64) (*Receipt, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, qty)
	}
	item, ok := s.catalog.ShopItem(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrItemNotForSale, itemID)
	}

	q := decimal.NewFromInt(qty)
	stars := item.Price.Stars.Mul(q)
	shards := item.Price.Shards.Mul(q)

	acct, err := s.accounts.Update(ctx, key, func(a *model.Account) ([]model.TransactionLogEntry, error) {
		if stars.IsPositive() {
			if err := ledger.Debit(a, ledger.Stars, stars); err != nil {
				return nil, err
			}
		}
		if shards.IsPositive() {
			if err := ledger.Debit(a, ledger.Shards, shards); err != nil {
				return nil, err
			}
		}
		return nil, ledger.CreditItem(a, itemID, qty)
	})
	if err != nil {
		return nil, err
	}

	metrics.PurchasesTotal.WithLabelValues(itemID).Inc()
	slog.Info("item purchased",
		"account", key.String(),
		"item", itemID,
		"qty", qty,
		"stars", stars.String(),
		"shards", shards.String(),
	)
	return &Receipt{
		ItemID:          itemID,
		Quantity:        qty,
		StarsSpent:      stars,
		ShardsSpent:     shards,
		StarsAvailable:  acct.StarsAvailable,
		ShardsAvailable: acct.ShardsAvailable,
		ItemsAvailable:  acct.Inventory[itemID].Available,
	}, nil
}

// PurchaseRequest is the JSON body for POST .../purchases.
type PurchaseRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

// HandlePurchase handles POST /api/v1/realms/{realmID}/accounts/{userID}/purchases
func (s *Service) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	receipt, err := s.Purchase(r.Context(), account.KeyFromRequest(r), req.ItemID, req.Quantity)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, receipt)
}

// HandleListItems handles GET /api/v1/shop
func (s *Service) HandleListItems(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.catalog.Shop())
}
