// Package trade converts stars into instrument holdings and back, keeping a
// weighted-average cost basis per position, and exposes the HTTP handlers
// for trading, portfolio valuation and the transaction log.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/httpx"
	"github.com/starfall/economy-engine/internal/instrument"
	"github.com/starfall/economy-engine/internal/limits"
	"github.com/starfall/economy-engine/internal/metrics"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store"
)

var (
	ErrInvalidQuantity      = errors.New("trade: quantity must be a positive integer")
	ErrInvalidSide          = errors.New("trade: side must be BUY or SELL")
	ErrInstrumentNotFound   = errors.New("trade: instrument not found")
	ErrInsufficientFunds    = errors.New("trade: insufficient funds")
	ErrInstrumentNotHeld    = errors.New("trade: instrument not held")
	ErrInsufficientHoldings = errors.New("trade: insufficient holdings")
)

func init() {
	httpx.Register(http.StatusBadRequest, "InvalidQuantity", ErrInvalidQuantity)
	httpx.Register(http.StatusBadRequest, "InvalidSide", ErrInvalidSide)
	httpx.Register(http.StatusBadRequest, "InvalidTicker", instrument.ErrInvalidTicker)
	httpx.Register(http.StatusBadRequest, "InvalidPrice", instrument.ErrInvalidPrice)
	httpx.Register(http.StatusNotFound, "InstrumentNotFound", ErrInstrumentNotFound)
	httpx.Register(http.StatusConflict, "InsufficientFunds", ErrInsufficientFunds)
	httpx.Register(http.StatusConflict, "InstrumentNotHeld", ErrInstrumentNotHeld)
	httpx.Register(http.StatusConflict, "InsufficientHoldings", ErrInsufficientHoldings)
	httpx.Register(http.StatusConflict, "PositionLimitExceeded", limits.ErrPositionLimitExceeded)
	httpx.Register(http.StatusConflict, "DailyVolumeExceeded", limits.ErrDailyVolumeExceeded)
}

// Service executes trades. Per-account serialization and the atomic
// (balance, position, log) write come from the account.Manager; the
// instrument price is read inside the unit of work at the instant of use.
type Service struct {
	accounts *account.Manager
	store    store.Store
	limiter  *limits.PositionLimiter
}

// NewService creates a trade service. A nil limiter disables limits.
func NewService(accounts *account.Manager, limiter *limits.PositionLimiter) *Service {
	return &Service{
		accounts: accounts,
		store:    accounts.Store(),
		limiter:  limiter,
	}
}

// Result is the outcome of one executed trade.
type Result struct {
	TradeID      string          `json:"trade_id"`
	Side         model.Side      `json:"side"`
	Ticker       string          `json:"ticker"`
	Quantity     int64           `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	TotalValue   decimal.Decimal `json:"total_value"`
	NewBalance   decimal.Decimal `json:"new_balance"`
	// Position is the position after the trade; nil after a full sale.
	Position *model.Position `json:"position"`
}

// Buy purchases qty units of ticker at its current price.
func (s *Service) Buy(ctx context.Context, key model.AccountKey, ticker string, qty int64) (*Result, error) {
	return s.execute(ctx, model.SideBuy, key, ticker, qty)
}

// Sell sells qty units of ticker at its current price.
func (s *Service) Sell(ctx context.Context, key model.AccountKey, ticker string, qty int64) (*Result, error) {
	return s.execute(ctx, model.SideSell, key, ticker, qty)
}

// Execute dispatches on side.
func (s *Service) Execute(ctx context.Context, side model.Side, key model.AccountKey, ticker string, qty int64) (*Result, error) {
	if side != model.SideBuy && side != model.SideSell {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidSide, side)
	}
	return s.execute(ctx, side, key, ticker, qty)
}

func (s *Service) execute(ctx context.Context, side model.Side, key model.AccountKey, rawTicker string, qty int64) (*Result, error) {
	start := time.Now()

	if qty <= 0 {
		return nil, s.reject(fmt.Errorf("%w: got %d", ErrInvalidQuantity, qty))
	}
	ticker, err := instrument.NormalizeTicker(rawTicker)
	if err != nil {
		return nil, s.reject(err)
	}

	var res *Result
	acct, err := s.accounts.Update(ctx, key, func(a *model.Account) ([]model.TransactionLogEntry, error) {
		inst, err := s.store.GetInstrument(ctx, ticker)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, ticker)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err)
		}

		now := s.accounts.Now()
		held := a.Portfolio[ticker].Quantity
		if err := s.limiter.CheckLimit(side, held, qty, a.DailyVolume, now); err != nil {
			return nil, err
		}

		var total decimal.Decimal
		var pos *model.Position
		if side == model.SideBuy {
			var p model.Position
			total, p, err = applyBuy(a, ticker, qty, inst.CurrentPrice)
			pos = &p
		} else {
			total, pos, err = applySell(a, ticker, qty, inst.CurrentPrice)
		}
		if err != nil {
			return nil, err
		}
		limits.Record(a, side, qty, now)

		entry := model.TransactionLogEntry{
			ID:           uuid.New().String(),
			Ticker:       ticker,
			UserID:       key.UserID,
			RealmID:      key.RealmID,
			Side:         side,
			Quantity:     qty,
			PricePerUnit: inst.CurrentPrice,
			TotalValue:   total,
			Timestamp:    now,
		}
		res = &Result{
			TradeID:      entry.ID,
			Side:         side,
			Ticker:       ticker,
			Quantity:     qty,
			PricePerUnit: inst.CurrentPrice,
			TotalValue:   total,
			Position:     pos,
		}
		return []model.TransactionLogEntry{entry}, nil
	})
	if err != nil {
		return nil, s.reject(err)
	}
	res.NewBalance = acct.StarsAvailable

	metrics.TradesTotal.WithLabelValues(string(side)).Inc()
	metrics.TradeLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", res.TradeID,
		"account", key.String(),
		"ticker", ticker,
		"side", string(side),
		"qty", qty,
		"price", res.PricePerUnit.String(),
		"total", res.TotalValue.String(),
		"new_balance", res.NewBalance.String(),
	)
	return res, nil
}

// reject counts a refused trade under its error code and passes err through.
func (s *Service) reject(err error) error {
	_, code := httpx.Classify(err)
	metrics.TradeRejections.WithLabelValues(code).Inc()
	return err
}

// --- Portfolio valuation ---

// PositionValue is a position marked to the current instrument price.
type PositionValue struct {
	model.Position
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	// Priced is false when the instrument is no longer listed; the position
	// is then carried at cost.
	Priced bool `json:"priced"`
}

// Portfolio is the mark-to-market view of an account's holdings.
type Portfolio struct {
	UserID         string          `json:"user_id"`
	RealmID        string          `json:"realm_id"`
	StarsAvailable decimal.Decimal `json:"stars_available"`
	Positions      []PositionValue `json:"positions"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	TotalValue     decimal.Decimal `json:"total_value"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
}

// Portfolio values every position at current prices. It reads a snapshot
// and does not lock the account.
func (s *Service) Portfolio(ctx context.Context, key model.AccountKey) (*Portfolio, error) {
	acct, err := s.accounts.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	p := &Portfolio{
		UserID:         key.UserID,
		RealmID:        key.RealmID,
		StarsAvailable: acct.StarsAvailable,
		Positions:      []PositionValue{},
	}
	for _, ticker := range sortedTickers(acct.Portfolio) {
		pos := acct.Portfolio[ticker]
		pv := PositionValue{Position: pos, CurrentValue: pos.TotalCostBasis}

		inst, err := s.store.GetInstrument(ctx, ticker)
		switch {
		case err == nil:
			pv.Priced = true
			pv.CurrentPrice = inst.CurrentPrice
			pv.CurrentValue = inst.CurrentPrice.Mul(decimal.NewFromInt(pos.Quantity))
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err)
		}
		pv.UnrealizedPnL = pv.CurrentValue.Sub(pos.TotalCostBasis)

		p.TotalCostBasis = p.TotalCostBasis.Add(pos.TotalCostBasis)
		p.TotalValue = p.TotalValue.Add(pv.CurrentValue)
		p.TotalPnL = p.TotalPnL.Add(pv.UnrealizedPnL)
		p.Positions = append(p.Positions, pv)
	}
	return p, nil
}

// --- Transaction log reads (audit only; never used for decisions) ---

// AccountHistory returns the account's log entries, newest first.
func (s *Service) AccountHistory(ctx context.Context, key model.AccountKey, limit int) ([]model.TransactionLogEntry, error) {
	if !key.Valid() {
		return nil, account.ErrInvalidKey
	}
	entries, err := s.store.GetTransactionsByAccount(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err)
	}
	if entries == nil {
		entries = []model.TransactionLogEntry{}
	}
	return entries, nil
}

// TickerHistory returns the ticker's log entries, newest first.
func (s *Service) TickerHistory(ctx context.Context, rawTicker string, limit int) ([]model.TransactionLogEntry, error) {
	ticker, err := instrument.NormalizeTicker(rawTicker)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetTransactionsByTicker(ctx, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err)
	}
	if entries == nil {
		entries = []model.TransactionLogEntry{}
	}
	return entries, nil
}
