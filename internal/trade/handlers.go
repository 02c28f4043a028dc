package trade

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/httpx"
	"github.com/starfall/economy-engine/internal/instrument"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store"
)

const defaultHistoryLimit = 100

// --- Request/Response types ---

// TradeRequest is the JSON body for POST .../trades.
type TradeRequest struct {
	Ticker   string     `json:"ticker"`
	Side     model.Side `json:"side"` // "BUY" or "SELL"
	Quantity int64      `json:"quantity"`
}

// InstrumentRequest is the JSON body for PUT /instruments/{ticker}.
type InstrumentRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// --- HTTP Handlers ---

// HandleTrade handles POST /api/v1/realms/{realmID}/accounts/{userID}/trades
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}

	res, err := s.Execute(r.Context(), req.Side, account.KeyFromRequest(r), req.Ticker, req.Quantity)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandlePortfolio handles GET /api/v1/realms/{realmID}/accounts/{userID}/portfolio
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.Portfolio(r.Context(), account.KeyFromRequest(r))
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// HandleAccountTransactions handles GET .../accounts/{userID}/transactions?limit=N
func (s *Service) HandleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	entries, err := s.AccountHistory(r.Context(), account.KeyFromRequest(r), limit)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

// HandleListInstruments handles GET /api/v1/instruments
func (s *Service) HandleListInstruments(w http.ResponseWriter, r *http.Request) {
	insts, err := s.store.ListInstruments(r.Context())
	if err != nil {
		httpx.Fail(w, r, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err))
		return
	}
	if insts == nil {
		insts = []model.Instrument{}
	}
	httpx.WriteJSON(w, http.StatusOK, insts)
}

// HandleGetInstrument handles GET /api/v1/instruments/{ticker}
func (s *Service) HandleGetInstrument(w http.ResponseWriter, r *http.Request) {
	ticker, err := instrument.NormalizeTicker(chi.URLParam(r, "ticker"))
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	inst, err := s.store.GetInstrument(r.Context(), ticker)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Fail(w, r, fmt.Errorf("%w: %s", ErrInstrumentNotFound, ticker))
		return
	}
	if err != nil {
		httpx.Fail(w, r, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, inst)
}

// HandlePutInstrument handles PUT /api/v1/instruments/{ticker}. It is the
// adapter for the external price feed that owns instrument prices.
func (s *Service) HandlePutInstrument(w http.ResponseWriter, r *http.Request) {
	var req InstrumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	inst, err := instrument.New(chi.URLParam(r, "ticker"), req.Name, req.Price)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	inst.UpdatedAt = s.accounts.Now()
	if err := s.store.UpsertInstrument(r.Context(), inst); err != nil {
		httpx.Fail(w, r, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err))
		return
	}

	slog.Info("instrument priced",
		"ticker", inst.Ticker,
		"price", inst.CurrentPrice.String(),
	)
	httpx.WriteJSON(w, http.StatusOK, inst)
}

// HandleTickerTransactions handles GET /api/v1/instruments/{ticker}/transactions?limit=N
func (s *Service) HandleTickerTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	entries, err := s.TickerHistory(r.Context(), chi.URLParam(r, "ticker"), limit)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

func sortedTickers(portfolio map[string]model.Position) []string {
	tickers := make([]string, 0, len(portfolio))
	for t := range portfolio {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}
