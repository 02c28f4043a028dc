package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/httpx"
	"github.com/starfall/economy-engine/internal/limits"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store"
	"github.com/starfall/economy-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var alice = model.AccountKey{UserID: "alice", RealmID: "guild-1"}

var fixedNow = time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

// newTestEnv creates a trade Service over an in-memory store and a chi router.
func newTestEnv(t *testing.T, limiter *limits.PositionLimiter) (*trade.Service, *account.Manager, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	accounts := account.NewManager(ms, account.WithClock(func() time.Time { return fixedNow }))
	svc := trade.NewService(accounts, limiter)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/realms/{realmID}/accounts/{userID}", func(r chi.Router) {
			r.Post("/trades", svc.HandleTrade)
			r.Get("/portfolio", svc.HandlePortfolio)
			r.Get("/transactions", svc.HandleAccountTransactions)
		})
		r.Get("/instruments", svc.HandleListInstruments)
		r.Get("/instruments/{ticker}", svc.HandleGetInstrument)
		r.Put("/instruments/{ticker}", svc.HandlePutInstrument)
		r.Get("/instruments/{ticker}/transactions", svc.HandleTickerTransactions)
	})
	return svc, accounts, ms, r
}

func setPrice(t *testing.T, ms *store.MemoryStore, ticker string, price float64) {
	t.Helper()
	err := ms.UpsertInstrument(context.Background(), &model.Instrument{
		Ticker: ticker, Name: ticker, CurrentPrice: d(price),
	})
	if err != nil {
		t.Fatalf("failed to price %s: %v", ticker, err)
	}
}

func fund(t *testing.T, accounts *account.Manager, key model.AccountKey, stars float64) {
	t.Helper()
	_, err := accounts.Update(context.Background(), key, func(a *model.Account) ([]model.TransactionLogEntry, error) {
		a.StarsAvailable = d(stars)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("failed to fund account: %v", err)
	}
}

func doTrade(t *testing.T, router chi.Router, key model.AccountKey, req trade.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	path := "/api/v1/realms/" + key.RealmID + "/accounts/" + key.UserID + "/trades"
	httpReq := httptest.NewRequest("POST", path, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func ptr(p model.Position) *model.Position { return &p }

func assertPosition(t *testing.T, p *model.Position, qty int64, avg, basis float64) {
	t.Helper()
	if p == nil {
		t.Fatalf("expected position, got nil")
	}
	if p.Quantity != qty {
		t.Errorf("quantity = %d, want %d", p.Quantity, qty)
	}
	if !p.AvgCostPerUnit.Equal(d(avg)) {
		t.Errorf("avg cost = %s, want %v", p.AvgCostPerUnit, avg)
	}
	if !p.TotalCostBasis.Equal(d(basis)) {
		t.Errorf("cost basis = %s, want %v", p.TotalCostBasis, basis)
	}
}

// --- Trade execution tests ---

func TestTrade_AcmeScenario(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	ctx := context.Background()
	fund(t, accounts, alice, 1000)

	setPrice(t, ms, "ACME", 20)
	res, err := svc.Buy(ctx, alice, "ACME", 10)
	if err != nil {
		t.Fatalf("buy 1: %v", err)
	}
	if !res.NewBalance.Equal(d(800)) {
		t.Errorf("balance after buy 1 = %s, want 800", res.NewBalance)
	}
	assertPosition(t, res.Position, 10, 20, 200)

	setPrice(t, ms, "ACME", 30)
	res, err = svc.Buy(ctx, alice, "ACME", 10)
	if err != nil {
		t.Fatalf("buy 2: %v", err)
	}
	if !res.NewBalance.Equal(d(500)) {
		t.Errorf("balance after buy 2 = %s, want 500", res.NewBalance)
	}
	assertPosition(t, res.Position, 20, 25, 500)

	setPrice(t, ms, "ACME", 40)
	res, err = svc.Sell(ctx, alice, "ACME", 5)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !res.NewBalance.Equal(d(700)) {
		t.Errorf("balance after sell = %s, want 700", res.NewBalance)
	}
	assertPosition(t, res.Position, 15, 25, 375)

	acct, _ := accounts.Get(ctx, alice)
	stored := acct.Portfolio["ACME"]
	assertPosition(t, &stored, 15, 25, 375)
}

func TestTrade_OverSellLeavesStateUnchanged(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	ctx := context.Background()
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 20)
	if _, err := svc.Buy(ctx, alice, "ACME", 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	before, _ := accounts.Get(ctx, alice)

	_, err := svc.Sell(ctx, alice, "ACME", 11)
	if !errors.Is(err, trade.ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}

	after, _ := accounts.Get(ctx, alice)
	if !after.StarsAvailable.Equal(before.StarsAvailable) {
		t.Errorf("balance changed: %s -> %s", before.StarsAvailable, after.StarsAvailable)
	}
	assertPosition(t, ptr(after.Portfolio["ACME"]), 10, 20, 200)
	if after.Version != before.Version {
		t.Errorf("rejected sell must not write, version %d -> %d", before.Version, after.Version)
	}
}

func TestTrade_FullSellRemovesPosition(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	ctx := context.Background()
	fund(t, accounts, alice, 100)
	setPrice(t, ms, "ACME", 3.5)

	if _, err := svc.Buy(ctx, alice, "ACME", 7); err != nil {
		t.Fatalf("buy: %v", err)
	}
	res, err := svc.Sell(ctx, alice, "ACME", 7)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if res.Position != nil {
		t.Errorf("expected nil position after full sale, got %+v", res.Position)
	}
	acct, _ := accounts.Get(ctx, alice)
	if _, ok := acct.Portfolio["ACME"]; ok {
		t.Error("position should be removed from the portfolio")
	}
	if !acct.StarsAvailable.Equal(d(100)) {
		t.Errorf("balance = %s, want 100", acct.StarsAvailable)
	}
}

func TestTrade_InsufficientFunds(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	fund(t, accounts, alice, 99.99)
	setPrice(t, ms, "ACME", 10)

	_, err := svc.Buy(context.Background(), alice, "ACME", 10)
	if !errors.Is(err, trade.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestTrade_ValidationErrors(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	ctx := context.Background()
	fund(t, accounts, alice, 100)
	setPrice(t, ms, "ACME", 10)

	if _, err := svc.Buy(ctx, alice, "ACME", 0); !errors.Is(err, trade.ErrInvalidQuantity) {
		t.Errorf("qty 0: expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := svc.Sell(ctx, alice, "ACME", -1); !errors.Is(err, trade.ErrInvalidQuantity) {
		t.Errorf("qty -1: expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := svc.Buy(ctx, alice, "NOPE", 1); !errors.Is(err, trade.ErrInstrumentNotFound) {
		t.Errorf("unknown ticker: expected ErrInstrumentNotFound, got %v", err)
	}
	if _, err := svc.Sell(ctx, alice, "ACME", 1); !errors.Is(err, trade.ErrInstrumentNotHeld) {
		t.Errorf("not held: expected ErrInstrumentNotHeld, got %v", err)
	}
	if _, err := svc.Execute(ctx, "HOLD", alice, "ACME", 1); !errors.Is(err, trade.ErrInvalidSide) {
		t.Errorf("bad side: expected ErrInvalidSide, got %v", err)
	}
}

func TestTrade_TickerIsNormalized(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	fund(t, accounts, alice, 100)
	setPrice(t, ms, "ACME", 10)

	res, err := svc.Buy(context.Background(), alice, " acme ", 1)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Ticker != "ACME" {
		t.Errorf("ticker = %q, want ACME", res.Ticker)
	}
}

func TestTrade_ConcurrentBuysCannotOverdraw(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 600)

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = svc.Buy(context.Background(), alice, "ACME", 1)
			return nil
		})
	}
	g.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, trade.ErrInsufficientFunds):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one ErrInsufficientFunds, got ok=%d insufficient=%d", ok, insufficient)
	}

	acct, _ := accounts.Get(context.Background(), alice)
	if !acct.StarsAvailable.Equal(d(400)) {
		t.Errorf("balance = %s, want 400", acct.StarsAvailable)
	}
	if acct.Portfolio["ACME"].Quantity != 1 {
		t.Errorf("quantity = %d, want 1", acct.Portfolio["ACME"].Quantity)
	}
}

func TestTrade_LogEntryWrittenWithTrade(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	ctx := context.Background()
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 20)

	res, err := svc.Buy(ctx, alice, "ACME", 10)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := svc.Sell(ctx, alice, "ACME", 4); err != nil {
		t.Fatalf("sell: %v", err)
	}

	entries, err := ms.GetTransactionsByTicker(ctx, "ACME", 0)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	buy := entries[1]
	if buy.ID != res.TradeID {
		t.Errorf("log id = %s, want %s", buy.ID, res.TradeID)
	}
	if buy.Side != model.SideBuy || buy.Quantity != 10 {
		t.Errorf("unexpected buy entry: %+v", buy)
	}
	if !buy.PricePerUnit.Equal(d(20)) || !buy.TotalValue.Equal(d(200)) {
		t.Errorf("buy price=%s total=%s", buy.PricePerUnit, buy.TotalValue)
	}
	if !buy.Timestamp.Equal(fixedNow) {
		t.Errorf("timestamp = %v, want %v", buy.Timestamp, fixedNow)
	}
	if entries[0].Side != model.SideSell || !entries[0].TotalValue.Equal(d(80)) {
		t.Errorf("unexpected sell entry: %+v", entries[0])
	}
}

func TestTrade_FailedSaveWritesNothing(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, nil)
	ctx := context.Background()
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 20)

	ms.FailNextSave(errors.New("connection reset"))
	_, err := svc.Buy(ctx, alice, "ACME", 1)
	if !errors.Is(err, account.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	acct, _ := accounts.Get(ctx, alice)
	if !acct.StarsAvailable.Equal(d(1000)) || len(acct.Portfolio) != 0 {
		t.Errorf("partial state persisted: %+v", acct)
	}
	entries, _ := ms.GetTransactionsByTicker(ctx, "ACME", 0)
	if len(entries) != 0 {
		t.Errorf("expected no log entries, got %d", len(entries))
	}
}

func TestTrade_PositionLimit(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, limits.NewPositionLimiter(10, 0))
	ctx := context.Background()
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 1)

	if _, err := svc.Buy(ctx, alice, "ACME", 10); err != nil {
		t.Fatalf("buy at limit should succeed: %v", err)
	}
	_, err := svc.Buy(ctx, alice, "ACME", 1)
	if !errors.Is(err, limits.ErrPositionLimitExceeded) {
		t.Fatalf("expected ErrPositionLimitExceeded, got %v", err)
	}
}

func TestTrade_DailyVolumeLimit(t *testing.T) {
	svc, accounts, ms, _ := newTestEnv(t, limits.NewPositionLimiter(0, 15))
	ctx := context.Background()
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 1)

	if _, err := svc.Buy(ctx, alice, "ACME", 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := svc.Sell(ctx, alice, "ACME", 5); err != nil {
		t.Fatalf("sell: %v", err)
	}
	_, err := svc.Sell(ctx, alice, "ACME", 1)
	if !errors.Is(err, limits.ErrDailyVolumeExceeded) {
		t.Fatalf("expected ErrDailyVolumeExceeded, got %v", err)
	}

	acct, _ := accounts.Get(ctx, alice)
	want := model.DailyVolume{Day: "2026-10-19", Bought: 10, Sold: 5}
	if acct.DailyVolume != want {
		t.Errorf("daily volume = %+v, want %+v", acct.DailyVolume, want)
	}
}

// --- HTTP tests ---

func TestHandleTrade_BuyAndSell(t *testing.T) {
	_, accounts, ms, router := newTestEnv(t, nil)
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 20)

	w := doTrade(t, router, alice, trade.TradeRequest{Ticker: "ACME", Side: model.SideBuy, Quantity: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp trade.Result
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TradeID == "" {
		t.Error("expected non-empty trade_id")
	}
	if !resp.NewBalance.Equal(d(800)) {
		t.Errorf("new_balance = %s, want 800", resp.NewBalance)
	}

	w = doTrade(t, router, alice, trade.TradeRequest{Ticker: "ACME", Side: model.SideSell, Quantity: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp = trade.Result{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Position != nil {
		t.Errorf("expected null position after full sale, got %+v", resp.Position)
	}
}

func TestHandleTrade_ErrorStatuses(t *testing.T) {
	_, accounts, ms, router := newTestEnv(t, nil)
	fund(t, accounts, alice, 10)
	setPrice(t, ms, "ACME", 20)

	tests := []struct {
		name   string
		req    trade.TradeRequest
		status int
		code   string
	}{
		{"zero quantity", trade.TradeRequest{Ticker: "ACME", Side: model.SideBuy, Quantity: 0}, http.StatusBadRequest, "InvalidQuantity"},
		{"bad side", trade.TradeRequest{Ticker: "ACME", Side: "YES", Quantity: 1}, http.StatusBadRequest, "InvalidSide"},
		{"bad ticker", trade.TradeRequest{Ticker: "$$$", Side: model.SideBuy, Quantity: 1}, http.StatusBadRequest, "InvalidTicker"},
		{"unknown ticker", trade.TradeRequest{Ticker: "NOPE", Side: model.SideBuy, Quantity: 1}, http.StatusNotFound, "InstrumentNotFound"},
		{"insufficient funds", trade.TradeRequest{Ticker: "ACME", Side: model.SideBuy, Quantity: 1}, http.StatusConflict, "InsufficientFunds"},
		{"not held", trade.TradeRequest{Ticker: "ACME", Side: model.SideSell, Quantity: 1}, http.StatusConflict, "InstrumentNotHeld"},
	}
	for _, tt := range tests {
		w := doTrade(t, router, alice, tt.req)
		if w.Code != tt.status {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.status, w.Code, w.Body.String())
			continue
		}
		var body httpx.ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &body)
		if body.Code != tt.code {
			t.Errorf("%s: code = %q, want %q", tt.name, body.Code, tt.code)
		}
	}
}

func TestHandlePortfolio_MarkToMarket(t *testing.T) {
	svc, accounts, ms, router := newTestEnv(t, nil)
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 20)
	setPrice(t, ms, "BOLT", 5)
	if _, err := svc.Buy(context.Background(), alice, "ACME", 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := svc.Buy(context.Background(), alice, "BOLT", 4); err != nil {
		t.Fatalf("buy: %v", err)
	}
	setPrice(t, ms, "ACME", 26)

	req := httptest.NewRequest("GET", "/api/v1/realms/guild-1/accounts/alice/portfolio", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var p trade.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if len(p.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(p.Positions))
	}
	acme := p.Positions[0]
	if acme.Ticker != "ACME" || !acme.CurrentValue.Equal(d(260)) || !acme.UnrealizedPnL.Equal(d(60)) {
		t.Errorf("unexpected ACME valuation: %+v", acme)
	}
	if !p.TotalCostBasis.Equal(d(220)) {
		t.Errorf("total cost basis = %s, want 220", p.TotalCostBasis)
	}
	if !p.TotalPnL.Equal(d(60)) {
		t.Errorf("total pnl = %s, want 60", p.TotalPnL)
	}
}

func TestHandlePortfolio_Empty(t *testing.T) {
	_, _, _, router := newTestEnv(t, nil)

	req := httptest.NewRequest("GET", "/api/v1/realms/guild-1/accounts/nobody/portfolio", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var p trade.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if len(p.Positions) != 0 {
		t.Errorf("expected 0 positions, got %d", len(p.Positions))
	}
}

func TestHandleInstruments_PutAndGet(t *testing.T) {
	_, _, _, router := newTestEnv(t, nil)

	body, _ := json.Marshal(trade.InstrumentRequest{Name: "Acme Corp", Price: d(12.5)})
	req := httptest.NewRequest("PUT", "/api/v1/instruments/acme", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/instruments/ACME", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var inst model.Instrument
	json.Unmarshal(w.Body.Bytes(), &inst)
	if inst.Ticker != "ACME" || !inst.CurrentPrice.Equal(d(12.5)) {
		t.Errorf("unexpected instrument: %+v", inst)
	}

	body, _ = json.Marshal(trade.InstrumentRequest{Name: "Bad", Price: d(0)})
	req = httptest.NewRequest("PUT", "/api/v1/instruments/BAD", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero price, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/instruments/MISSING", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleTransactions(t *testing.T) {
	svc, accounts, ms, router := newTestEnv(t, nil)
	fund(t, accounts, alice, 1000)
	setPrice(t, ms, "ACME", 1)
	for i := 0; i < 3; i++ {
		if _, err := svc.Buy(context.Background(), alice, "ACME", 1); err != nil {
			t.Fatalf("buy: %v", err)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/realms/guild-1/accounts/alice/transactions?limit=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var entries []model.TransactionLogEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}

	req = httptest.NewRequest("GET", "/api/v1/instruments/ACME/transactions", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	entries = nil
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 3 {
		t.Errorf("expected 3 entries, got %d", len(entries))
	}

	req = httptest.NewRequest("GET", "/api/v1/instruments/ACME/transactions?limit=x", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}
