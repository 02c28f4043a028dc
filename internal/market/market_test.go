package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/metrics"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store"
)

var now = time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func trade(ticker string, side model.Side, qty int64, price float64, at time.Time) model.TransactionLogEntry {
	return model.TransactionLogEntry{
		ID:           ticker + at.String() + string(side),
		Ticker:       ticker,
		UserID:       "u",
		RealmID:      "r",
		Side:         side,
		Quantity:     qty,
		PricePerUnit: d(price),
		TotalValue:   d(price).Mul(decimal.NewFromInt(qty)),
		Timestamp:    at,
	}
}

func newTestCollector(t *testing.T) (*Collector, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	for _, inst := range []model.Instrument{
		{Ticker: "MKTA", Name: "Market A", CurrentPrice: d(20)},
		{Ticker: "MKTB", Name: "Market B", CurrentPrice: d(5)},
	} {
		if err := ms.UpsertInstrument(ctx, &inst); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	acct := model.NewAccount(model.AccountKey{UserID: "u", RealmID: "r"})
	entries := []model.TransactionLogEntry{
		trade("MKTA", model.SideBuy, 100, 18, now.Add(-48*time.Hour)),
		trade("MKTA", model.SideSell, 3, 19, now.Add(-2*time.Hour)),
		trade("MKTA", model.SideBuy, 10, 20, now.Add(-time.Hour)),
	}
	if err := ms.SaveAccount(ctx, acct, entries); err != nil {
		t.Fatalf("save: %v", err)
	}

	c := NewCollector(ms, 0)
	c.now = func() time.Time { return now }
	return c, ms
}

func TestCollect(t *testing.T) {
	c, ms := newTestCollector(t)
	ctx := context.Background()

	if err := c.Collect(ctx); err != nil {
		t.Fatalf("collect: %v", err)
	}

	history, err := ms.GetPriceHistory(ctx, "MKTA", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || !history[0].Price.Equal(d(20)) || !history[0].RecordedAt.Equal(now) {
		t.Errorf("unexpected history: %+v", history)
	}

	if got := testutil.ToFloat64(metrics.InstrumentPrice.WithLabelValues("MKTA")); got != 20 {
		t.Errorf("price gauge = %v, want 20", got)
	}
	if got := testutil.ToFloat64(metrics.InstrumentVolume.WithLabelValues("MKTA", "buy")); got != 10 {
		t.Errorf("buy volume gauge = %v, want 10", got)
	}
	if got := testutil.ToFloat64(metrics.InstrumentVolume.WithLabelValues("MKTA", "sell")); got != 3 {
		t.Errorf("sell volume gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.InstrumentVolume.WithLabelValues("MKTB", "buy")); got != 0 {
		t.Errorf("MKTB buy volume gauge = %v, want 0", got)
	}
}

func TestStats(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()
	if err := c.Collect(ctx); err != nil {
		t.Fatalf("collect: %v", err)
	}

	s, err := c.Stats(ctx, "mkta", DefaultWindow)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Trades != 2 || s.Bought != 10 || s.Sold != 3 {
		t.Errorf("unexpected volume: %+v", s.TickerVolume)
	}
	if !s.BuyValue.Equal(d(200)) || !s.SellValue.Equal(d(57)) {
		t.Errorf("values buy=%s sell=%s", s.BuyValue, s.SellValue)
	}
	if len(s.History) != 1 {
		t.Errorf("expected 1 snapshot, got %d", len(s.History))
	}

	s, err = c.Stats(ctx, "MKTA", 72*time.Hour)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Bought != 110 {
		t.Errorf("72h bought = %d, want 110", s.Bought)
	}

	if _, err := c.Stats(ctx, "MKTA", 0); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
	if _, err := c.Stats(ctx, "NOPE", time.Hour); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleStats(t *testing.T) {
	c, _ := newTestCollector(t)
	r := chi.NewRouter()
	r.Get("/instruments/{ticker}/stats", c.HandleStats)

	cases := []struct {
		path   string
		status int
	}{
		{"/instruments/MKTA/stats", http.StatusOK},
		{"/instruments/MKTA/stats?window=1h", http.StatusOK},
		{"/instruments/MKTA/stats?window=soon", http.StatusBadRequest},
		{"/instruments/MKTA/stats?window=-1h", http.StatusBadRequest},
		{"/instruments/GHOST/stats", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", tc.path, nil))
		if w.Code != tc.status {
			t.Errorf("%s: expected %d, got %d: %s", tc.path, tc.status, w.Code, w.Body.String())
		}
	}
}

func TestRunCollectsImmediately(t *testing.T) {
	c, ms := newTestCollector(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Hour) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		history, _ := ms.GetPriceHistory(context.Background(), "MKTB", 0)
		if len(history) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not run the first collection")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
