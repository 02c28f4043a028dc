// Package market samples instrument prices into the price history and
// derives traded-volume statistics from the transaction log. Nothing here
// feeds back into trade execution.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-co-op/gocron/v2"
	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/httpx"
	"github.com/starfall/economy-engine/internal/instrument"
	"github.com/starfall/economy-engine/internal/metrics"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store"
)

// DefaultWindow is the look-back of the volume gauges and of Stats when no
// window is given.
const DefaultWindow = 24 * time.Hour

const historyPoints = 50

var ErrInvalidWindow = errors.New("market: window must be a positive duration")

func init() {
	httpx.Register(http.StatusBadRequest, "InvalidWindow", ErrInvalidWindow)
}

// Collector snapshots prices and refreshes the market gauges.
type Collector struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

// NewCollector creates a collector over st. A non-positive window uses
// DefaultWindow.
func NewCollector(st store.Store, window time.Duration) *Collector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Collector{store: st, window: window, now: time.Now}
}

// Collect records one price snapshot per instrument and updates the price
// and volume gauges. A failure on one ticker does not stop the others.
func (c *Collector) Collect(ctx context.Context) error {
	insts, err := c.store.ListInstruments(ctx)
	if err != nil {
		return fmt.Errorf("market: list instruments: %w", err)
	}

	now := c.now().UTC()
	since := now.Add(-c.window)
	var errs []error
	for _, inst := range insts {
		snap := model.PriceSnapshot{Ticker: inst.Ticker, Price: inst.CurrentPrice, RecordedAt: now}
		if err := c.store.RecordPriceSnapshot(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", inst.Ticker, err))
			continue
		}
		price, _ := inst.CurrentPrice.Float64()
		metrics.InstrumentPrice.WithLabelValues(inst.Ticker).Set(price)

		vol, err := c.store.GetTickerVolume(ctx, inst.Ticker, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("volume %s: %w", inst.Ticker, err))
			continue
		}
		metrics.InstrumentVolume.WithLabelValues(inst.Ticker, "buy").Set(float64(vol.Bought))
		metrics.InstrumentVolume.WithLabelValues(inst.Ticker, "sell").Set(float64(vol.Sold))
	}

	slog.Debug("market stats collected", "instruments", len(insts), "errors", len(errs))
	return errors.Join(errs...)
}

// Run schedules Collect every interval until ctx is cancelled. The first
// run happens immediately.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("market: create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := c.Collect(ctx); err != nil {
				slog.Warn("market stats collection failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("market: schedule job: %w", err)
	}

	sched.Start()
	slog.Info("market stats scheduler started", "interval", interval.String())
	<-ctx.Done()
	return sched.Shutdown()
}

// Stats is the market view of one ticker.
type Stats struct {
	model.TickerVolume
	Name         string                `json:"name"`
	CurrentPrice decimal.Decimal       `json:"current_price"`
	Window       string                `json:"window"`
	History      []model.PriceSnapshot `json:"history"`
}

// Stats aggregates the log of ticker over the last window and attaches
// the most recent price snapshots.
func (c *Collector) Stats(ctx context.Context, rawTicker string, window time.Duration) (*Stats, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidWindow, window)
	}
	ticker, err := instrument.NormalizeTicker(rawTicker)
	if err != nil {
		return nil, err
	}
	inst, err := c.store.GetInstrument(ctx, ticker)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("instrument %s: %w", ticker, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err)
	}

	vol, err := c.store.GetTickerVolume(ctx, ticker, c.now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err)
	}
	history, err := c.store.GetPriceHistory(ctx, ticker, historyPoints)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", account.ErrStorageUnavailable, err)
	}
	if history == nil {
		history = []model.PriceSnapshot{}
	}
	return &Stats{
		TickerVolume: *vol,
		Name:         inst.Name,
		CurrentPrice: inst.CurrentPrice,
		Window:       window.String(),
		History:      history,
	}, nil
}

// HandleStats handles GET /api/v1/instruments/{ticker}/stats?window=24h
func (c *Collector) HandleStats(w http.ResponseWriter, r *http.Request) {
	window := DefaultWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			httpx.Fail(w, r, fmt.Errorf("%w: %s", ErrInvalidWindow, strconv.Quote(raw)))
			return
		}
		window = d
	}
	stats, err := c.Stats(r.Context(), chi.URLParam(r, "ticker"), window)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}
