// Package limits implements optional per-account trading limits: a cap on
// units held per ticker and a cap on units traded per UTC day.
//
// The daily counter lives on the Account (model.DailyVolume) so it is
// persisted and versioned together with the trade that moves it.
package limits

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/starfall/economy-engine/internal/model"
)

var (
	// ErrPositionLimitExceeded is returned when a buy would push a single
	// ticker's holding beyond MaxPerTicker.
	ErrPositionLimitExceeded = errors.New("limits: position limit exceeded")

	// ErrDailyVolumeExceeded is returned when a trade would push the units
	// bought plus sold today beyond MaxDailyVolume.
	ErrDailyVolumeExceeded = errors.New("limits: daily trade volume exceeded")
)

// DayLayout is the format of model.DailyVolume.Day.
const DayLayout = "2006-01-02"

// PositionLimiter enforces the limits. A zero field disables that limit and
// a nil *PositionLimiter allows everything.
type PositionLimiter struct {
	// MaxPerTicker is the maximum quantity held of any single ticker.
	MaxPerTicker int64

	// MaxDailyVolume is the maximum units bought plus sold per UTC day.
	MaxDailyVolume int64
}

// NewPositionLimiter creates a limiter. Non-positive values disable a limit.
func NewPositionLimiter(maxPerTicker, maxDailyVolume int64) *PositionLimiter {
	return &PositionLimiter{
		MaxPerTicker:   max(maxPerTicker, 0),
		MaxDailyVolume: max(maxDailyVolume, 0),
	}
}

// CheckLimit validates a trade of qty units on a position currently holding
// held units. side decides whether the position limit applies (buys only).
// Returns nil if the trade is within limits.
func (l *PositionLimiter) CheckLimit(side model.Side, held, qty int64, vol model.DailyVolume, now time.Time) error {
	if l == nil {
		return nil
	}
	if side == model.SideBuy && l.MaxPerTicker > 0 && qty > l.MaxPerTicker-held {
		return fmt.Errorf("%w: holding %d, buying %d, max %d", ErrPositionLimitExceeded, held, qty, l.MaxPerTicker)
	}
	if l.MaxDailyVolume > 0 {
		today := Rollover(vol, now)
		if traded := addCapped(today.Bought, today.Sold); qty > l.MaxDailyVolume-min(traded, l.MaxDailyVolume) {
			return fmt.Errorf("%w: traded %d today, adding %d, max %d", ErrDailyVolumeExceeded, traded, qty, l.MaxDailyVolume)
		}
	}
	return nil
}

// Rollover returns vol reset to zero if it belongs to a day before now.
func Rollover(vol model.DailyVolume, now time.Time) model.DailyVolume {
	day := now.UTC().Format(DayLayout)
	if vol.Day != day {
		return model.DailyVolume{Day: day}
	}
	return vol
}

// Record adds qty units on side to the account's counter for now's day.
func Record(acct *model.Account, side model.Side, qty int64, now time.Time) {
	vol := Rollover(acct.DailyVolume, now)
	switch side {
	case model.SideBuy:
		vol.Bought = addCapped(vol.Bought, qty)
	case model.SideSell:
		vol.Sold = addCapped(vol.Sold, qty)
	}
	acct.DailyVolume = vol
}

// addCapped adds two non-negative counts, saturating at math.MaxInt64.
func addCapped(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}
