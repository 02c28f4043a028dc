package limits

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/starfall/economy-engine/internal/model"
)

var noon = time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

func TestCheckLimit_WithinLimits(t *testing.T) {
	l := NewPositionLimiter(100, 500)
	err := l.CheckLimit(model.SideBuy, 40, 60, model.DailyVolume{}, noon)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PositionExceeded(t *testing.T) {
	l := NewPositionLimiter(100, 0)
	err := l.CheckLimit(model.SideBuy, 40, 61, model.DailyVolume{}, noon)
	if !errors.Is(err, ErrPositionLimitExceeded) {
		t.Fatalf("expected ErrPositionLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_SellIgnoresPositionCap(t *testing.T) {
	l := NewPositionLimiter(10, 0)
	if err := l.CheckLimit(model.SideSell, 50, 5, model.DailyVolume{}, noon); err != nil {
		t.Fatalf("sells reduce exposure and must pass, got %v", err)
	}
}

func TestCheckLimit_DailyVolumeExceeded(t *testing.T) {
	l := NewPositionLimiter(0, 100)
	vol := model.DailyVolume{Day: "2026-10-19", Bought: 60, Sold: 30}
	err := l.CheckLimit(model.SideSell, 50, 11, vol, noon)
	if !errors.Is(err, ErrDailyVolumeExceeded) {
		t.Fatalf("expected ErrDailyVolumeExceeded, got %v", err)
	}
	if err := l.CheckLimit(model.SideSell, 50, 10, vol, noon); err != nil {
		t.Fatalf("exactly at the cap should pass, got %v", err)
	}
}

func TestCheckLimit_YesterdayDoesNotCount(t *testing.T) {
	l := NewPositionLimiter(0, 100)
	vol := model.DailyVolume{Day: "2026-10-18", Bought: 100}
	if err := l.CheckLimit(model.SideBuy, 0, 100, vol, noon); err != nil {
		t.Fatalf("expected rollover to reset the counter, got %v", err)
	}
}

func TestCheckLimit_NilAndZeroDisable(t *testing.T) {
	var nilLimiter *PositionLimiter
	if err := nilLimiter.CheckLimit(model.SideBuy, 1<<40, 1<<40, model.DailyVolume{}, noon); err != nil {
		t.Fatalf("nil limiter must allow everything, got %v", err)
	}
	if err := NewPositionLimiter(0, -5).CheckLimit(model.SideBuy, 1<<40, 1<<40, model.DailyVolume{}, noon); err != nil {
		t.Fatalf("zero limits must allow everything, got %v", err)
	}
}

func TestRecord(t *testing.T) {
	a := model.NewAccount(model.AccountKey{UserID: "u", RealmID: "r"})
	a.DailyVolume = model.DailyVolume{Day: "2026-10-18", Bought: 7, Sold: 7}

	Record(a, model.SideBuy, 10, noon)
	Record(a, model.SideSell, 4, noon)

	want := model.DailyVolume{Day: "2026-10-19", Bought: 10, Sold: 4}
	if a.DailyVolume != want {
		t.Errorf("DailyVolume = %+v, want %+v", a.DailyVolume, want)
	}
}

func TestCheckLimit_NearMaxInt(t *testing.T) {
	l := NewPositionLimiter(100, 100)
	if err := l.CheckLimit(model.SideBuy, 50, math.MaxInt64, model.DailyVolume{}, noon); !errors.Is(err, ErrPositionLimitExceeded) {
		t.Fatalf("expected ErrPositionLimitExceeded, got %v", err)
	}
	vol := model.DailyVolume{Day: "2026-10-19", Bought: 40}
	if err := l.CheckLimit(model.SideSell, 0, math.MaxInt64, vol, noon); !errors.Is(err, ErrDailyVolumeExceeded) {
		t.Fatalf("expected ErrDailyVolumeExceeded, got %v", err)
	}
	vol = model.DailyVolume{Day: "2026-10-19", Bought: math.MaxInt64, Sold: math.MaxInt64}
	if err := l.CheckLimit(model.SideSell, 0, 1, vol, noon); !errors.Is(err, ErrDailyVolumeExceeded) {
		t.Fatalf("expected ErrDailyVolumeExceeded on a saturated counter, got %v", err)
	}
}

func TestRecord_Saturates(t *testing.T) {
	a := model.NewAccount(model.AccountKey{UserID: "u", RealmID: "r"})
	a.DailyVolume = model.DailyVolume{Day: "2026-10-19", Bought: math.MaxInt64 - 1}

	Record(a, model.SideBuy, 5, noon)

	if a.DailyVolume.Bought != math.MaxInt64 {
		t.Errorf("Bought = %d, want MaxInt64", a.DailyVolume.Bought)
	}
}
