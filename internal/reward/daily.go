package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/httpx"
	"github.com/starfall/economy-engine/internal/model"
)

const dayLayout = "2006-01-02"

var (
	ErrAlreadyClaimed = errors.New("reward: daily reward already claimed today")
	ErrNoDailyRewards = errors.New("reward: no daily rewards configured")
)

func init() {
	httpx.Register(http.StatusConflict, "AlreadyClaimed", ErrAlreadyClaimed)
	httpx.Register(http.StatusNotFound, "NoDailyRewards", ErrNoDailyRewards)
}

// DailyClaim is the outcome of one daily claim.
type DailyClaim struct {
	Streak       int64            `json:"streak"`
	CycleDay     int              `json:"cycle_day"`
	Kind         model.RewardKind `json:"kind"`
	Currency     model.Currency   `json:"currency,omitempty"`
	ItemID       string           `json:"item_id,omitempty"`
	Quantity     int64            `json:"quantity"`
	NextClaimDay string           `json:"next_claim_day"`
}

// ClaimDaily grants the reward for the account's next streak day. Claiming
// on the UTC day after the previous claim extends the streak; a missed day
// restarts it at 1. One claim per UTC day.
func (s *Service) ClaimDaily(ctx context.Context, key model.AccountKey) (*DailyClaim, error) {
	cycle := s.catalog.DailyRewards()
	if len(cycle) == 0 {
		return nil, ErrNoDailyRewards
	}

	var claim *DailyClaim
	_, err := s.accounts.Update(ctx, key, func(a *model.Account) ([]model.TransactionLogEntry, error) {
		now := s.accounts.Now()
		today := now.Format(dayLayout)
		if a.Streak.LastClaimDay == today {
			return nil, fmt.Errorf("%w: next claim on %s", ErrAlreadyClaimed, nextDay(now))
		}

		streak := int64(1)
		if a.Streak.LastClaimDay == now.AddDate(0, 0, -1).Format(dayLayout) {
			streak = a.Streak.Count + 1
		}
		dr := cycle[(streak-1)%int64(len(cycle))]
		qty := rollQuantity(dr.Reward, s.src)
		if err := grant(a, dr.Reward, qty); err != nil {
			return nil, err
		}
		a.Streak = model.DailyStreak{Count: streak, LastClaimDay: today}

		claim = &DailyClaim{
			Streak:       streak,
			CycleDay:     dr.Day,
			Kind:         dr.Reward.Kind,
			Currency:     dr.Reward.Currency,
			ItemID:       dr.Reward.ItemID,
			Quantity:     qty,
			NextClaimDay: nextDay(now),
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("daily reward claimed",
		"account", key.String(),
		"streak", claim.Streak,
		"day", claim.CycleDay,
		"kind", string(claim.Kind),
		"item", claim.ItemID,
		"qty", claim.Quantity,
	)
	return claim, nil
}

func nextDay(now time.Time) string {
	return now.AddDate(0, 0, 1).Format(dayLayout)
}

// HandleClaimDaily handles POST /api/v1/realms/{realmID}/accounts/{userID}/daily/claim
func (s *Service) HandleClaimDaily(w http.ResponseWriter, r *http.Request) {
	claim, err := s.ClaimDaily(r.Context(), account.KeyFromRequest(r))
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, claim)
}
