package reward_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/catalog"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/reward"
	"github.com/starfall/economy-engine/internal/store"
)

const dailyCatalog = `{
  "daily_rewards": [
    {"day": 1, "reward": {"kind": "CURRENCY", "currency": "stars", "quantity": 50}},
    {"day": 2, "reward": {"kind": "ITEM", "item_id": "fragment", "quantity": 2}},
    {"day": 3, "reward": {"kind": "CURRENCY", "currency": "shards", "quantity": 1}}
  ]
}`

func newDailyService(t *testing.T, clock *time.Time) (*reward.Service, *account.Manager) {
	t.Helper()
	cat, err := catalog.Parse([]byte(dailyCatalog))
	require.NoError(t, err)
	accounts := account.NewManager(store.NewMemoryStore(),
		account.WithClock(func() time.Time { return *clock }))
	return reward.NewService(accounts, cat, constSource{}), accounts
}

func TestClaimDaily_StreakAdvancesAndWraps(t *testing.T) {
	now := time.Date(2026, time.October, 19, 23, 30, 0, 0, time.UTC)
	svc, accounts := newDailyService(t, &now)
	ctx := context.Background()

	wantDays := []int{1, 2, 3, 1}
	for i, want := range wantDays {
		claim, err := svc.ClaimDaily(ctx, key)
		require.NoError(t, err)
		assert.EqualValues(t, i+1, claim.Streak)
		assert.Equal(t, want, claim.CycleDay)
		now = now.AddDate(0, 0, 1)
	}

	acct, err := accounts.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, acct.StarsAvailable.Equal(d("100")))
	assert.Equal(t, model.ItemStack{Available: 2}, acct.Inventory["fragment"])
	assert.True(t, acct.ShardsAvailable.Equal(d("1")))
	assert.Equal(t, model.DailyStreak{Count: 4, LastClaimDay: "2026-10-22"}, acct.Streak)
}

func TestClaimDaily_OncePerDay(t *testing.T) {
	now := time.Date(2026, time.October, 19, 0, 5, 0, 0, time.UTC)
	svc, accounts := newDailyService(t, &now)
	ctx := context.Background()

	_, err := svc.ClaimDaily(ctx, key)
	require.NoError(t, err)
	before, _ := accounts.Get(ctx, key)

	now = now.Add(23 * time.Hour)
	_, err = svc.ClaimDaily(ctx, key)
	assert.ErrorIs(t, err, reward.ErrAlreadyClaimed)

	after, _ := accounts.Get(ctx, key)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, after.StarsAvailable.Equal(d("50")))
}

func TestClaimDaily_MissedDayResets(t *testing.T) {
	now := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	svc, _ := newDailyService(t, &now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.ClaimDaily(ctx, key)
		require.NoError(t, err)
		now = now.AddDate(0, 0, 1)
	}
	now = now.AddDate(0, 0, 1)

	claim, err := svc.ClaimDaily(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, claim.Streak)
	assert.Equal(t, 1, claim.CycleDay)
	assert.Equal(t, "2026-10-23", claim.NextClaimDay)
}

func TestHandleClaimDaily(t *testing.T) {
	now := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	svc, _ := newDailyService(t, &now)
	r := chi.NewRouter()
	r.Post("/realms/{realmID}/accounts/{userID}/daily/claim", svc.HandleClaimDaily)

	claim := func() int {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/realms/r1/accounts/u1/daily/claim", nil))
		return rr.Code
	}
	assert.Equal(t, http.StatusOK, claim())
	assert.Equal(t, http.StatusConflict, claim())

	empty, _ := newTestService(t, constSource{})
	_, err := empty.ClaimDaily(context.Background(), key)
	assert.ErrorIs(t, err, reward.ErrNoDailyRewards)
}
