package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starfall/economy-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// read-mostly queries: the instrument list, per-ticker log pages and price
// history. Accounts and single-instrument lookups always go to the primary
// so trading sees the price at the instant of the call.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveAccount(ctx context.Context, acct *model.Account, entries []model.TransactionLogEntry) error {
	if err := s.primary.SaveAccount(ctx, acct, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	keys := []string{accountLogKey(acct.Key)}
	for _, e := range entries {
		keys = append(keys, tickerLogKey(e.Ticker))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) UpsertInstrument(ctx context.Context, inst *model.Instrument) error {
	if err := s.primary.UpsertInstrument(ctx, inst); err != nil {
		return err
	}
	s.rdb.Del(ctx, instrumentsKey)
	return nil
}

func (s *CachedStore) RecordPriceSnapshot(ctx context.Context, snap model.PriceSnapshot) error {
	if err := s.primary.RecordPriceSnapshot(ctx, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, historyKey(snap.Ticker))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	var cached []model.Instrument
	if s.getJSON(ctx, instrumentsKey, &cached) {
		return cached, nil
	}

	insts, err := s.primary.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, instrumentsKey, insts)
	return insts, nil
}

// GetTransactionsByTicker caches the full newest-first log and slices it.
func (s *CachedStore) GetTransactionsByTicker(ctx context.Context, ticker string, limit int) ([]model.TransactionLogEntry, error) {
	var cached []model.TransactionLogEntry
	if !s.getJSON(ctx, tickerLogKey(ticker), &cached) {
		entries, err := s.primary.GetTransactionsByTicker(ctx, ticker, 0)
		if err != nil {
			return nil, err
		}
		s.setJSON(ctx, tickerLogKey(ticker), entries)
		cached = entries
	}
	return head(cached, limit), nil
}

func (s *CachedStore) GetTransactionsByAccount(ctx context.Context, key model.AccountKey, limit int) ([]model.TransactionLogEntry, error) {
	var cached []model.TransactionLogEntry
	if !s.getJSON(ctx, accountLogKey(key), &cached) {
		entries, err := s.primary.GetTransactionsByAccount(ctx, key, 0)
		if err != nil {
			return nil, err
		}
		s.setJSON(ctx, accountLogKey(key), entries)
		cached = entries
	}
	return head(cached, limit), nil
}

func (s *CachedStore) GetPriceHistory(ctx context.Context, ticker string, limit int) ([]model.PriceSnapshot, error) {
	var cached []model.PriceSnapshot
	if !s.getJSON(ctx, historyKey(ticker), &cached) {
		snaps, err := s.primary.GetPriceHistory(ctx, ticker, 0)
		if err != nil {
			return nil, err
		}
		s.setJSON(ctx, historyKey(ticker), snaps)
		cached = snaps
	}
	return head(cached, limit), nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) LoadAccount(ctx context.Context, key model.AccountKey) (*model.Account, error) {
	return s.primary.LoadAccount(ctx, key)
}

func (s *CachedStore) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	return s.primary.GetInstrument(ctx, ticker)
}

func (s *CachedStore) GetTickerVolume(ctx context.Context, ticker string, since time.Time) (*model.TickerVolume, error) {
	return s.primary.GetTickerVolume(ctx, ticker, since)
}

// --- Cache helpers ---

func (s *CachedStore) getJSON(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) setJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func head[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

const instrumentsKey = "instruments"

func tickerLogKey(ticker string) string {
	return fmt.Sprintf("txlog:ticker:%s", ticker)
}

func accountLogKey(k model.AccountKey) string {
	return fmt.Sprintf("txlog:account:%s:%s", k.RealmID, k.UserID)
}

func historyKey(ticker string) string {
	return fmt.Sprintf("history:%s", ticker)
}

var _ Store = (*CachedStore)(nil)
