package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/starfall/economy-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[model.AccountKey]*model.Account
	instruments map[string]*model.Instrument
	history     []model.PriceSnapshot
	log         []model.TransactionLogEntry

	// failNext, when set, is returned by the next SaveAccount (tests only).
	failNext error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[model.AccountKey]*model.Account),
		instruments: make(map[string]*model.Instrument),
	}
}

// FailNextSave makes the next SaveAccount return err without writing.
func (s *MemoryStore) FailNextSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) LoadAccount(_ context.Context, key model.AccountKey) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[key]
	if !ok {
		return model.NewAccount(key), nil
	}
	return a.Clone(), nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, acct *model.Account, entries []model.TransactionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}

	var stored int64
	if cur, ok := s.accounts[acct.Key]; ok {
		stored = cur.Version
	}
	if stored != acct.Version {
		return fmt.Errorf("%w: account %s at version %d, loaded %d", ErrVersionConflict, acct.Key, stored, acct.Version)
	}

	now := time.Now().UTC()
	if acct.Version == 0 && acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.Version++
	acct.UpdatedAt = now

	s.accounts[acct.Key] = acct.Clone()
	s.log = append(s.log, entries...)
	return nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, ticker string) (*model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instruments[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: instrument %s", ErrNotFound, ticker)
	}
	copy := *inst
	return &copy, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (s *MemoryStore) UpsertInstrument(_ context.Context, inst *model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *inst
	if copy.UpdatedAt.IsZero() {
		copy.UpdatedAt = time.Now().UTC()
	}
	s.instruments[inst.Ticker] = &copy
	return nil
}

func (s *MemoryStore) RecordPriceSnapshot(_ context.Context, snap model.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, snap)
	return nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, ticker string, limit int) ([]model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PriceSnapshot
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Ticker == ticker {
			out = append(out, s.history[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTransactionsByTicker(_ context.Context, ticker string, limit int) ([]model.TransactionLogEntry, error) {
	return s.filterLog(limit, func(e model.TransactionLogEntry) bool { return e.Ticker == ticker }), nil
}

func (s *MemoryStore) GetTransactionsByAccount(_ context.Context, key model.AccountKey, limit int) ([]model.TransactionLogEntry, error) {
	return s.filterLog(limit, func(e model.TransactionLogEntry) bool {
		return e.UserID == key.UserID && e.RealmID == key.RealmID
	}), nil
}

func (s *MemoryStore) GetTickerVolume(_ context.Context, ticker string, since time.Time) (*model.TickerVolume, error) {
	entries := s.filterLog(0, func(e model.TransactionLogEntry) bool {
		return e.Ticker == ticker && !e.Timestamp.Before(since)
	})
	return volumeOf(ticker, since, entries), nil
}

// filterLog walks the log newest first. Entries are appended in commit
// order, so the slice is already sorted by time.
func (s *MemoryStore) filterLog(limit int, keep func(model.TransactionLogEntry) bool) []model.TransactionLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TransactionLogEntry
	for _, e := range slices.Backward(s.log) {
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
