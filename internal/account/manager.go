// Package account runs every mutating operation on an Account as one unit
// of work: load, mutate in memory, persist with a version check. Work on the
// same account is serialized in-process by a keyed mutex, and across
// processes by the store's optimistic version check with bounded
// reload-and-retry.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starfall/economy-engine/internal/metrics"
	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store"
)

var (
	ErrInvalidKey             = errors.New("account: user and realm are required")
	ErrConflictRetryExhausted = errors.New("account: conflict retry exhausted")
	ErrStorageUnavailable     = errors.New("account: storage unavailable")
)

// DefaultMaxAttempts bounds reload-and-retry on version conflicts.
const DefaultMaxAttempts = 5

// Mutation applies one operation to a freshly loaded account and returns
// the transaction log entries to persist with it. It may run more than once
// when a concurrent writer wins the version check, each time against a new
// copy, so it must derive everything from acct and its own inputs. Returning
// an error aborts the unit of work without writing.
type Mutation func(acct *model.Account) ([]model.TransactionLogEntry, error)

// Manager executes Mutations against the store.
type Manager struct {
	store       store.Store
	locks       *keyedMutex
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the initial backoff between conflicting attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithClock overrides time.Now, used for daily volume rollover in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over st.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       st,
		locks:       newKeyedMutex(),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  5 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying store for read-only queries.
func (m *Manager) Store() store.Store { return m.store }

// Now returns the manager's clock reading in UTC.
func (m *Manager) Now() time.Time { return m.now().UTC() }

// Get loads a snapshot of the account without locking.
func (m *Manager) Get(ctx context.Context, key model.AccountKey) (*model.Account, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}
	acct, err := m.store.LoadAccount(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return acct, nil
}

// Update runs fn as one unit of work on key and returns the persisted account.
func (m *Manager) Update(ctx context.Context, key model.AccountKey, fn Mutation) (*model.Account, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}

	unlock := m.locks.Lock(key)
	defer unlock()

	delay := m.retryDelay
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		acct, err := m.store.LoadAccount(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}

		entries, err := fn(acct)
		if err != nil {
			return nil, err
		}

		err = m.store.SaveAccount(ctx, acct, entries)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}

		metrics.VersionConflicts.Inc()
		slog.Warn("account version conflict",
			"account", key.String(),
			"attempt", attempt,
			"max_attempts", m.maxAttempts,
		)
		if attempt == m.maxAttempts {
			break
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
		if delay < 200*time.Millisecond {
			delay *= 2
		}
	}
	return nil, fmt.Errorf("%w: account %s after %d attempts", ErrConflictRetryExhausted, key, m.maxAttempts)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
