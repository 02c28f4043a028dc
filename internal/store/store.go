// Package store defines the persistence interface for the economy engine.
// Implementations include PostgreSQL (shared source of truth), SQLite
// (single-node embedded), Redis (read-through cache over either), and
// in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/starfall/economy-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict is returned by SaveAccount when the stored version
	// no longer matches the version the account was loaded at.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Store is the persistence interface. Every account write is version
// checked, so several engine instances can share one database.
type Store interface {
	// --- Accounts ---

	// LoadAccount returns the account for key. An account that was never
	// saved is returned empty with Version 0.
	LoadAccount(ctx context.Context, key model.AccountKey) (*model.Account, error)

	// SaveAccount persists acct together with entries in one transaction.
	// The write only succeeds if the stored version still equals
	// acct.Version, otherwise ErrVersionConflict is returned and nothing is
	// written. On success acct.Version and acct.UpdatedAt are advanced.
	SaveAccount(ctx context.Context, acct *model.Account, entries []model.TransactionLogEntry) error

	// --- Instruments ---

	// GetInstrument returns the instrument for ticker or ErrNotFound.
	GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error)

	// ListInstruments returns all instruments ordered by ticker.
	ListInstruments(ctx context.Context) ([]model.Instrument, error)

	// UpsertInstrument creates or reprices an instrument.
	UpsertInstrument(ctx context.Context, inst *model.Instrument) error

	// RecordPriceSnapshot appends one point of price history.
	RecordPriceSnapshot(ctx context.Context, snap model.PriceSnapshot) error

	// GetPriceHistory returns the newest snapshots of ticker, newest first.
	GetPriceHistory(ctx context.Context, ticker string, limit int) ([]model.PriceSnapshot, error)

	// --- Transaction log (append-only) ---

	// GetTransactionsByTicker returns log entries for ticker, newest first.
	// A limit <= 0 returns everything.
	GetTransactionsByTicker(ctx context.Context, ticker string, limit int) ([]model.TransactionLogEntry, error)

	// GetTransactionsByAccount returns log entries for one account, newest first.
	GetTransactionsByAccount(ctx context.Context, key model.AccountKey, limit int) ([]model.TransactionLogEntry, error)

	// GetTickerVolume aggregates the log of ticker from since until now.
	GetTickerVolume(ctx context.Context, ticker string, since time.Time) (*model.TickerVolume, error)
}
