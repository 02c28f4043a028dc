package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store/migrations"
)

// SQLiteStore implements Store on an embedded SQLite file for single-node
// deployments. Decimals are stored as TEXT and timestamps as Unix millis.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// OpenSQLite opens the database at path and applies embedded migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	files, err := readMigrations(migrations.SQLite, "sqlite")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range files {
		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
				m.name, toMillis(time.Now()))
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return nil
			}
			_, err = tx.ExecContext(ctx, m.up)
			return err
		}); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Accounts ---

func (s *SQLiteStore) LoadAccount(ctx context.Context, key model.AccountKey) (*model.Account, error) {
	a := model.Account{Key: key}
	var (
		starsA, starsR, shardsA, shardsR string
		inventory, portfolio             string
		luck                             sql.NullString
		createdAt, updatedAt             int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT stars_available, stars_reserved, shards_available, shards_reserved,
		        inventory, portfolio, luck,
		        volume_day, volume_bought, volume_sold,
		        streak_count, streak_day,
		        version, created_at, updated_at
		 FROM accounts WHERE user_id = ? AND realm_id = ?`,
		key.UserID, key.RealmID).
		Scan(&starsA, &starsR, &shardsA, &shardsR,
			&inventory, &portfolio, &luck,
			&a.DailyVolume.Day, &a.DailyVolume.Bought, &a.DailyVolume.Sold,
			&a.Streak.Count, &a.Streak.LastClaimDay,
			&a.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewAccount(key), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", key, err)
	}

	a.StarsAvailable, _ = decimal.NewFromString(starsA)
	a.StarsReserved, _ = decimal.NewFromString(starsR)
	a.ShardsAvailable, _ = decimal.NewFromString(shardsA)
	a.ShardsReserved, _ = decimal.NewFromString(shardsR)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)

	docs := accountDocs{inventory: []byte(inventory), portfolio: []byte(portfolio)}
	if luck.Valid {
		docs.luck = []byte(luck.String)
	}
	if err := decodeAccountDocs(&a, docs); err != nil {
		return nil, fmt.Errorf("load account %s: %w", key, err)
	}
	return &a, nil
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, acct *model.Account, entries []model.TransactionLogEntry) error {
	docs, err := encodeAccountDocs(acct)
	if err != nil {
		return err
	}
	var luck sql.NullString
	if docs.luck != nil {
		luck = sql.NullString{String: string(docs.luck), Valid: true}
	}

	now := time.Now().UTC()
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if acct.Version == 0 {
			res, err = tx.ExecContext(ctx,
				`INSERT INTO accounts (user_id, realm_id,
				    stars_available, stars_reserved, shards_available, shards_reserved,
				    inventory, portfolio, luck,
				    volume_day, volume_bought, volume_sold,
				    streak_count, streak_day,
				    version, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
				 ON CONFLICT (user_id, realm_id) DO NOTHING`,
				acct.Key.UserID, acct.Key.RealmID,
				acct.StarsAvailable.String(), acct.StarsReserved.String(),
				acct.ShardsAvailable.String(), acct.ShardsReserved.String(),
				string(docs.inventory), string(docs.portfolio), luck,
				acct.DailyVolume.Day, acct.DailyVolume.Bought, acct.DailyVolume.Sold,
				acct.Streak.Count, acct.Streak.LastClaimDay,
				toMillis(createdAt), toMillis(now))
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE accounts
				 SET stars_available = ?, stars_reserved = ?, shards_available = ?, shards_reserved = ?,
				     inventory = ?, portfolio = ?, luck = ?,
				     volume_day = ?, volume_bought = ?, volume_sold = ?,
				     streak_count = ?, streak_day = ?,
				     version = version + 1, updated_at = ?
				 WHERE user_id = ? AND realm_id = ? AND version = ?`,
				acct.StarsAvailable.String(), acct.StarsReserved.String(),
				acct.ShardsAvailable.String(), acct.ShardsReserved.String(),
				string(docs.inventory), string(docs.portfolio), luck,
				acct.DailyVolume.Day, acct.DailyVolume.Bought, acct.DailyVolume.Sold,
				acct.Streak.Count, acct.Streak.LastClaimDay,
				toMillis(now),
				acct.Key.UserID, acct.Key.RealmID, acct.Version)
		}
		if err != nil {
			return fmt.Errorf("save account %s: %w", acct.Key, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: account %s at version %d", ErrVersionConflict, acct.Key, acct.Version)
		}

		for _, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transaction_log (id, ticker, user_id, realm_id, side, quantity, price_per_unit, total_value, timestamp)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.Ticker, e.UserID, e.RealmID, string(e.Side), e.Quantity,
				e.PricePerUnit.String(), e.TotalValue.String(), toMillis(e.Timestamp),
			); err != nil {
				return fmt.Errorf("append transaction log: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	acct.Version++
	acct.CreatedAt = createdAt
	acct.UpdatedAt = now
	return nil
}

// --- Instruments ---

func (s *SQLiteStore) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	var inst model.Instrument
	var price string
	var updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT ticker, name, current_price, updated_at FROM instruments WHERE ticker = ?`, ticker).
		Scan(&inst.Ticker, &inst.Name, &price, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: instrument %s", ErrNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", ticker, err)
	}
	inst.CurrentPrice, _ = decimal.NewFromString(price)
	inst.UpdatedAt = fromMillis(updatedAt)
	return &inst, nil
}

func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, name, current_price, updated_at FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		var price string
		var updatedAt int64
		if err := rows.Scan(&inst.Ticker, &inst.Name, &price, &updatedAt); err != nil {
			return nil, err
		}
		inst.CurrentPrice, _ = decimal.NewFromString(price)
		inst.UpdatedAt = fromMillis(updatedAt)
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertInstrument(ctx context.Context, inst *model.Instrument) error {
	updatedAt := inst.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instruments (ticker, name, current_price, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (ticker) DO UPDATE
		 SET name = excluded.name, current_price = excluded.current_price, updated_at = excluded.updated_at`,
		inst.Ticker, inst.Name, inst.CurrentPrice.String(), toMillis(updatedAt))
	return err
}

func (s *SQLiteStore) RecordPriceSnapshot(ctx context.Context, snap model.PriceSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instrument_price_history (ticker, price, recorded_at) VALUES (?, ?, ?)`,
		snap.Ticker, snap.Price.String(), toMillis(snap.RecordedAt))
	return err
}

func (s *SQLiteStore) GetPriceHistory(ctx context.Context, ticker string, limit int) ([]model.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, price, recorded_at FROM instrument_price_history
		 WHERE ticker = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`, ticker, sqliteLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PriceSnapshot
	for rows.Next() {
		var snap model.PriceSnapshot
		var price string
		var recordedAt int64
		if err := rows.Scan(&snap.Ticker, &price, &recordedAt); err != nil {
			return nil, err
		}
		snap.Price, _ = decimal.NewFromString(price)
		snap.RecordedAt = fromMillis(recordedAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// --- Transaction log ---

const sqliteLogColumns = `id, ticker, user_id, realm_id, side, quantity, price_per_unit, total_value, timestamp`

func (s *SQLiteStore) GetTransactionsByTicker(ctx context.Context, ticker string, limit int) ([]model.TransactionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLogColumns+` FROM transaction_log
		 WHERE ticker = ? ORDER BY timestamp DESC, seq DESC LIMIT ?`, ticker, sqliteLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteLog(rows)
}

func (s *SQLiteStore) GetTransactionsByAccount(ctx context.Context, key model.AccountKey, limit int) ([]model.TransactionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLogColumns+` FROM transaction_log
		 WHERE realm_id = ? AND user_id = ? ORDER BY timestamp DESC, seq DESC LIMIT ?`,
		key.RealmID, key.UserID, sqliteLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteLog(rows)
}

// GetTickerVolume sums in Go because values are stored as decimal TEXT.
func (s *SQLiteStore) GetTickerVolume(ctx context.Context, ticker string, since time.Time) (*model.TickerVolume, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLogColumns+` FROM transaction_log
		 WHERE ticker = ? AND timestamp >= ? ORDER BY seq`, ticker, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("ticker volume %s: %w", ticker, err)
	}
	defer rows.Close()

	entries, err := scanSQLiteLog(rows)
	if err != nil {
		return nil, fmt.Errorf("ticker volume %s: %w", ticker, err)
	}
	return volumeOf(ticker, since, entries), nil
}

// sqliteLimit maps "no limit" to SQLite's -1.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func scanSQLiteLog(rows *sql.Rows) ([]model.TransactionLogEntry, error) {
	var entries []model.TransactionLogEntry
	for rows.Next() {
		var e model.TransactionLogEntry
		var side, priceS, totalS string
		var ts int64
		if err := rows.Scan(&e.ID, &e.Ticker, &e.UserID, &e.RealmID, &side,
			&e.Quantity, &priceS, &totalS, &ts); err != nil {
			return nil, err
		}
		e.Side = model.Side(side)
		e.PricePerUnit, _ = decimal.NewFromString(priceS)
		e.TotalValue, _ = decimal.NewFromString(totalS)
		e.Timestamp = fromMillis(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
