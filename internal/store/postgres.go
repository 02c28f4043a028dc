package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/model"
	"github.com/starfall/economy-engine/internal/store/migrations"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema files that have not run yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	files, err := readMigrations(migrations.Postgres, "postgres")
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range files {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO `+migrationTable+` (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, m.name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil // already applied
			}
			_, err = tx.Exec(ctx, m.up)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

// --- Accounts ---

func (s *PostgresStore) LoadAccount(ctx context.Context, key model.AccountKey) (*model.Account, error) {
	a := model.Account{Key: key}
	var (
		starsA, starsR, shardsA, shardsR string
		docs                             accountDocs
	)
	err := s.pool.QueryRow(ctx,
		`SELECT stars_available::TEXT, stars_reserved::TEXT,
		        shards_available::TEXT, shards_reserved::TEXT,
		        inventory, portfolio, luck,
		        volume_day, volume_bought, volume_sold,
		        streak_count, streak_day,
		        version, created_at, updated_at
		 FROM accounts WHERE user_id = $1 AND realm_id = $2`,
		key.UserID, key.RealmID).
		Scan(&starsA, &starsR, &shardsA, &shardsR,
			&docs.inventory, &docs.portfolio, &docs.luck,
			&a.DailyVolume.Day, &a.DailyVolume.Bought, &a.DailyVolume.Sold,
			&a.Streak.Count, &a.Streak.LastClaimDay,
			&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewAccount(key), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", key, err)
	}

	a.StarsAvailable, _ = decimal.NewFromString(starsA)
	a.StarsReserved, _ = decimal.NewFromString(starsR)
	a.ShardsAvailable, _ = decimal.NewFromString(shardsA)
	a.ShardsReserved, _ = decimal.NewFromString(shardsR)
	if err := decodeAccountDocs(&a, docs); err != nil {
		return nil, fmt.Errorf("load account %s: %w", key, err)
	}
	return &a, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, acct *model.Account, entries []model.TransactionLogEntry) error {
	docs, err := encodeAccountDocs(acct)
	if err != nil {
		return err
	}
	var luck any
	if docs.luck != nil {
		luck = string(docs.luck)
	}

	now := time.Now().UTC()
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save account: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	args := []any{
		acct.Key.UserID, acct.Key.RealmID,
		acct.StarsAvailable.String(), acct.StarsReserved.String(),
		acct.ShardsAvailable.String(), acct.ShardsReserved.String(),
		string(docs.inventory), string(docs.portfolio), luck,
		acct.DailyVolume.Day, acct.DailyVolume.Bought, acct.DailyVolume.Sold,
		acct.Version, now,
		acct.Streak.Count, acct.Streak.LastClaimDay,
	}

	var query string
	if acct.Version == 0 {
		query = `INSERT INTO accounts (user_id, realm_id,
		            stars_available, stars_reserved, shards_available, shards_reserved,
		            inventory, portfolio, luck,
		            volume_day, volume_bought, volume_sold,
		            version, updated_at, streak_count, streak_day, created_at)
		         VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		                 $7::JSONB, $8::JSONB, $9::JSONB, $10, $11, $12, $13::BIGINT + 1, $14, $15, $16, $17)
		         ON CONFLICT (user_id, realm_id) DO NOTHING`
		args = append(args, createdAt)
	} else {
		query = `UPDATE accounts
		         SET stars_available = $3::NUMERIC, stars_reserved = $4::NUMERIC,
		             shards_available = $5::NUMERIC, shards_reserved = $6::NUMERIC,
		             inventory = $7::JSONB, portfolio = $8::JSONB, luck = $9::JSONB,
		             volume_day = $10, volume_bought = $11, volume_sold = $12,
		             version = $13::BIGINT + 1, updated_at = $14,
		             streak_count = $15, streak_day = $16
		         WHERE user_id = $1 AND realm_id = $2 AND version = $13::BIGINT`
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save account %s: %w", acct.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s at version %d", ErrVersionConflict, acct.Key, acct.Version)
	}

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transaction_log (id, ticker, user_id, realm_id, side, quantity, price_per_unit, total_value, timestamp)
			 VALUES ($1::UUID, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
			e.ID, e.Ticker, e.UserID, e.RealmID, string(e.Side), e.Quantity,
			e.PricePerUnit.String(), e.TotalValue.String(), e.Timestamp,
		); err != nil {
			return fmt.Errorf("append transaction log: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save account %s: %w", acct.Key, err)
	}

	acct.Version++
	acct.CreatedAt = createdAt
	acct.UpdatedAt = now
	return nil
}

// --- Instruments ---

func (s *PostgresStore) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	var inst model.Instrument
	var price string

	err := s.pool.QueryRow(ctx,
		`SELECT ticker, name, current_price::TEXT, updated_at
		 FROM instruments WHERE ticker = $1`, ticker).
		Scan(&inst.Ticker, &inst.Name, &price, &inst.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: instrument %s", ErrNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", ticker, err)
	}
	inst.CurrentPrice, _ = decimal.NewFromString(price)
	return &inst, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, name, current_price::TEXT, updated_at
		 FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		var price string
		if err := rows.Scan(&inst.Ticker, &inst.Name, &price, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		inst.CurrentPrice, _ = decimal.NewFromString(price)
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertInstrument(ctx context.Context, inst *model.Instrument) error {
	updatedAt := inst.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instruments (ticker, name, current_price, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (ticker) DO UPDATE
		 SET name = EXCLUDED.name, current_price = EXCLUDED.current_price, updated_at = EXCLUDED.updated_at`,
		inst.Ticker, inst.Name, inst.CurrentPrice.String(), updatedAt,
	)
	return err
}

func (s *PostgresStore) RecordPriceSnapshot(ctx context.Context, snap model.PriceSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instrument_price_history (ticker, price, recorded_at)
		 VALUES ($1, $2::NUMERIC, $3)`,
		snap.Ticker, snap.Price.String(), snap.RecordedAt,
	)
	return err
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, ticker string, limit int) ([]model.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, price::TEXT, recorded_at
		 FROM instrument_price_history WHERE ticker = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT NULLIF($2::BIGINT, 0)`, ticker, max(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PriceSnapshot
	for rows.Next() {
		var snap model.PriceSnapshot
		var price string
		if err := rows.Scan(&snap.Ticker, &price, &snap.RecordedAt); err != nil {
			return nil, err
		}
		snap.Price, _ = decimal.NewFromString(price)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// --- Transaction log ---

func (s *PostgresStore) GetTransactionsByTicker(ctx context.Context, ticker string, limit int) ([]model.TransactionLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, ticker, user_id, realm_id, side, quantity,
		        price_per_unit::TEXT, total_value::TEXT, timestamp
		 FROM transaction_log WHERE ticker = $1
		 ORDER BY timestamp DESC
		 LIMIT NULLIF($2::BIGINT, 0)`, ticker, max(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLogEntries(rows)
}

func (s *PostgresStore) GetTransactionsByAccount(ctx context.Context, key model.AccountKey, limit int) ([]model.TransactionLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, ticker, user_id, realm_id, side, quantity,
		        price_per_unit::TEXT, total_value::TEXT, timestamp
		 FROM transaction_log WHERE realm_id = $1 AND user_id = $2
		 ORDER BY timestamp DESC
		 LIMIT NULLIF($3::BIGINT, 0)`, key.RealmID, key.UserID, max(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLogEntries(rows)
}

func (s *PostgresStore) GetTickerVolume(ctx context.Context, ticker string, since time.Time) (*model.TickerVolume, error) {
	v := &model.TickerVolume{Ticker: ticker, Since: since}
	var buyValue, sellValue string

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(quantity) FILTER (WHERE side = 'BUY'), 0)::BIGINT,
		        COALESCE(SUM(quantity) FILTER (WHERE side = 'SELL'), 0)::BIGINT,
		        COALESCE(SUM(total_value) FILTER (WHERE side = 'BUY'), 0)::TEXT,
		        COALESCE(SUM(total_value) FILTER (WHERE side = 'SELL'), 0)::TEXT
		 FROM transaction_log WHERE ticker = $1 AND timestamp >= $2`, ticker, since).
		Scan(&v.Trades, &v.Bought, &v.Sold, &buyValue, &sellValue)
	if err != nil {
		return nil, fmt.Errorf("ticker volume %s: %w", ticker, err)
	}
	v.BuyValue, _ = decimal.NewFromString(buyValue)
	v.SellValue, _ = decimal.NewFromString(sellValue)
	return v, nil
}

// pgxRows is the subset of pgx.Rows used by scanLogEntries.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLogEntries(rows pgxRows) ([]model.TransactionLogEntry, error) {
	var entries []model.TransactionLogEntry
	for rows.Next() {
		var e model.TransactionLogEntry
		var side, priceS, totalS string

		if err := rows.Scan(&e.ID, &e.Ticker, &e.UserID, &e.RealmID, &side,
			&e.Quantity, &priceS, &totalS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Side = model.Side(side)
		e.PricePerUnit, _ = decimal.NewFromString(priceS)
		e.TotalValue, _ = decimal.NewFromString(totalS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
