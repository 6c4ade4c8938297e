package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGStore persists contracts in the contract_discounts table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a Store backed by a pgx connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const upsertDiscountSQL = `INSERT INTO contract_discounts (supplier, category, country, percent, updated_at)
VALUES ($1, $2, $3, $4::numeric, now())
ON CONFLICT (supplier, category, country) DO UPDATE SET percent = EXCLUDED.percent, updated_at = now()`

// UpsertDiscounts writes the whole batch in a single transaction.
func (s *PGStore) UpsertDiscounts(ctx context.Context, supplier string, entries []Entry) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	supplier, entries = Normalize(supplier, entries)
	if err := Validate(supplier, entries); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(upsertDiscountSQL, supplier, e.Category, e.Country, e.Percent.String())
	}
	results := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert discount: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Lookup prefers the country-specific row over the row for every country.
func (s *PGStore) Lookup(ctx context.Context, supplier, category, country string) (decimal.Decimal, bool, error) {
	if s == nil || s.pool == nil {
		return decimal.Zero, false, ErrStoreUnavailable
	}
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT percent::text FROM contract_discounts
WHERE supplier = $1 AND category = $2 AND country IN ($3, '')
ORDER BY country DESC LIMIT 1`, supplier, category, country).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	pct, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse stored discount %q: %w", raw, err)
	}
	return pct, true, nil
}

// List implements Store.
func (s *PGStore) List(ctx context.Context, supplier string) ([]Entry, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT category, country, percent::text FROM contract_discounts
WHERE supplier = $1 ORDER BY category, country`, supplier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry Entry
			raw   string
		)
		if err := rows.Scan(&entry.Category, &entry.Country, &raw); err != nil {
			return nil, err
		}
		if entry.Percent, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("parse stored discount %q: %w", raw, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
