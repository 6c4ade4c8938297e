package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// PGRepository persists orders in the transferred_orders table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a Repository backed by pgx.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert implements Repository.
func (r *PGRepository) Insert(ctx context.Context, order TransferredOrder) error {
	if r == nil || r.pool == nil {
		return ErrStoreUnavailable
	}
	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(order.Shipping)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO transferred_orders
(id, session_digest, buyer_domain, buyer_identity, payload_id, lines, shipping, total, currency, generated_at, delivered_at, attempts, direct)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13)`,
		order.ID, order.SessionDigest, order.BuyerDomain, order.BuyerIdentity, order.PayloadID, lines, shipping,
		order.Total.String(), order.Currency, order.GeneratedAt, order.DeliveredAt, order.Attempts, order.Direct)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyRecorded
		}
		return err
	}
	return nil
}

// BySession implements Repository.
func (r *PGRepository) BySession(ctx context.Context, digest string) (TransferredOrder, error) {
	if r == nil || r.pool == nil {
		return TransferredOrder{}, ErrStoreUnavailable
	}
	var order TransferredOrder
	var lines, shipping []byte
	var total string
	err := r.pool.QueryRow(ctx, `SELECT id, session_digest, buyer_domain, buyer_identity, payload_id, lines, shipping,
total::text, currency, generated_at, delivered_at, attempts, direct
FROM transferred_orders WHERE session_digest = $1`, digest).Scan(
		&order.ID, &order.SessionDigest, &order.BuyerDomain, &order.BuyerIdentity, &order.PayloadID, &lines, &shipping,
		&total, &order.Currency, &order.GeneratedAt, &order.DeliveredAt, &order.Attempts, &order.Direct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransferredOrder{}, ErrNotFound
		}
		return TransferredOrder{}, err
	}
	if err := json.Unmarshal(lines, &order.Lines); err != nil {
		return TransferredOrder{}, fmt.Errorf("decode lines: %w", err)
	}
	if err := json.Unmarshal(shipping, &order.Shipping); err != nil {
		return TransferredOrder{}, fmt.Errorf("decode shipping: %w", err)
	}
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return TransferredOrder{}, fmt.Errorf("decode total: %w", err)
	}
	return order, nil
}
