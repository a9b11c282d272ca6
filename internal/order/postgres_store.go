package order

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists order data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, seller_id, listing_id, amount, status,
			pre_dispute_status, shipping_method, payment_ref, tracking_ref,
			payment_due_at, delivered_at, auto_complete_at, completed_at,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(12,2), $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17
		)`,
		o.ID, o.BuyerID, o.SellerID, nullString(o.ListingID), o.Amount, string(o.Status),
		nullString(string(o.PreDisputeStatus)), string(o.ShippingMethod), nullString(o.PaymentRef), nullString(o.TrackingRef),
		o.PaymentDueAt, nullTime(o.DeliveredAt), nullTime(o.AutoCompleteAt), nullTime(o.CompletedAt),
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

const orderColumns = `id, buyer_id, seller_id, listing_id, amount::TEXT, status,
		       pre_dispute_status, shipping_method, payment_ref, tracking_ref,
		       payment_due_at, delivered_at, auto_complete_at, completed_at,
		       version, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// Update persists the order and its transition in one transaction,
// guarded by the optimistic version check.
func (p *PostgresStore) Update(ctx context.Context, o *Order, tr *Transition) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, pre_dispute_status = $2, payment_ref = $3,
			tracking_ref = $4, delivered_at = $5, auto_complete_at = $6,
			completed_at = $7, version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`,
		string(o.Status), nullString(string(o.PreDisputeStatus)), nullString(o.PaymentRef),
		nullString(o.TrackingRef), nullTime(o.DeliveredAt), nullTime(o.AutoCompleteAt),
		nullTime(o.CompletedAt), o.UpdatedAt,
		o.ID, o.Version,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, o.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrConflict
		}
		return ErrOrderNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_transitions (id, order_id, from_status, to_status, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, tr.OrderID, string(tr.From), string(tr.To), tr.Actor, nullString(tr.Note), tr.CreatedAt,
	); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	o.Version++
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListAutoCompletable(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'delivered'
		  AND auto_complete_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListPaymentExpired(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending_payment'
		  AND payment_due_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) Transitions(ctx context.Context, orderID string) ([]*Transition, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, actor, COALESCE(note, ''), created_at
		FROM order_transitions
		WHERE order_id = $1
		ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transition
	for rows.Next() {
		t := &Transition{}
		var from, to string
		if err := rows.Scan(&t.ID, &t.OrderID, &from, &to, &t.Actor, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.From = Status(from)
		t.To = Status(to)
		result = append(result, t)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*Order, error) {
	o := &Order{}
	var (
		listingID        sql.NullString
		status           string
		preDisputeStatus sql.NullString
		shippingMethod   string
		paymentRef       sql.NullString
		trackingRef      sql.NullString
		deliveredAt      sql.NullTime
		autoCompleteAt   sql.NullTime
		completedAt      sql.NullTime
	)

	err := s.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &listingID, &o.Amount, &status,
		&preDisputeStatus, &shippingMethod, &paymentRef, &trackingRef,
		&o.PaymentDueAt, &deliveredAt, &autoCompleteAt, &completedAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.ListingID = listingID.String
	o.Status = Status(status)
	o.PreDisputeStatus = Status(preDisputeStatus.String)
	o.ShippingMethod = ShippingMethod(shippingMethod)
	o.PaymentRef = paymentRef.String
	o.TrackingRef = trackingRef.String
	if deliveredAt.Valid {
		o.DeliveredAt = &deliveredAt.Time
	}
	if autoCompleteAt.Valid {
		o.AutoCompleteAt = &autoCompleteAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}

	return o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
