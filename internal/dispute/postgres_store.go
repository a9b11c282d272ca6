package dispute

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists dispute data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, order_id, buyer_id, seller_id, opened_by, reason, description, status,
			outcome, refund_amount, release_amount, resolved_by, resolution_note,
			escalate_at, resolved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17
		)`,
		d.ID, d.OrderID, d.BuyerID, d.SellerID, d.OpenedBy, d.Reason, nullString(d.Description), string(d.Status),
		nullString(d.Outcome), nullString(d.RefundAmount), nullString(d.ReleaseAmount),
		nullString(d.ResolvedBy), nullString(d.ResolutionNote),
		d.EscalateAt, nullTime(d.ResolvedAt), d.CreatedAt, d.UpdatedAt,
	)
	return err
}

const disputeColumns = `id, order_id, buyer_id, seller_id, opened_by, reason, description, status,
		       outcome, refund_amount, release_amount, resolved_by, resolution_note,
		       escalate_at, resolved_at, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) GetOpenByOrder(ctx context.Context, orderID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE order_id = $1 AND status != 'resolved'`, orderID)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, outcome = $2, refund_amount = $3, release_amount = $4,
			resolved_by = $5, resolution_note = $6, resolved_at = $7, updated_at = $8
		WHERE id = $9`,
		string(d.Status), nullString(d.Outcome), nullString(d.RefundAmount), nullString(d.ReleaseAmount),
		nullString(d.ResolvedBy), nullString(d.ResolutionNote), nullTime(d.ResolvedAt), d.UpdatedAt,
		d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanDisputes(rows)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanDisputes(rows)
}

func (p *PostgresStore) ListEscalatable(ctx context.Context, before time.Time, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE status = 'opened' AND escalate_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanDisputes(rows)
}

// AddMessage assigns the next per-dispute sequence number and inserts
// the message in one transaction.
func (p *PostgresStore) AddMessage(ctx context.Context, m *Message) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the dispute row so concurrent writers serialize on the
	// sequence assignment.
	var locked string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM disputes WHERE id = $1 FOR UPDATE`, m.DisputeID,
	).Scan(&locked)
	if err == sql.ErrNoRows {
		return ErrDisputeNotFound
	}
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1
		FROM dispute_messages
		WHERE dispute_id = $1`, m.DisputeID,
	).Scan(&m.Seq)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dispute_messages (id, dispute_id, author_id, role, body, seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.DisputeID, m.AuthorID, m.Role, m.Body, m.Seq, m.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Messages(ctx context.Context, disputeID string) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dispute_id, author_id, role, body, seq, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
		ORDER BY seq ASC`, disputeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.AuthorID, &m.Role, &m.Body, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AddEvidence(ctx context.Context, e *Evidence) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispute_evidence (id, dispute_id, submitted_by, filename, url, content_type, size_bytes, sha256, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.DisputeID, e.SubmittedBy, e.Filename, e.URL, e.ContentType, e.SizeBytes, e.SHA256, e.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrDuplicateEvidence
	}
	return err
}

func (p *PostgresStore) ListEvidence(ctx context.Context, disputeID string) ([]*Evidence, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dispute_id, submitted_by, filename, url, content_type, size_bytes, sha256, created_at
		FROM dispute_evidence
		WHERE dispute_id = $1
		ORDER BY created_at ASC`, disputeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Evidence
	for rows.Next() {
		e := &Evidence{}
		if err := rows.Scan(&e.ID, &e.DisputeID, &e.SubmittedBy, &e.Filename, &e.URL, &e.ContentType, &e.SizeBytes, &e.SHA256, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDispute(s scanner) (*Dispute, error) {
	d := &Dispute{}
	var (
		description    sql.NullString
		status         string
		outcome        sql.NullString
		refundAmount   sql.NullString
		releaseAmount  sql.NullString
		resolvedBy     sql.NullString
		resolutionNote sql.NullString
		resolvedAt     sql.NullTime
	)

	err := s.Scan(
		&d.ID, &d.OrderID, &d.BuyerID, &d.SellerID, &d.OpenedBy, &d.Reason, &description, &status,
		&outcome, &refundAmount, &releaseAmount, &resolvedBy, &resolutionNote,
		&d.EscalateAt, &resolvedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Description = description.String
	d.Status = Status(status)
	d.Outcome = outcome.String
	d.RefundAmount = refundAmount.String
	d.ReleaseAmount = releaseAmount.String
	d.ResolvedBy = resolvedBy.String
	d.ResolutionNote = resolutionNote.String
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}

	return d, nil
}

func scanDisputes(rows *sql.Rows) ([]*Dispute, error) {
	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
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
