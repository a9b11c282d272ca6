package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists ledger data in PostgreSQL.
// It implements both Store and EventStore.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_id, available::TEXT, held::TEXT, total_in::TEXT, total_out::TEXT, updated_at
		FROM ledger_balances WHERE user_id = $1`, userID)

	b := &Balance{}
	err := row.Scan(&b.UserID, &b.Available, &b.Held, &b.TotalIn, &b.TotalOut, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Balance{
			UserID: userID, Available: "0.00", Held: "0.00",
			TotalIn: "0.00", TotalOut: "0.00",
		}, nil
	}
	return b, err
}

func (p *PostgresStore) Hold(ctx context.Context, buyerID, amount, reference string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM ledger_holds WHERE reference = $1)`, reference,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrDuplicateHold
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_holds (reference, buyer_id, amount, created_at)
			VALUES ($1, $2, $3::NUMERIC(12,2), NOW())`,
			reference, buyerID, amount); err != nil {
			return err
		}

		if err := p.adjust(ctx, tx, buyerID, "0", amount, amount, "0"); err != nil {
			return err
		}
		return p.record(ctx, tx, buyerID, "hold", amount, reference, "")
	})
}

func (p *PostgresStore) Release(ctx context.Context, buyerID, sellerID, amount, reference string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := p.consumeHold(ctx, tx, reference, amount); err != nil {
			return err
		}

		// Buyer: held -> out. Seller: available in.
		if err := p.adjust(ctx, tx, buyerID, "0", "-"+amount, "0", amount); err != nil {
			return err
		}
		if err := p.adjust(ctx, tx, sellerID, amount, "0", amount, "0"); err != nil {
			return err
		}
		if err := p.record(ctx, tx, buyerID, "release_out", amount, reference, sellerID); err != nil {
			return err
		}
		return p.record(ctx, tx, sellerID, "release_in", amount, reference, buyerID)
	})
}

func (p *PostgresStore) Refund(ctx context.Context, buyerID, amount, reference string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := p.consumeHold(ctx, tx, reference, amount); err != nil {
			return err
		}
		if err := p.adjust(ctx, tx, buyerID, "0", "-"+amount, "0", amount); err != nil {
			return err
		}
		return p.record(ctx, tx, buyerID, "refund", amount, reference, "")
	})
}

func (p *PostgresStore) Split(ctx context.Context, buyerID, sellerID, refundAmount, releaseAmount, reference string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var total string
		if err := tx.QueryRowContext(ctx,
			`SELECT ($1::NUMERIC(12,2) + $2::NUMERIC(12,2))::TEXT`,
			refundAmount, releaseAmount,
		).Scan(&total); err != nil {
			return err
		}
		if err := p.consumeHold(ctx, tx, reference, total); err != nil {
			return err
		}

		if err := p.adjust(ctx, tx, buyerID, "0", "-"+total, "0", total); err != nil {
			return err
		}
		if releaseAmount != "0.00" {
			if err := p.adjust(ctx, tx, sellerID, releaseAmount, "0", releaseAmount, "0"); err != nil {
				return err
			}
			if err := p.record(ctx, tx, buyerID, "release_out", releaseAmount, reference, sellerID); err != nil {
				return err
			}
			if err := p.record(ctx, tx, sellerID, "release_in", releaseAmount, reference, buyerID); err != nil {
				return err
			}
		}
		if refundAmount != "0.00" {
			if err := p.record(ctx, tx, buyerID, "refund", refundAmount, reference, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresStore) HeldAmount(ctx context.Context, reference string) (string, error) {
	var amount string
	err := p.db.QueryRowContext(ctx,
		`SELECT amount::TEXT FROM ledger_holds WHERE reference = $1`, reference,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return "", ErrHoldNotFound
	}
	return amount, err
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount::TEXT, COALESCE(reference, ''), COALESCE(counterparty, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Reference, &e.Counterparty, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event *Event) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO ledger_events (user_id, event_type, amount, reference, counterparty, created_at)
		VALUES ($1, $2, $3::NUMERIC(12,2), $4, $5, NOW())
		RETURNING id`,
		event.UserID, event.EventType, event.Amount, event.Reference, event.Counterparty,
	).Scan(&event.ID)
}

func (p *PostgresStore) GetEvents(ctx context.Context, userID string, since time.Time) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, amount::TEXT, COALESCE(reference, ''), COALESCE(counterparty, ''), created_at
		FROM ledger_events
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY id ASC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.Amount, &e.Reference, &e.Counterparty, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) GetAllUsers(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM ledger_events`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// inTx runs fn inside a database transaction.
func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// consumeHold deletes the hold row iff its amount matches exactly.
func (p *PostgresStore) consumeHold(ctx context.Context, tx *sql.Tx, reference, amount string) error {
	result, err := tx.ExecContext(ctx, `
		DELETE FROM ledger_holds
		WHERE reference = $1 AND amount = $2::NUMERIC(12,2)`,
		reference, amount)
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
			`SELECT EXISTS(SELECT 1 FROM ledger_holds WHERE reference = $1)`, reference,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrHoldMismatch
		}
		return ErrHoldNotFound
	}
	return nil
}

// adjust upserts a balance row, applying deltas to available/held/total_in/total_out.
// Negative deltas are passed as "-12.34" strings and cast by Postgres.
func (p *PostgresStore) adjust(ctx context.Context, tx *sql.Tx, userID, dAvail, dHeld, dIn, dOut string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (user_id, available, held, total_in, total_out, updated_at)
		VALUES ($1, $2::NUMERIC(12,2), $3::NUMERIC(12,2), $4::NUMERIC(12,2), $5::NUMERIC(12,2), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available = ledger_balances.available + EXCLUDED.available,
			held = ledger_balances.held + EXCLUDED.held,
			total_in = ledger_balances.total_in + EXCLUDED.total_in,
			total_out = ledger_balances.total_out + EXCLUDED.total_out,
			updated_at = NOW()`,
		userID, dAvail, dHeld, dIn, dOut)
	if err != nil {
		return fmt.Errorf("adjust balance for %s: %w", userID, err)
	}
	return nil
}

// record appends matching ledger_entries and ledger_events rows.
func (p *PostgresStore) record(ctx context.Context, tx *sql.Tx, userID, entryType, amount, reference, counterparty string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, type, amount, reference, counterparty, created_at)
		VALUES ($1, $2, $3::NUMERIC(12,2), $4, $5, NOW())`,
		userID, entryType, amount, reference, counterparty); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_events (user_id, event_type, amount, reference, counterparty, created_at)
		VALUES ($1, $2, $3::NUMERIC(12,2), $4, $5, NOW())`,
		userID, entryType, amount, reference, counterparty)
	return err
}

// Compile-time assertions.
var (
	_ Store      = (*PostgresStore)(nil)
	_ EventStore = (*PostgresStore)(nil)
)
