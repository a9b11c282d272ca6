// Package ledger tracks marketplace funds: buyer captures, escrowed
// holds, and seller releases.
//
// Flow:
//  1. Payment captured for an order → funds recorded as a hold (escrow)
//  2. Order completes → hold released to seller
//  3. Dispute resolves full_refund → hold refunded to buyer
//  4. Dispute resolves partial_refund → hold split between both parties
//
// Every mutation appends immutable entries; holds are keyed by order ID
// and must be consumed exactly once, in full.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/mbd888/shelfswap/internal/money"
)

var (
	ErrHoldNotFound    = errors.New("funds hold not found")
	ErrDuplicateHold   = errors.New("funds hold already exists for this reference")
	ErrHoldMismatch    = errors.New("amounts do not sum to the held amount")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAccountNotFound = errors.New("account not found")
)

// Entry represents an immutable ledger entry.
type Entry struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId"`
	Type         string    `json:"type"` // hold, release_out, release_in, refund
	Amount       string    `json:"amount"`
	Reference    string    `json:"reference,omitempty"` // order ID
	Counterparty string    `json:"counterparty,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Balance represents a user's funds position on the platform.
type Balance struct {
	UserID    string    `json:"userId"`
	Available string    `json:"available"` // Released earnings, withdrawable
	Held      string    `json:"held"`      // Escrowed for open orders
	TotalIn   string    `json:"totalIn"`   // Lifetime captures + releases received
	TotalOut  string    `json:"totalOut"`  // Lifetime refunds paid back out
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists balances, holds, and entries.
//
// Hold, Release, Refund, and Split must each apply the balance change,
// the hold change, and the entry appends atomically.
type Store interface {
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	Hold(ctx context.Context, buyerID, amount, reference string) error
	Release(ctx context.Context, buyerID, sellerID, amount, reference string) error
	Refund(ctx context.Context, buyerID, amount, reference string) error
	Split(ctx context.Context, buyerID, sellerID, refundAmount, releaseAmount, reference string) error
	HeldAmount(ctx context.Context, reference string) (string, error)
	History(ctx context.Context, userID string, limit int) ([]*Entry, error)
}

// Ledger manages marketplace fund movements.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns a user's current balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	return l.store.GetBalance(ctx, userID)
}

// Hold escrows captured funds for an order. The reference (order ID)
// must not already carry a hold.
func (l *Ledger) Hold(ctx context.Context, buyerID, amount, reference string) error {
	if !money.IsPositive(amount) {
		return ErrInvalidAmount
	}
	return l.store.Hold(ctx, buyerID, amount, reference)
}

// Release moves the full hold for an order to the seller.
func (l *Ledger) Release(ctx context.Context, buyerID, sellerID, reference string) error {
	held, err := l.store.HeldAmount(ctx, reference)
	if err != nil {
		return err
	}
	return l.store.Release(ctx, buyerID, sellerID, held, reference)
}

// Refund returns the full hold for an order to the buyer.
func (l *Ledger) Refund(ctx context.Context, buyerID, reference string) error {
	held, err := l.store.HeldAmount(ctx, reference)
	if err != nil {
		return err
	}
	return l.store.Refund(ctx, buyerID, held, reference)
}

// Split divides the hold for an order: refundAmount back to the buyer,
// the remainder to the seller. The two parts must sum to the hold.
func (l *Ledger) Split(ctx context.Context, buyerID, sellerID, refundAmount, reference string) error {
	held, err := l.store.HeldAmount(ctx, reference)
	if err != nil {
		return err
	}

	refund, ok := money.Parse(refundAmount)
	if !ok || refund.Sign() < 0 {
		return ErrInvalidAmount
	}
	heldBig, _ := money.Parse(held)
	if refund.Cmp(heldBig) > 0 {
		return ErrHoldMismatch
	}

	release := new(big.Int).Sub(heldBig, refund)
	return l.store.Split(ctx, buyerID, sellerID, money.Format(refund), money.Format(release), reference)
}

// HeldAmount returns the remaining hold for an order reference.
func (l *Ledger) HeldAmount(ctx context.Context, reference string) (string, error) {
	return l.store.HeldAmount(ctx, reference)
}

// History returns ledger entries for a user.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, userID, limit)
}
