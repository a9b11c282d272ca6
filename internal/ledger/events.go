package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/mbd888/shelfswap/internal/money"
)

// Event represents an immutable ledger event, the replayable record of
// every fund movement.
type Event struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"userId"`
	EventType    string    `json:"eventType"`
	Amount       string    `json:"amount"`
	Reference    string    `json:"reference,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ReconciliationResult holds the outcome of replaying events vs actual balance.
type ReconciliationResult struct {
	UserID          string `json:"userId"`
	Match           bool   `json:"match"`
	ReplayAvailable string `json:"replayAvailable"`
	ReplayHeld      string `json:"replayHeld"`
	ActualAvailable string `json:"actualAvailable"`
	ActualHeld      string `json:"actualHeld"`
}

// EventStore persists and queries immutable ledger events.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, userID string, since time.Time) ([]*Event, error)
	GetAllUsers(ctx context.Context) ([]string, error)
}

// RebuildBalance replays a sequence of events to reconstruct a balance.
func RebuildBalance(userID string, events []*Event) *Balance {
	available := big.NewInt(0)
	held := big.NewInt(0)
	totalIn := big.NewInt(0)
	totalOut := big.NewInt(0)

	for _, e := range events {
		amt, ok := money.Parse(e.Amount)
		if !ok {
			continue
		}

		switch e.EventType {
		case "hold":
			// Buyer: captured funds escrowed for an order.
			held.Add(held, amt)
			totalIn.Add(totalIn, amt)
		case "release_out":
			// Buyer: hold settled toward the seller.
			held.Sub(held, amt)
			totalOut.Add(totalOut, amt)
		case "release_in":
			// Seller: receives a settled hold.
			available.Add(available, amt)
			totalIn.Add(totalIn, amt)
		case "refund":
			// Buyer: hold returned, leaves the platform via the processor.
			held.Sub(held, amt)
			totalOut.Add(totalOut, amt)
		}
	}

	return &Balance{
		UserID:    userID,
		Available: money.Format(available),
		Held:      money.Format(held),
		TotalIn:   money.Format(totalIn),
		TotalOut:  money.Format(totalOut),
	}
}

// ReconcileUser replays events for one user and compares against actual balance.
func ReconcileUser(ctx context.Context, es EventStore, store Store, userID string) (*ReconciliationResult, error) {
	events, err := es.GetEvents(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}

	replayed := RebuildBalance(userID, events)

	actual, err := store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Normalize actual values through money.Parse/Format for consistent comparison
	actualAvail, _ := money.Parse(actual.Available)
	actualHeld, _ := money.Parse(actual.Held)

	result := &ReconciliationResult{
		UserID:          userID,
		ReplayAvailable: replayed.Available,
		ReplayHeld:      replayed.Held,
		ActualAvailable: money.Format(actualAvail),
		ActualHeld:      money.Format(actualHeld),
	}

	result.Match = replayed.Available == result.ActualAvailable &&
		replayed.Held == result.ActualHeld

	return result, nil
}

// ReconcileAll replays events for all users and returns the results.
func ReconcileAll(ctx context.Context, es EventStore, store Store) ([]*ReconciliationResult, error) {
	users, err := es.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}

	var results []*ReconciliationResult
	for _, id := range users {
		r, err := ReconcileUser(ctx, es, store, id)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, nil
}
