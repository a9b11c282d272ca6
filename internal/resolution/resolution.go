// Package resolution computes the fund movements and final order state
// for a dispute resolution. It is pure: no storage, no clock, no I/O.
package resolution

import (
	"errors"

	"github.com/mbd888/shelfswap/internal/money"
)

// Resolution outcomes a support agent can issue.
const (
	FullRefund      = "full_refund"
	PartialRefund   = "partial_refund"
	ReleaseToSeller = "release_to_seller"
	Dismissed       = "dismissed"
)

var (
	ErrUnknownOutcome = errors.New("unknown resolution outcome")
	ErrInvalidAmount  = errors.New("invalid resolution amount")
	ErrAmountExceeds  = errors.New("resolution amount exceeds held funds")
)

// Instructions tell the caller how to settle the hold and where the
// order lands afterwards. BuyerAmount plus SellerAmount always equals
// the held amount, except for Dismissed where nothing moves.
type Instructions struct {
	Outcome      string
	BuyerAmount  string // refunded to buyer
	SellerAmount string // released to seller
	// OrderCancelled is true when the order ends cancelled rather than
	// completed. Dismissed sets neither amount and leaves the order to
	// resume its pre-dispute status.
	OrderCancelled bool
	// HoldUntouched is true for dismissals: the hold stays in place.
	HoldUntouched bool
}

// Compute derives settlement instructions from an outcome and the
// amount currently held for the order. For PartialRefund, amount is
// the buyer's share; other outcomes ignore it.
func Compute(outcome, amount, held string) (*Instructions, error) {
	heldCents, ok := money.Parse(held)
	if !ok || heldCents.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	switch outcome {
	case FullRefund:
		return &Instructions{
			Outcome:        FullRefund,
			BuyerAmount:    money.Format(heldCents),
			SellerAmount:   "0.00",
			OrderCancelled: true,
		}, nil

	case ReleaseToSeller:
		return &Instructions{
			Outcome:      ReleaseToSeller,
			BuyerAmount:  "0.00",
			SellerAmount: money.Format(heldCents),
		}, nil

	case PartialRefund:
		refundCents, ok := money.Parse(amount)
		if !ok || refundCents.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		if refundCents.Cmp(heldCents) > 0 {
			return nil, ErrAmountExceeds
		}
		return &Instructions{
			Outcome:      PartialRefund,
			BuyerAmount:  money.Format(refundCents),
			SellerAmount: money.Sub(held, money.Format(refundCents)),
		}, nil

	case Dismissed:
		return &Instructions{
			Outcome:       Dismissed,
			BuyerAmount:   "0.00",
			SellerAmount:  "0.00",
			HoldUntouched: true,
		}, nil

	default:
		return nil, ErrUnknownOutcome
	}
}

// Valid reports whether outcome is one of the recognized resolutions.
func Valid(outcome string) bool {
	switch outcome {
	case FullRefund, PartialRefund, ReleaseToSeller, Dismissed:
		return true
	}
	return false
}
