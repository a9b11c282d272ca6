package payments

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mbd888/shelfswap/internal/money"
)

// StripeProcessor moves real money through Stripe. Captures create a
// PaymentIntent, refunds go back to the original intent, releases pay
// the seller's connected account via a Transfer.
type StripeProcessor struct {
	api *client.API

	// resolveAccount maps a payment reference to the seller's connected
	// account ID. Required for Release.
	resolveAccount func(ctx context.Context, paymentRef string) (string, error)
}

// NewStripeProcessor creates a processor backed by the Stripe API.
func NewStripeProcessor(apiKey string, resolveAccount func(ctx context.Context, paymentRef string) (string, error)) *StripeProcessor {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeProcessor{api: api, resolveAccount: resolveAccount}
}

func (s *StripeProcessor) Capture(ctx context.Context, orderID, amount string) (string, error) {
	cents, ok := money.Parse(amount)
	if !ok {
		return "", &ProcessorError{Op: "capture", Err: fmt.Errorf("invalid amount %q", amount)}
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(cents.Int64()),
		Currency: stripe.String(string(stripe.CurrencyEUR)),
		Confirm:  stripe.Bool(true),
		Metadata: map[string]string{"order_id": orderID},
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(orderID, "capture"))

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", classify("capture", err)
	}
	return pi.ID, nil
}

func (s *StripeProcessor) Refund(ctx context.Context, paymentRef, amount, idempotencyKey string) error {
	cents, ok := money.Parse(amount)
	if !ok {
		return &ProcessorError{Op: "refund", Err: fmt.Errorf("invalid amount %q", amount)}
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(cents.Int64()),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	if _, err := s.api.Refunds.New(params); err != nil {
		return classify("refund", err)
	}
	return nil
}

func (s *StripeProcessor) Release(ctx context.Context, paymentRef, amount, idempotencyKey string) error {
	cents, ok := money.Parse(amount)
	if !ok {
		return &ProcessorError{Op: "release", Err: fmt.Errorf("invalid amount %q", amount)}
	}
	if s.resolveAccount == nil {
		return &ProcessorError{Op: "release", Err: errors.New("no account resolver configured")}
	}
	account, err := s.resolveAccount(ctx, paymentRef)
	if err != nil {
		return &ProcessorError{Op: "release", Err: err}
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(cents.Int64()),
		Currency:      stripe.String(string(stripe.CurrencyEUR)),
		Destination:   stripe.String(account),
		TransferGroup: stripe.String(paymentRef),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	if _, err := s.api.Transfers.New(params); err != nil {
		return classify("release", err)
	}
	return nil
}

// classify maps a Stripe error to transient or permanent. Network
// failures, rate limits and 5xx responses are transient; everything
// else (card declines, invalid requests) is permanent.
func classify(op string, err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		transient := sErr.HTTPStatusCode >= 500 || sErr.Type == stripe.ErrorTypeAPI
		if sErr.Code == stripe.ErrorCodeRateLimit {
			transient = true
		}
		return &ProcessorError{Op: op, Transient: transient, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ProcessorError{Op: op, Transient: true, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProcessorError{Op: op, Transient: true, Err: err}
	}
	return &ProcessorError{Op: op, Err: err}
}

var _ Processor = (*StripeProcessor)(nil)
