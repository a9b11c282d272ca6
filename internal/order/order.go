// Package order implements the marketplace order lifecycle.
//
// Flow:
//  1. Buyer places an order → pending_payment
//  2. Payment captured → funds held, payment_received
//  3. Seller ships → shipping, then delivered
//  4. Buyer confirms (or grace period passes) → completed, funds released
//  5. A dispute freezes the order until support resolves it
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/shelfswap/internal/idgen"
	"github.com/mbd888/shelfswap/internal/metrics"
	"github.com/mbd888/shelfswap/internal/money"
	"github.com/mbd888/shelfswap/internal/payments"
	"github.com/mbd888/shelfswap/internal/syncutil"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrUnauthorized       = errors.New("not authorized for this order operation")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrConflict           = errors.New("order was modified concurrently")
	ErrSameParty          = errors.New("buyer and seller cannot be the same user")
	ErrMissingTrackingRef = errors.New("tracking reference is required for postal shipments")
	ErrInvalidShipping    = errors.New("unknown shipping method")
)

// Status represents the state of an order.
type Status string

const (
	StatusPendingPayment  Status = "pending_payment"
	StatusPaymentReceived Status = "payment_received"
	StatusShipping        Status = "shipping"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusDisputed        Status = "disputed"
	StatusCancelled       Status = "cancelled"
)

// legalTransitions is the full transition table. Disputed is entered
// from any paid, non-terminal status and exits back to the status the
// resolution dictates.
var legalTransitions = map[Status][]Status{
	StatusPendingPayment:  {StatusPaymentReceived, StatusCancelled},
	StatusPaymentReceived: {StatusShipping, StatusDisputed},
	StatusShipping:        {StatusDelivered, StatusDisputed},
	StatusDelivered:       {StatusCompleted, StatusDisputed},
	StatusDisputed:        {StatusPaymentReceived, StatusShipping, StatusDelivered, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ShippingMethod is how the seller hands the item over. Only postal
// shipments carry a tracking reference.
type ShippingMethod string

const (
	ShippingPostal   ShippingMethod = "postal"
	ShippingInPerson ShippingMethod = "in_person"
)

// Order is a single purchase of a listing between two users.
type Order struct {
	ID               string         `json:"id"`
	BuyerID          string         `json:"buyerId"`
	SellerID         string         `json:"sellerId"`
	ListingID        string         `json:"listingId,omitempty"`
	Amount           string         `json:"amount"`
	Status           Status         `json:"status"`
	PreDisputeStatus Status         `json:"preDisputeStatus,omitempty"`
	ShippingMethod   ShippingMethod `json:"shippingMethod"`
	PaymentRef       string         `json:"paymentRef,omitempty"`
	TrackingRef      string         `json:"trackingRef,omitempty"`
	PaymentDueAt     time.Time      `json:"paymentDueAt"`
	DeliveredAt      *time.Time     `json:"deliveredAt,omitempty"`
	AutoCompleteAt   *time.Time     `json:"autoCompleteAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	Version          int            `json:"version"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Transition is an immutable record of a status change, written in the
// same storage transaction as the change itself.
type Transition struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Actor     string    `json:"actor"` // user ID, or "system" for timer-driven changes
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists orders and their transition history.
type Store interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Update persists the order and appends the transition atomically.
	// It fails with ErrConflict when the stored version differs from
	// order.Version, and increments the version on success.
	Update(ctx context.Context, order *Order, transition *Transition) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error)
	ListAutoCompletable(ctx context.Context, before time.Time, limit int) ([]*Order, error)
	ListPaymentExpired(ctx context.Context, before time.Time, limit int) ([]*Order, error)
	Transitions(ctx context.Context, orderID string) ([]*Transition, error)
}

// LedgerService abstracts escrow fund movements so order doesn't import ledger.
type LedgerService interface {
	Hold(ctx context.Context, buyerID, amount, reference string) error
	Release(ctx context.Context, buyerID, sellerID, reference string) error
	Refund(ctx context.Context, buyerID, reference string) error
}

// EventEmitter publishes domain events. Delivery is best-effort from
// the caller's perspective.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// CreateRequest contains the parameters for placing an order.
// ShippingMethod defaults to postal when omitted.
type CreateRequest struct {
	SellerID       string `json:"sellerId" binding:"required"`
	ListingID      string `json:"listingId"`
	Amount         string `json:"amount" binding:"required"`
	ShippingMethod string `json:"shippingMethod"`
}

// Service implements order business logic.
type Service struct {
	store     Store
	ledger    LedgerService
	processor payments.Processor
	emitter   EventEmitter
	logger    *slog.Logger

	paymentTimeout time.Duration
	gracePeriod    time.Duration

	locks syncutil.ShardedMutex
}

// NewService creates a new order service.
func NewService(store Store, ledger LedgerService, processor payments.Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:          store,
		ledger:         ledger,
		processor:      processor,
		logger:         logger,
		paymentTimeout: 24 * time.Hour,
		gracePeriod:    72 * time.Hour,
	}
}

// WithEmitter adds a domain event emitter.
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

// WithPaymentTimeout overrides how long an unpaid order survives.
func (s *Service) WithPaymentTimeout(d time.Duration) *Service {
	if d > 0 {
		s.paymentTimeout = d
	}
	return s
}

// WithGracePeriod overrides the post-delivery confirmation window.
func (s *Service) WithGracePeriod(d time.Duration) *Service {
	if d > 0 {
		s.gracePeriod = d
	}
	return s
}

// GracePeriod returns the post-delivery confirmation window.
func (s *Service) GracePeriod() time.Duration { return s.gracePeriod }

// Lock acquires the per-order mutex and returns its unlock function.
// Dispute operations on the same order share this lock.
func (s *Service) Lock(orderID string) func() {
	return s.locks.Lock(orderID)
}

// Create places a new order in pending_payment.
func (s *Service) Create(ctx context.Context, buyerID string, req CreateRequest) (*Order, error) {
	if buyerID == req.SellerID {
		return nil, ErrSameParty
	}
	if !money.IsPositive(req.Amount) {
		return nil, ErrInvalidAmount
	}

	method := ShippingMethod(req.ShippingMethod)
	switch method {
	case "":
		method = ShippingPostal
	case ShippingPostal, ShippingInPerson:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidShipping, req.ShippingMethod)
	}

	now := time.Now()
	order := &Order{
		ID:             idgen.WithPrefix("ord_"),
		BuyerID:        buyerID,
		SellerID:       req.SellerID,
		ListingID:      req.ListingID,
		Amount:         req.Amount,
		Status:         StatusPendingPayment,
		ShippingMethod: method,
		PaymentDueAt:   now.Add(s.paymentTimeout),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	metrics.OrdersCreatedTotal.Inc()
	return order, nil
}

// ConfirmPayment captures the buyer's payment and holds the funds.
func (s *Service) ConfirmPayment(ctx context.Context, id, callerID string) (*Order, error) {
	unlock := s.Lock(id)
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != order.BuyerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusPendingPayment {
		return nil, ErrInvalidTransition
	}

	paymentRef, err := s.processor.Capture(ctx, order.ID, order.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to capture payment: %w", err)
	}

	if err := s.ledger.Hold(ctx, order.BuyerID, order.Amount, order.ID); err != nil {
		// Captured but not held: refund the capture so no money is stranded.
		key := payments.IdempotencyKey(order.ID, "hold-compensation")
		if refundErr := s.processor.Refund(ctx, paymentRef, order.Amount, key); refundErr != nil {
			s.logger.Error("CRITICAL: captured payment could not be held or refunded",
				"orderId", order.ID, "paymentRef", paymentRef, "error", refundErr)
		}
		return nil, fmt.Errorf("failed to hold funds: %w", err)
	}

	order.PaymentRef = paymentRef
	return s.transition(ctx, order, StatusPaymentReceived, callerID, "")
}

// MarkShipped records the seller's shipment. Postal orders must carry
// a tracking reference; in-person handovers have none.
func (s *Service) MarkShipped(ctx context.Context, id, callerID, trackingRef string) (*Order, error) {
	unlock := s.Lock(id)
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != order.SellerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusPaymentReceived {
		return nil, ErrInvalidTransition
	}
	if order.ShippingMethod == ShippingPostal && trackingRef == "" {
		return nil, ErrMissingTrackingRef
	}

	note := string(order.ShippingMethod)
	if trackingRef != "" {
		order.TrackingRef = trackingRef
		note = "tracking " + trackingRef
	}
	return s.transition(ctx, order, StatusShipping, callerID, note)
}

// MarkDelivered records delivery and starts the confirmation grace period.
func (s *Service) MarkDelivered(ctx context.Context, id, callerID string) (*Order, error) {
	unlock := s.Lock(id)
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != order.SellerID && callerID != order.BuyerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusShipping {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	autoComplete := now.Add(s.gracePeriod)
	order.DeliveredAt = &now
	order.AutoCompleteAt = &autoComplete
	return s.transition(ctx, order, StatusDelivered, callerID, "")
}

// Confirm completes the order and releases the held funds to the seller.
func (s *Service) Confirm(ctx context.Context, id, callerID string) (*Order, error) {
	unlock := s.Lock(id)
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != order.BuyerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusDelivered {
		return nil, ErrInvalidTransition
	}
	return s.complete(ctx, order, callerID, "")
}

// Cancel cancels an order before payment. Only the buyer can cancel.
func (s *Service) Cancel(ctx context.Context, id, callerID string) (*Order, error) {
	unlock := s.Lock(id)
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != order.BuyerID {
		return nil, ErrUnauthorized
	}
	if order.Status != StatusPendingPayment {
		return nil, ErrInvalidTransition
	}
	return s.transition(ctx, order, StatusCancelled, callerID, "cancelled by buyer")
}

// AutoComplete releases funds for a delivered order past its grace
// period. Called by the timer with "system" as actor.
func (s *Service) AutoComplete(ctx context.Context, id string) (*Order, error) {
	unlock := s.Lock(id)
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusDelivered {
		return nil, ErrInvalidTransition
	}
	if order.AutoCompleteAt == nil || time.Now().Before(*order.AutoCompleteAt) {
		return nil, ErrInvalidTransition
	}
	updated, err := s.complete(ctx, order, "system", "grace period expired")
	if err == nil {
		metrics.OrdersAutoCompletedTotal.Inc()
	}
	return updated, err
}

// ExpirePayment cancels an unpaid order past its payment deadline.
func (s *Service) ExpirePayment(ctx context.Context, id string) (*Order, error) {
	unlock := s.Lock(id)
	defer unlock()

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusPendingPayment {
		return nil, ErrInvalidTransition
	}
	if time.Now().Before(order.PaymentDueAt) {
		return nil, ErrInvalidTransition
	}
	return s.transition(ctx, order, StatusCancelled, "system", "payment deadline expired")
}

// DisputedLocked freezes the order while a dispute is open. The caller
// (the dispute service) already holds the per-order lock.
func (s *Service) DisputedLocked(ctx context.Context, order *Order, actor string) (*Order, error) {
	if !CanTransition(order.Status, StatusDisputed) {
		return nil, ErrInvalidTransition
	}
	order.PreDisputeStatus = order.Status
	return s.transition(ctx, order, StatusDisputed, actor, "")
}

// ResumeLocked returns a disputed order to its pre-dispute status.
// Caller holds the per-order lock.
func (s *Service) ResumeLocked(ctx context.Context, order *Order, actor, note string) (*Order, error) {
	if order.Status != StatusDisputed || order.PreDisputeStatus == "" {
		return nil, ErrInvalidTransition
	}
	target := order.PreDisputeStatus
	order.PreDisputeStatus = ""
	return s.transition(ctx, order, target, actor, note)
}

// SettleLocked moves a disputed order to its final status after
// resolution, without touching the ledger (the dispute service owns
// settlement of funds). Caller holds the per-order lock.
func (s *Service) SettleLocked(ctx context.Context, order *Order, to Status, actor, note string) (*Order, error) {
	if order.Status != StatusDisputed {
		return nil, ErrInvalidTransition
	}
	if !CanTransition(StatusDisputed, to) {
		return nil, ErrInvalidTransition
	}
	order.PreDisputeStatus = ""
	if to == StatusCompleted {
		now := time.Now()
		order.CompletedAt = &now
	}
	return s.transition(ctx, order, to, actor, note)
}

// CompleteLocked releases funds and completes the order. Caller holds
// the per-order lock.
func (s *Service) CompleteLocked(ctx context.Context, order *Order, actor, note string) (*Order, error) {
	return s.complete(ctx, order, actor, note)
}

// complete releases the hold to the seller and records completion.
func (s *Service) complete(ctx context.Context, order *Order, actor, note string) (*Order, error) {
	if err := s.ledger.Release(ctx, order.BuyerID, order.SellerID, order.ID); err != nil {
		return nil, fmt.Errorf("failed to release funds: %w", err)
	}

	key := payments.IdempotencyKey(order.ID, "complete")
	if err := s.processor.Release(ctx, order.PaymentRef, order.Amount, key); err != nil {
		s.logger.Error("processor release failed after ledger release",
			"orderId", order.ID, "paymentRef", order.PaymentRef, "error", err)
	}

	now := time.Now()
	order.CompletedAt = &now
	updated, err := s.transition(ctx, order, StatusCompleted, actor, note)
	if err != nil {
		// Funds already moved; the transition must be persisted.
		s.logger.Error("CRITICAL: funds released but completion not persisted",
			"orderId", order.ID, "error", err)
		return nil, err
	}
	metrics.OrdersCompletedTotal.Inc()
	return updated, nil
}

// transition applies the status change, persists order + transition
// record atomically, and emits order.transitioned.
func (s *Service) transition(ctx context.Context, order *Order, to Status, actor, note string) (*Order, error) {
	from := order.Status
	if !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	order.Status = to
	order.UpdatedAt = now

	tr := &Transition{
		ID:        idgen.WithPrefix("trn_"),
		OrderID:   order.ID,
		From:      from,
		To:        to,
		Actor:     actor,
		Note:      note,
		CreatedAt: now,
	}

	if err := s.store.Update(ctx, order, tr); err != nil {
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
	if to == StatusCompleted || to == StatusCancelled {
		metrics.OrderDuration.Observe(now.Sub(order.CreatedAt).Seconds())
	}

	if s.emitter != nil {
		s.emitter.Emit(ctx, "order.transitioned", map[string]any{
			"orderId":      order.ID,
			"from":         from,
			"to":           to,
			"actor":        actor,
			"transitionId": tr.ID,
		})
	}

	s.logger.Info("order transitioned",
		"orderId", order.ID, "from", from, "to", to, "actor", actor)
	return order, nil
}

// Get returns an order by ID. Only the parties and support may view it;
// the handler enforces that.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// GetLocked re-reads an order while the caller holds its lock.
func (s *Service) GetLocked(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns orders where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// History returns the full transition log for an order.
func (s *Service) History(ctx context.Context, orderID string) ([]*Transition, error) {
	if _, err := s.store.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.Transitions(ctx, orderID)
}
