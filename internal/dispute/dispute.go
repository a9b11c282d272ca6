// Package dispute implements the dispute and mediation workflow.
//
// Flow:
//  1. A party opens a dispute → the order freezes, funds stay held
//  2. Parties exchange messages and evidence → mediation
//  3. Support resolves: full refund, partial refund, release, or dismissal
//  4. The resolution settles the hold and unfreezes the order
package dispute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/shelfswap/internal/idgen"
	"github.com/mbd888/shelfswap/internal/metrics"
	"github.com/mbd888/shelfswap/internal/order"
	"github.com/mbd888/shelfswap/internal/payments"
	"github.com/mbd888/shelfswap/internal/resolution"
)

var (
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrDisputeAlreadyExists = errors.New("order already has an open dispute")
	ErrDisputeResolved      = errors.New("dispute is already resolved")
	ErrNotParty             = errors.New("caller is not a party to this dispute")
	ErrNotMediation         = errors.New("dispute is not in mediation")
	ErrUnsupportedEvidence  = errors.New("unsupported evidence content type")
	ErrEvidenceTooLarge     = errors.New("evidence exceeds the size ceiling")
	ErrDuplicateEvidence    = errors.New("identical evidence already submitted")
	ErrEmptyMessage         = errors.New("message body is empty")
	ErrInvalidResolution    = errors.New("invalid resolution")
	ErrInvalidReason        = errors.New("unknown dispute reason")
	ErrInvalidEvidence      = errors.New("invalid evidence metadata")
	ErrNotWithdrawable      = errors.New("dispute can only be withdrawn while opened")
)

// Status represents the state of a dispute.
type Status string

const (
	StatusOpened    Status = "opened"
	StatusMediation Status = "mediation"
	StatusResolved  Status = "resolved"
)

// DefaultEscalation is how long a dispute sits in opened before the
// timer escalates it to mediation.
const DefaultEscalation = 48 * time.Hour

// DefaultMaxEvidenceBytes caps a single evidence upload.
const DefaultMaxEvidenceBytes = 10 << 20 // 10MB

// allowedEvidenceTypes is the MIME allow-list for evidence uploads.
var allowedEvidenceTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
}

// allowedReasons is the closed set of dispute reason codes. Anything
// free-form belongs in the description.
var allowedReasons = map[string]bool{
	"item_not_received":     true,
	"item_not_as_described": true,
	"wrong_item":            true,
	"damaged_item":          true,
	"other":                 true,
}

// Dispute is a disagreement over a single order. Buyer and seller are
// denormalized from the order at open time for authorization checks.
type Dispute struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"orderId"`
	BuyerID        string     `json:"buyerId"`
	SellerID       string     `json:"sellerId"`
	OpenedBy       string     `json:"openedBy"`
	Reason         string     `json:"reason"`
	Description    string     `json:"description,omitempty"`
	Status         Status     `json:"status"`
	Outcome        string     `json:"outcome,omitempty"`
	RefundAmount   string     `json:"refundAmount,omitempty"`
	ReleaseAmount  string     `json:"releaseAmount,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	EscalateAt     time.Time  `json:"escalateAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsParty reports whether userID is the buyer or seller.
func (d *Dispute) IsParty(userID string) bool {
	return userID == d.BuyerID || userID == d.SellerID
}

// Message is one entry in a dispute's conversation log. Seq is
// assigned by the store and strictly increases per dispute.
type Message struct {
	ID        string    `json:"id"`
	DisputeID string    `json:"disputeId"`
	AuthorID  string    `json:"authorId"`
	Role      string    `json:"role"` // buyer, seller, support
	Body      string    `json:"body"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

// Evidence is a file attached to a dispute. The blob itself lives in
// external storage; only the URL, content hash and metadata are kept.
type Evidence struct {
	ID          string    `json:"id"`
	DisputeID   string    `json:"disputeId"`
	SubmittedBy string    `json:"submittedBy"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists disputes, messages and evidence.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	// GetOpenByOrder returns the unresolved dispute for an order, or
	// ErrDisputeNotFound.
	GetOpenByOrder(ctx context.Context, orderID string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error)
	// ListByUser returns disputes where the user is buyer or seller.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Dispute, error)
	ListEscalatable(ctx context.Context, before time.Time, limit int) ([]*Dispute, error)

	// AddMessage assigns the next sequence number and appends the
	// message atomically.
	AddMessage(ctx context.Context, m *Message) error
	Messages(ctx context.Context, disputeID string) ([]*Message, error)

	// AddEvidence fails with ErrDuplicateEvidence when the same
	// content hash already exists for the dispute.
	AddEvidence(ctx context.Context, e *Evidence) error
	ListEvidence(ctx context.Context, disputeID string) ([]*Evidence, error)
}

// OrderService is the slice of the order service the dispute workflow
// needs. All *Locked calls require the per-order lock, which disputes
// share so order and dispute transitions cannot interleave.
type OrderService interface {
	Lock(orderID string) func()
	GetLocked(ctx context.Context, id string) (*order.Order, error)
	DisputedLocked(ctx context.Context, o *order.Order, actor string) (*order.Order, error)
	ResumeLocked(ctx context.Context, o *order.Order, actor, note string) (*order.Order, error)
	SettleLocked(ctx context.Context, o *order.Order, to order.Status, actor, note string) (*order.Order, error)
	CompleteLocked(ctx context.Context, o *order.Order, actor, note string) (*order.Order, error)
}

// LedgerService abstracts the fund movements a resolution can order.
type LedgerService interface {
	HeldAmount(ctx context.Context, reference string) (string, error)
	Refund(ctx context.Context, buyerID, reference string) error
	Split(ctx context.Context, buyerID, sellerID, refundAmount, reference string) error
}

// EventEmitter publishes domain events.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// OpenRequest contains the parameters for opening a dispute.
type OpenRequest struct {
	Reason      string `json:"reason" binding:"required"`
	Description string `json:"description"`
}

// EvidenceRequest describes an evidence blob already uploaded to
// external storage.
type EvidenceRequest struct {
	Filename    string `json:"filename" binding:"required"`
	URL         string `json:"url" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
	SizeBytes   int64  `json:"sizeBytes" binding:"required"`
	SHA256      string `json:"sha256" binding:"required"`
}

// ResolveRequest contains the parameters for resolving a dispute.
type ResolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Amount  string `json:"amount"` // buyer's share, partial_refund only
	Note    string `json:"note"`
}

// Service implements dispute business logic.
type Service struct {
	store     Store
	orders    OrderService
	ledger    LedgerService
	processor payments.Processor
	emitter   EventEmitter
	logger    *slog.Logger

	escalation       time.Duration
	maxEvidenceBytes int64
}

// NewService creates a new dispute service.
func NewService(store Store, orders OrderService, ledger LedgerService, processor payments.Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:            store,
		orders:           orders,
		ledger:           ledger,
		processor:        processor,
		logger:           logger,
		escalation:       DefaultEscalation,
		maxEvidenceBytes: DefaultMaxEvidenceBytes,
	}
}

// WithEmitter adds a domain event emitter.
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

// WithEscalation overrides the opened → mediation escalation delay.
func (s *Service) WithEscalation(d time.Duration) *Service {
	if d > 0 {
		s.escalation = d
	}
	return s
}

// WithMaxEvidenceBytes overrides the evidence size ceiling.
func (s *Service) WithMaxEvidenceBytes(n int64) *Service {
	if n > 0 {
		s.maxEvidenceBytes = n
	}
	return s
}

// Open opens a dispute on an order and freezes the order. One
// unresolved dispute per order; funds stay held until resolution.
func (s *Service) Open(ctx context.Context, orderID, callerID string, req OpenRequest) (*Dispute, error) {
	if !allowedReasons[req.Reason] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, req.Reason)
	}

	unlock := s.orders.Lock(orderID)
	defer unlock()

	o, err := s.orders.GetLocked(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if callerID != o.BuyerID && callerID != o.SellerID {
		return nil, ErrNotParty
	}

	if _, err := s.store.GetOpenByOrder(ctx, orderID); err == nil {
		return nil, ErrDisputeAlreadyExists
	} else if !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}

	if _, err := s.orders.DisputedLocked(ctx, o, callerID); err != nil {
		return nil, err
	}

	now := time.Now()
	d := &Dispute{
		ID:          idgen.WithPrefix("dsp_"),
		OrderID:     orderID,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		OpenedBy:    callerID,
		Reason:      req.Reason,
		Description: req.Description,
		Status:      StatusOpened,
		EscalateAt:  now.Add(s.escalation),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, d); err != nil {
		// Unfreeze the order so it isn't stuck disputed with no dispute.
		if _, resumeErr := s.orders.ResumeLocked(ctx, o, "system", "dispute creation failed"); resumeErr != nil {
			s.logger.Error("CRITICAL: order frozen but dispute not created",
				"orderId", orderID, "error", resumeErr)
		}
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	metrics.DisputesOpenedTotal.Inc()
	metrics.OpenDisputes.Inc()
	s.emit(ctx, "dispute.opened", map[string]any{
		"disputeId": d.ID,
		"orderId":   orderID,
		"openedBy":  callerID,
	})
	s.logger.Info("dispute opened", "disputeId", d.ID, "orderId", orderID, "openedBy", callerID)
	return d, nil
}

// PostMessage appends a message to the dispute log. Once both parties
// have spoken, an opened dispute escalates to mediation.
func (s *Service) PostMessage(ctx context.Context, disputeID, callerID, role, body string) (*Message, error) {
	if body == "" {
		return nil, ErrEmptyMessage
	}

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, ErrDisputeResolved
	}
	if !d.IsParty(callerID) {
		if role != "support" {
			return nil, ErrNotParty
		}
		// Support joins the conversation only once mediation starts.
		if d.Status != StatusMediation {
			return nil, ErrNotMediation
		}
	}

	m := &Message{
		ID:        idgen.WithPrefix("msg_"),
		DisputeID: disputeID,
		AuthorID:  callerID,
		Role:      s.roleFor(d, callerID, role),
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.store.AddMessage(ctx, m); err != nil {
		return nil, err
	}

	if d.Status == StatusOpened {
		if escalated, err := s.maybeEscalate(ctx, d); err != nil {
			s.logger.Warn("failed to escalate dispute after message",
				"disputeId", disputeID, "error", err)
		} else if escalated {
			s.logger.Info("dispute escalated to mediation", "disputeId", disputeID)
		}
	}

	s.emit(ctx, "dispute.message_added", map[string]any{
		"disputeId": disputeID,
		"messageId": m.ID,
		"authorId":  callerID,
		"seq":       m.Seq,
	})
	return m, nil
}

func (s *Service) roleFor(d *Dispute, callerID, claimed string) string {
	switch callerID {
	case d.BuyerID:
		return "buyer"
	case d.SellerID:
		return "seller"
	}
	return claimed
}

// maybeEscalate moves an opened dispute to mediation once both parties
// have posted at least one message.
func (s *Service) maybeEscalate(ctx context.Context, d *Dispute) (bool, error) {
	messages, err := s.store.Messages(ctx, d.ID)
	if err != nil {
		return false, err
	}
	var buyerSpoke, sellerSpoke bool
	for _, m := range messages {
		switch m.AuthorID {
		case d.BuyerID:
			buyerSpoke = true
		case d.SellerID:
			sellerSpoke = true
		}
	}
	if !buyerSpoke || !sellerSpoke {
		return false, nil
	}
	return true, s.Escalate(ctx, d.ID, "both parties responded")
}

// Escalate moves a dispute from opened to mediation. It takes the
// per-order lock so a racing withdraw or resolve cannot be overwritten;
// a dispute that already left opened makes this a no-op.
func (s *Service) Escalate(ctx context.Context, disputeID, note string) error {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return err
	}

	unlock := s.orders.Lock(d.OrderID)
	defer unlock()

	// Re-read under the lock; the first read only located the order.
	d, err = s.store.Get(ctx, disputeID)
	if err != nil {
		return err
	}
	if d.Status != StatusOpened {
		return nil
	}
	d.Status = StatusMediation
	d.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, d); err != nil {
		return err
	}
	metrics.DisputesEscalatedTotal.Inc()
	s.emit(ctx, "dispute.escalated", map[string]any{
		"disputeId": d.ID,
		"orderId":   d.OrderID,
		"note":      note,
	})
	return nil
}

// AddEvidence records a blob the caller already uploaded to external
// storage. The engine keeps only the URL and metadata, never the bytes;
// the client-computed hash dedups repeat submissions.
func (s *Service) AddEvidence(ctx context.Context, disputeID, callerID string, req EvidenceRequest) (*Evidence, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, ErrDisputeResolved
	}
	if !d.IsParty(callerID) {
		return nil, ErrNotParty
	}
	if !allowedEvidenceTypes[req.ContentType] {
		return nil, ErrUnsupportedEvidence
	}
	if req.SizeBytes > s.maxEvidenceBytes {
		return nil, ErrEvidenceTooLarge
	}
	if req.SizeBytes <= 0 {
		return nil, fmt.Errorf("%w: sizeBytes must be positive", ErrInvalidEvidence)
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be http(s)", ErrInvalidEvidence)
	}
	digest, err := hex.DecodeString(req.SHA256)
	if err != nil || len(digest) != sha256.Size {
		return nil, fmt.Errorf("%w: sha256 must be 64 hex characters", ErrInvalidEvidence)
	}

	e := &Evidence{
		ID:          idgen.WithPrefix("evd_"),
		DisputeID:   disputeID,
		SubmittedBy: callerID,
		Filename:    req.Filename,
		URL:         req.URL,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		SHA256:      strings.ToLower(req.SHA256),
		CreatedAt:   time.Now(),
	}
	if err := s.store.AddEvidence(ctx, e); err != nil {
		return nil, err
	}

	s.emit(ctx, "dispute.evidence_added", map[string]any{
		"disputeId":  disputeID,
		"evidenceId": e.ID,
		"sha256":     e.SHA256,
	})
	return e, nil
}

// Resolve settles a mediation dispute. Support only. The held funds
// are consumed exactly once according to the outcome, and the order
// moves to its final status in the same per-order critical section.
func (s *Service) Resolve(ctx context.Context, disputeID, resolverID string, req ResolveRequest) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock := s.orders.Lock(d.OrderID)
	defer unlock()

	// Re-read under the lock; a concurrent resolve may have won.
	d, err = s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, ErrDisputeResolved
	}
	if d.Status != StatusMediation {
		return nil, ErrNotMediation
	}
	if !resolution.Valid(req.Outcome) {
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidResolution, req.Outcome)
	}

	o, err := s.orders.GetLocked(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}

	held, err := s.ledger.HeldAmount(ctx, d.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to read held funds: %w", err)
	}
	instr, err := resolution.Compute(req.Outcome, req.Amount, held)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResolution, err)
	}

	if err := s.settle(ctx, d, o, instr, resolverID, req.Note); err != nil {
		return nil, err
	}

	now := time.Now()
	d.Status = StatusResolved
	d.Outcome = instr.Outcome
	d.RefundAmount = instr.BuyerAmount
	d.ReleaseAmount = instr.SellerAmount
	d.ResolvedBy = resolverID
	d.ResolutionNote = req.Note
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		// Funds are settled; the dispute record must follow.
		s.logger.Error("CRITICAL: resolution settled but dispute not persisted",
			"disputeId", d.ID, "error", err)
		return nil, err
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(d.Outcome)).Inc()
	metrics.OpenDisputes.Dec()
	metrics.DisputeDuration.Observe(now.Sub(d.CreatedAt).Seconds())
	s.emit(ctx, "dispute.resolved", map[string]any{
		"disputeId":     d.ID,
		"orderId":       d.OrderID,
		"outcome":       d.Outcome,
		"refundAmount":  d.RefundAmount,
		"releaseAmount": d.ReleaseAmount,
		"resolvedBy":    resolverID,
	})
	s.logger.Info("dispute resolved",
		"disputeId", d.ID, "orderId", d.OrderID, "outcome", d.Outcome, "resolvedBy", resolverID)
	return d, nil
}

// settle applies the resolution instructions to the ledger, the
// payment processor and the order. Caller holds the order lock.
func (s *Service) settle(ctx context.Context, d *Dispute, o *order.Order, instr *resolution.Instructions, resolverID, note string) error {
	switch instr.Outcome {
	case resolution.Dismissed:
		return s.settleDismissed(ctx, o, resolverID, note)

	case resolution.FullRefund:
		key := payments.IdempotencyKey(o.ID, "resolve-refund-"+d.ID)
		if err := s.processor.Refund(ctx, o.PaymentRef, instr.BuyerAmount, key); err != nil {
			return fmt.Errorf("processor refund failed: %w", err)
		}
		if err := s.ledger.Refund(ctx, o.BuyerID, o.ID); err != nil {
			return fmt.Errorf("ledger refund failed: %w", err)
		}
		_, err := s.orders.SettleLocked(ctx, o, order.StatusCancelled, resolverID, "dispute resolved: full refund")
		return err

	case resolution.ReleaseToSeller:
		_, err := s.orders.CompleteLocked(ctx, o, resolverID, "dispute resolved: released to seller")
		return err

	case resolution.PartialRefund:
		key := payments.IdempotencyKey(o.ID, "resolve-refund-"+d.ID)
		if err := s.processor.Refund(ctx, o.PaymentRef, instr.BuyerAmount, key); err != nil {
			return fmt.Errorf("processor refund failed: %w", err)
		}
		if err := s.ledger.Split(ctx, o.BuyerID, o.SellerID, instr.BuyerAmount, o.ID); err != nil {
			return fmt.Errorf("ledger split failed: %w", err)
		}
		relKey := payments.IdempotencyKey(o.ID, "resolve-release-"+d.ID)
		if err := s.processor.Release(ctx, o.PaymentRef, instr.SellerAmount, relKey); err != nil {
			s.logger.Error("processor release failed after ledger split",
				"orderId", o.ID, "error", err)
		}
		_, err := s.orders.SettleLocked(ctx, o, order.StatusCompleted, resolverID, "dispute resolved: partial refund")
		return err
	}
	return ErrInvalidResolution
}

// settleDismissed returns the order to its pre-dispute status. When
// the dispute froze a delivered order whose grace period has since
// passed, the order completes instead of resuming.
func (s *Service) settleDismissed(ctx context.Context, o *order.Order, resolverID, note string) error {
	if note == "" {
		note = "dispute dismissed"
	}
	if o.PreDisputeStatus == order.StatusDelivered &&
		o.AutoCompleteAt != nil && time.Now().After(*o.AutoCompleteAt) {
		_, err := s.orders.CompleteLocked(ctx, o, resolverID, note+" (grace period elapsed)")
		return err
	}
	_, err := s.orders.ResumeLocked(ctx, o, resolverID, note)
	return err
}

// Withdraw lets the opener retract a dispute that is still opened. It
// resolves as a dismissal: the order resumes and no funds move. Once
// mediation has started only support can close the dispute.
func (s *Service) Withdraw(ctx context.Context, disputeID, callerID string) (*Dispute, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock := s.orders.Lock(d.OrderID)
	defer unlock()

	d, err = s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, ErrDisputeResolved
	}
	if d.Status != StatusOpened {
		return nil, ErrNotWithdrawable
	}
	if callerID != d.OpenedBy {
		return nil, ErrNotParty
	}

	o, err := s.orders.GetLocked(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.settleDismissed(ctx, o, callerID, "dispute withdrawn"); err != nil {
		return nil, err
	}

	now := time.Now()
	d.Status = StatusResolved
	d.Outcome = resolution.Dismissed
	d.ResolvedBy = callerID
	d.ResolutionNote = "withdrawn by opener"
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		s.logger.Error("CRITICAL: order resumed but withdrawal not persisted",
			"disputeId", d.ID, "error", err)
		return nil, err
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(d.Outcome)).Inc()
	metrics.OpenDisputes.Dec()
	metrics.DisputeDuration.Observe(now.Sub(d.CreatedAt).Seconds())
	s.emit(ctx, "dispute.resolved", map[string]any{
		"disputeId": d.ID,
		"orderId":   d.OrderID,
		"outcome":   d.Outcome,
		"withdrawn": true,
	})
	return d, nil
}

// Get returns a dispute by ID.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// Messages returns the conversation log in sequence order.
func (s *Service) Messages(ctx context.Context, disputeID string) ([]*Message, error) {
	if _, err := s.store.Get(ctx, disputeID); err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, disputeID)
}

// Evidence returns the evidence list for a dispute.
func (s *Service) Evidence(ctx context.Context, disputeID string) ([]*Evidence, error) {
	if _, err := s.store.Get(ctx, disputeID); err != nil {
		return nil, err
	}
	return s.store.ListEvidence(ctx, disputeID)
}

// ListByStatus returns disputes in a given status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}

// ListByUser returns disputes the user is a party to, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

func (s *Service) emit(ctx context.Context, eventType string, payload any) {
	if s.emitter != nil {
		s.emitter.Emit(ctx, eventType, payload)
	}
}
