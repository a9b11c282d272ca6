package dispute

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/shelfswap/internal/ledger"
	"github.com/mbd888/shelfswap/internal/order"
	"github.com/mbd888/shelfswap/internal/payments"
	"github.com/mbd888/shelfswap/internal/resolution"
)

type fixture struct {
	disputes *Service
	orders   *order.Service
	ledger   *ledger.Ledger
	proc     *payments.MockProcessor
}

func newFixture() *fixture {
	led := ledger.New(ledger.NewMemoryStore())
	proc := payments.NewMockProcessor()
	orders := order.NewService(order.NewMemoryStore(), led, proc, nil)
	disputes := NewService(NewMemoryStore(), orders, led, proc, nil)
	return &fixture{disputes: disputes, orders: orders, ledger: led, proc: proc}
}

// paidOrder drives an order to the given status.
func (f *fixture) paidOrder(t *testing.T, upTo order.Status) *order.Order {
	t.Helper()
	ctx := context.Background()

	o, err := f.orders.Create(ctx, "buyer1", order.CreateRequest{SellerID: "seller1", Amount: "17.45"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if upTo == order.StatusPendingPayment {
		return o
	}

	o, err = f.orders.ConfirmPayment(ctx, o.ID, "buyer1")
	if err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}
	if upTo == order.StatusPaymentReceived {
		return o
	}

	o, err = f.orders.MarkShipped(ctx, o.ID, "seller1", "TRK1")
	if err != nil {
		t.Fatalf("MarkShipped failed: %v", err)
	}
	if upTo == order.StatusShipping {
		return o
	}

	o, err = f.orders.MarkDelivered(ctx, o.ID, "seller1")
	if err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	return o
}

func (f *fixture) mediationDispute(t *testing.T, o *order.Order) *Dispute {
	t.Helper()
	ctx := context.Background()

	d, err := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{
		Reason:      "damaged_item",
		Description: "book arrived water-damaged",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := f.disputes.PostMessage(ctx, d.ID, "buyer1", "", "pages are soaked"); err != nil {
		t.Fatalf("buyer message failed: %v", err)
	}
	if _, err := f.disputes.PostMessage(ctx, d.ID, "seller1", "", "it was dry when shipped"); err != nil {
		t.Fatalf("seller message failed: %v", err)
	}

	d, err = f.disputes.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Status != StatusMediation {
		t.Fatalf("dispute status = %s, want mediation after both parties spoke", d.Status)
	}
	return d
}

func TestOpen_FreezesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)

	d, err := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if d.Status != StatusOpened || d.BuyerID != "buyer1" || d.SellerID != "seller1" {
		t.Errorf("dispute = %+v", d)
	}

	frozen, _ := f.orders.Get(ctx, o.ID)
	if frozen.Status != order.StatusDisputed || frozen.PreDisputeStatus != order.StatusShipping {
		t.Errorf("order = %s/%s, want disputed/shipping", frozen.Status, frozen.PreDisputeStatus)
	}
}

func TestOpen_SecondDisputeRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)

	if _, err := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"}); err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if _, err := f.disputes.Open(ctx, o.ID, "seller1", OpenRequest{Reason: "other"}); !errors.Is(err, ErrDisputeAlreadyExists) {
		t.Errorf("second Open = %v, want ErrDisputeAlreadyExists", err)
	}
}

func TestOpen_NonParty(t *testing.T) {
	f := newFixture()
	o := f.paidOrder(t, order.StatusShipping)

	if _, err := f.disputes.Open(context.Background(), o.ID, "stranger", OpenRequest{Reason: "other"}); !errors.Is(err, ErrNotParty) {
		t.Errorf("err = %v, want ErrNotParty", err)
	}
}

func TestOpen_BeforePayment(t *testing.T) {
	f := newFixture()
	o := f.paidOrder(t, order.StatusPendingPayment)

	if _, err := f.disputes.Open(context.Background(), o.ID, "buyer1", OpenRequest{Reason: "other"}); !errors.Is(err, order.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestOpen_RejectsFreeTextReason(t *testing.T) {
	f := newFixture()
	o := f.paidOrder(t, order.StatusShipping)

	for _, reason := range []string{"", "it never came", "ITEM_NOT_RECEIVED"} {
		if _, err := f.disputes.Open(context.Background(), o.ID, "buyer1", OpenRequest{Reason: reason}); !errors.Is(err, ErrInvalidReason) {
			t.Errorf("Open(%q) = %v, want ErrInvalidReason", reason, err)
		}
	}

	// The rejected opens must not have frozen the order.
	fresh, _ := f.orders.Get(context.Background(), o.ID)
	if fresh.Status != order.StatusShipping {
		t.Errorf("order status = %s, want shipping", fresh.Status)
	}
}

func TestPostMessage_SequenceIsMonotonic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"})

	for i := 0; i < 3; i++ {
		if _, err := f.disputes.PostMessage(ctx, d.ID, "buyer1", "", "still waiting"); err != nil {
			t.Fatalf("PostMessage failed: %v", err)
		}
	}

	messages, _ := f.disputes.Messages(ctx, d.ID)
	for i, m := range messages {
		if m.Seq != i+1 {
			t.Errorf("message %d has seq %d", i, m.Seq)
		}
		if m.Role != "buyer" {
			t.Errorf("message %d role = %s, want buyer", i, m.Role)
		}
	}
}

func TestPostMessage_SupportOnlyInMediation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"})

	// While the parties are still talking, support stays out.
	if _, err := f.disputes.PostMessage(ctx, d.ID, "support1", "support", "any update?"); !errors.Is(err, ErrNotMediation) {
		t.Errorf("support post while opened = %v, want ErrNotMediation", err)
	}

	if err := f.disputes.Escalate(ctx, d.ID, "deadline"); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	m, err := f.disputes.PostMessage(ctx, d.ID, "support1", "support", "reviewing the evidence")
	if err != nil {
		t.Fatalf("support post in mediation failed: %v", err)
	}
	if m.Role != "support" {
		t.Errorf("role = %s, want support", m.Role)
	}
}

// jpegEvidence is a valid metadata submission for tests to vary.
func jpegEvidence() EvidenceRequest {
	return EvidenceRequest{
		Filename:    "damage.jpg",
		URL:         "https://blobs.example.com/evd/damage.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   48213,
		SHA256:      strings.Repeat("ab", 32),
	}
}

func TestAddEvidence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "damaged_item"})

	req := jpegEvidence()
	e, err := f.disputes.AddEvidence(ctx, d.ID, "buyer1", req)
	if err != nil {
		t.Fatalf("AddEvidence failed: %v", err)
	}
	if e.URL != req.URL || e.SHA256 != req.SHA256 || e.SizeBytes != req.SizeBytes {
		t.Errorf("evidence metadata incomplete: %+v", e)
	}

	// The same content hash is rejected even under another name.
	dup := jpegEvidence()
	dup.Filename = "copy.jpg"
	dup.URL = "https://blobs.example.com/evd/copy.jpg"
	if _, err := f.disputes.AddEvidence(ctx, d.ID, "seller1", dup); !errors.Is(err, ErrDuplicateEvidence) {
		t.Errorf("duplicate = %v, want ErrDuplicateEvidence", err)
	}
}

func TestAddEvidence_TypeAndSizeLimits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "damaged_item"})

	bad := jpegEvidence()
	bad.Filename = "x.exe"
	bad.ContentType = "application/x-msdownload"
	if _, err := f.disputes.AddEvidence(ctx, d.ID, "buyer1", bad); !errors.Is(err, ErrUnsupportedEvidence) {
		t.Errorf("bad type = %v, want ErrUnsupportedEvidence", err)
	}

	f.disputes.WithMaxEvidenceBytes(8)
	big := jpegEvidence()
	big.SizeBytes = 9
	if _, err := f.disputes.AddEvidence(ctx, d.ID, "buyer1", big); !errors.Is(err, ErrEvidenceTooLarge) {
		t.Errorf("oversize = %v, want ErrEvidenceTooLarge", err)
	}
}

func TestAddEvidence_RejectsBadMetadata(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "damaged_item"})

	for name, mutate := range map[string]func(*EvidenceRequest){
		"ftp url":       func(r *EvidenceRequest) { r.URL = "ftp://blobs.example.com/x" },
		"relative url":  func(r *EvidenceRequest) { r.URL = "/evd/damage.jpg" },
		"short hash":    func(r *EvidenceRequest) { r.SHA256 = "abcd" },
		"non-hex hash":  func(r *EvidenceRequest) { r.SHA256 = strings.Repeat("zz", 32) },
		"zero size":     func(r *EvidenceRequest) { r.SizeBytes = 0 },
		"negative size": func(r *EvidenceRequest) { r.SizeBytes = -1 },
	} {
		req := jpegEvidence()
		mutate(&req)
		if _, err := f.disputes.AddEvidence(ctx, d.ID, "buyer1", req); !errors.Is(err, ErrInvalidEvidence) {
			t.Errorf("%s = %v, want ErrInvalidEvidence", name, err)
		}
	}
}

func TestResolve_PartialRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusDelivered)
	d := f.mediationDispute(t, o)

	resolved, err := f.disputes.Resolve(ctx, d.ID, "support1", ResolveRequest{
		Outcome: resolution.PartialRefund,
		Amount:  "5.00",
		Note:    "split the difference",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Outcome != resolution.PartialRefund || resolved.RefundAmount != "5.00" || resolved.ReleaseAmount != "12.45" {
		t.Errorf("resolution amounts = %s/%s", resolved.RefundAmount, resolved.ReleaseAmount)
	}

	// Funds: hold fully consumed, seller credited with the remainder.
	buyerBal, _ := f.ledger.GetBalance(ctx, "buyer1")
	sellerBal, _ := f.ledger.GetBalance(ctx, "seller1")
	if buyerBal.Held != "0.00" {
		t.Errorf("buyer held = %s, want 0.00", buyerBal.Held)
	}
	if sellerBal.Available != "12.45" {
		t.Errorf("seller available = %s, want 12.45", sellerBal.Available)
	}

	final, _ := f.orders.Get(ctx, o.ID)
	if final.Status != order.StatusCompleted {
		t.Errorf("order status = %s, want completed", final.Status)
	}
}

func TestResolve_FullRefundCancelsOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusDelivered)
	d := f.mediationDispute(t, o)

	if _, err := f.disputes.Resolve(ctx, d.ID, "support1", ResolveRequest{Outcome: resolution.FullRefund}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	final, _ := f.orders.Get(ctx, o.ID)
	if final.Status != order.StatusCancelled {
		t.Errorf("order status = %s, want cancelled", final.Status)
	}
	buyerBal, _ := f.ledger.GetBalance(ctx, "buyer1")
	if buyerBal.Held != "0.00" {
		t.Errorf("buyer held = %s, want 0.00", buyerBal.Held)
	}
	// The refund went back out through the processor.
	movements := f.proc.Movements(o.PaymentRef)
	if len(movements) != 1 || movements[0].Op != "refund" || movements[0].Amount != "17.45" {
		t.Errorf("processor movements = %+v", movements)
	}
}

func TestResolve_ReleaseToSeller(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusDelivered)
	d := f.mediationDispute(t, o)

	if _, err := f.disputes.Resolve(ctx, d.ID, "support1", ResolveRequest{Outcome: resolution.ReleaseToSeller}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	sellerBal, _ := f.ledger.GetBalance(ctx, "seller1")
	if sellerBal.Available != "17.45" {
		t.Errorf("seller available = %s, want 17.45", sellerBal.Available)
	}
	final, _ := f.orders.Get(ctx, o.ID)
	if final.Status != order.StatusCompleted {
		t.Errorf("order status = %s, want completed", final.Status)
	}
}

func TestResolve_DismissedResumesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d := f.mediationDispute(t, o)

	if _, err := f.disputes.Resolve(ctx, d.ID, "support1", ResolveRequest{Outcome: resolution.Dismissed}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	final, _ := f.orders.Get(ctx, o.ID)
	if final.Status != order.StatusShipping {
		t.Errorf("order status = %s, want shipping", final.Status)
	}
	// Funds still held for the eventual completion.
	held, err := f.ledger.HeldAmount(ctx, o.ID)
	if err != nil || held != "17.45" {
		t.Errorf("held = %s (%v), want 17.45", held, err)
	}
}

func TestResolve_DismissedAfterGraceForcesCompletion(t *testing.T) {
	f := newFixture()
	f.orders.WithGracePeriod(time.Millisecond)
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusDelivered)
	d := f.mediationDispute(t, o)

	time.Sleep(5 * time.Millisecond)

	if _, err := f.disputes.Resolve(ctx, d.ID, "support1", ResolveRequest{Outcome: resolution.Dismissed}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	final, _ := f.orders.Get(ctx, o.ID)
	if final.Status != order.StatusCompleted {
		t.Errorf("order status = %s, want completed", final.Status)
	}
	sellerBal, _ := f.ledger.GetBalance(ctx, "seller1")
	if sellerBal.Available != "17.45" {
		t.Errorf("seller available = %s, want 17.45", sellerBal.Available)
	}
}

func TestResolve_WhileOpened(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"})

	if _, err := f.disputes.Resolve(ctx, d.ID, "support1", ResolveRequest{Outcome: resolution.FullRefund}); !errors.Is(err, ErrNotMediation) {
		t.Errorf("err = %v, want ErrNotMediation", err)
	}
}

func TestResolve_Twice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusDelivered)
	d := f.mediationDispute(t, o)

	if _, err := f.disputes.Resolve(ctx, d.ID, "support1", ResolveRequest{Outcome: resolution.FullRefund}); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	if _, err := f.disputes.Resolve(ctx, d.ID, "support2", ResolveRequest{Outcome: resolution.ReleaseToSeller}); !errors.Is(err, ErrDisputeResolved) {
		t.Errorf("second Resolve = %v, want ErrDisputeResolved", err)
	}
}

func TestResolve_AmountExceedsHeld(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusDelivered)
	d := f.mediationDispute(t, o)

	_, err := f.disputes.Resolve(ctx, d.ID, "support1", ResolveRequest{
		Outcome: resolution.PartialRefund,
		Amount:  "20.00",
	})
	if !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("err = %v, want ErrInvalidResolution", err)
	}
	if !errors.Is(err, resolution.ErrAmountExceeds) {
		t.Errorf("err = %v, want wrapped ErrAmountExceeds", err)
	}
}

func TestWithdraw(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"})

	if _, err := f.disputes.Withdraw(ctx, d.ID, "seller1"); !errors.Is(err, ErrNotParty) {
		t.Errorf("Withdraw by non-opener = %v, want ErrNotParty", err)
	}

	withdrawn, err := f.disputes.Withdraw(ctx, d.ID, "buyer1")
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if withdrawn.Status != StatusResolved || withdrawn.Outcome != resolution.Dismissed {
		t.Errorf("withdrawn = %s/%s", withdrawn.Status, withdrawn.Outcome)
	}

	final, _ := f.orders.Get(ctx, o.ID)
	if final.Status != order.StatusShipping {
		t.Errorf("order status = %s, want shipping", final.Status)
	}

	// A new dispute can now be opened.
	if _, err := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"}); err != nil {
		t.Errorf("reopen after withdrawal = %v, want nil", err)
	}
}

func TestWithdraw_NotFromMediation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d := f.mediationDispute(t, o)

	if _, err := f.disputes.Withdraw(ctx, d.ID, "buyer1"); !errors.Is(err, ErrNotWithdrawable) {
		t.Errorf("Withdraw from mediation = %v, want ErrNotWithdrawable", err)
	}

	// The dispute and the frozen order are untouched.
	fresh, _ := f.disputes.Get(ctx, d.ID)
	if fresh.Status != StatusMediation {
		t.Errorf("dispute status = %s, want mediation", fresh.Status)
	}
	frozen, _ := f.orders.Get(ctx, o.ID)
	if frozen.Status != order.StatusDisputed {
		t.Errorf("order status = %s, want disputed", frozen.Status)
	}
}

func TestListByUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o1 := f.paidOrder(t, order.StatusShipping)
	if _, err := f.disputes.Open(ctx, o1.ID, "buyer1", OpenRequest{Reason: "item_not_received"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for _, tc := range []struct {
		user string
		want int
	}{
		{"buyer1", 1},
		{"seller1", 1},
		{"bystander", 0},
	} {
		got, err := f.disputes.ListByUser(ctx, tc.user, 10)
		if err != nil {
			t.Fatalf("ListByUser(%s) failed: %v", tc.user, err)
		}
		if len(got) != tc.want {
			t.Errorf("ListByUser(%s) = %d disputes, want %d", tc.user, len(got), tc.want)
		}
	}
}

func TestEscalationDeadline(t *testing.T) {
	f := newFixture()
	f.disputes.WithEscalation(time.Millisecond)
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"})

	time.Sleep(5 * time.Millisecond)

	overdue, err := f.disputes.store.ListEscalatable(ctx, time.Now(), 10)
	if err != nil || len(overdue) != 1 {
		t.Fatalf("ListEscalatable = %d disputes (%v), want 1", len(overdue), err)
	}
	if err := f.disputes.Escalate(ctx, d.ID, "deadline"); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	escalated, _ := f.disputes.Get(ctx, d.ID)
	if escalated.Status != StatusMediation {
		t.Errorf("status = %s, want mediation", escalated.Status)
	}
}

func TestEscalate_AfterWithdrawalIsNoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t, order.StatusShipping)
	d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"})

	if _, err := f.disputes.Withdraw(ctx, d.ID, "buyer1"); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}

	// A late escalation timer must not reopen the resolved dispute.
	if err := f.disputes.Escalate(ctx, d.ID, "deadline"); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	final, _ := f.disputes.Get(ctx, d.ID)
	if final.Status != StatusResolved || final.Outcome != resolution.Dismissed {
		t.Errorf("dispute = %s/%s, want resolved/dismissed", final.Status, final.Outcome)
	}
	if final.ResolvedAt == nil {
		t.Error("ResolvedAt cleared by stale escalation")
	}
}

func TestEscalate_RacingWithdrawal(t *testing.T) {
	for i := 0; i < 25; i++ {
		f := newFixture()
		ctx := context.Background()
		o := f.paidOrder(t, order.StatusShipping)
		d, _ := f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "item_not_received"})

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_ = f.disputes.Escalate(ctx, d.ID, "deadline")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _ = f.disputes.Withdraw(ctx, d.ID, "buyer1")
		}()
		close(start)
		wg.Wait()

		final, _ := f.disputes.Get(ctx, d.ID)
		switch final.Status {
		case StatusResolved:
			if final.ResolvedAt == nil || final.Outcome != resolution.Dismissed {
				t.Fatalf("resolved dispute lost its outcome: %+v", final)
			}
		case StatusMediation:
			// Escalation won; the withdrawal must have been refused.
			if final.ResolvedAt != nil {
				t.Fatalf("mediation dispute carries ResolvedAt: %+v", final)
			}
		default:
			t.Fatalf("unexpected final status %s", final.Status)
		}
	}
}

// A seller marking shipped while the buyer opens a dispute must
// serialize on the per-order lock: the dispute always lands, and a
// ship attempt that loses the race is refused rather than silently
// overwriting the frozen order.
func TestConcurrentShipAndOpen(t *testing.T) {
	for i := 0; i < 25; i++ {
		f := newFixture()
		ctx := context.Background()
		o := f.paidOrder(t, order.StatusPaymentReceived)

		var (
			wg      sync.WaitGroup
			shipErr error
			openErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, shipErr = f.orders.MarkShipped(ctx, o.ID, "seller1", "TRK1")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, openErr = f.disputes.Open(ctx, o.ID, "buyer1", OpenRequest{Reason: "other"})
		}()
		close(start)
		wg.Wait()

		if openErr != nil {
			t.Fatalf("Open failed: %v", openErr)
		}
		final, _ := f.orders.Get(ctx, o.ID)
		if final.Status != order.StatusDisputed {
			t.Fatalf("order status = %s, want disputed", final.Status)
		}

		if shipErr == nil {
			// Ship won the lock first; the dispute froze a shipping order.
			if final.PreDisputeStatus != order.StatusShipping {
				t.Fatalf("pre-dispute status = %s, want shipping", final.PreDisputeStatus)
			}
		} else {
			// Dispute won; the seller saw the conflict instead of a
			// silent overwrite.
			if !errors.Is(shipErr, order.ErrInvalidTransition) {
				t.Fatalf("losing ship = %v, want ErrInvalidTransition", shipErr)
			}
			if final.PreDisputeStatus != order.StatusPaymentReceived {
				t.Fatalf("pre-dispute status = %s, want payment_received", final.PreDisputeStatus)
			}
		}
	}
}
