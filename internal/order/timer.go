package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically auto-completes delivered orders past their grace
// period and cancels unpaid orders past their payment deadline.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new order lifecycle timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in order timer", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

func (t *Timer) sweep(ctx context.Context) {
	now := time.Now()

	// 1. Auto-complete delivered orders whose grace period has passed.
	completable, err := t.store.ListAutoCompletable(ctx, now, 100)
	if err != nil {
		t.logger.Warn("failed to list auto-completable orders", "error", err)
	} else {
		for _, o := range completable {
			if _, err := t.service.AutoComplete(ctx, o.ID); err != nil {
				t.logger.Warn("failed to auto-complete order",
					"orderId", o.ID, "error", err)
				continue
			}
			t.logger.Info("auto-completed order",
				"orderId", o.ID, "seller", o.SellerID, "amount", o.Amount)
		}
	}

	// 2. Cancel unpaid orders past their payment deadline.
	expired, err := t.store.ListPaymentExpired(ctx, now, 100)
	if err != nil {
		t.logger.Warn("failed to list payment-expired orders", "error", err)
		return
	}
	for _, o := range expired {
		if _, err := t.service.ExpirePayment(ctx, o.ID); err != nil {
			t.logger.Warn("failed to expire unpaid order",
				"orderId", o.ID, "error", err)
			continue
		}
		t.logger.Info("cancelled unpaid order", "orderId", o.ID, "buyer", o.BuyerID)
	}
}
