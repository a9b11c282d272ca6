package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer escalates opened disputes to mediation once their escalation
// deadline passes without both parties responding.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new dispute escalation timer.
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

// Start begins the escalation loop. Call in a goroutine.
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
			t.safeEscalate(ctx)
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

func (t *Timer) safeEscalate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in dispute timer", "panic", fmt.Sprint(r))
		}
	}()
	t.escalateOverdue(ctx)
}

func (t *Timer) escalateOverdue(ctx context.Context) {
	overdue, err := t.store.ListEscalatable(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list escalatable disputes", "error", err)
		return
	}

	for _, d := range overdue {
		if err := t.service.Escalate(ctx, d.ID, "escalation deadline passed"); err != nil {
			t.logger.Warn("failed to escalate dispute",
				"disputeId", d.ID, "error", err)
			continue
		}
		t.logger.Info("escalated dispute to mediation",
			"disputeId", d.ID, "orderId", d.OrderID)
	}
}
