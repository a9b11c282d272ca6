package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Subsystem: "events",
		Name:      "emit_total",
		Help:      "Total domain event emissions by event type.",
	}, []string{"event_type"})

	eventEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Subsystem: "events",
		Name:      "emit_errors_total",
		Help:      "Total domain event emission failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(eventEmitTotal, eventEmitErrors)
}

// Listener receives every emitted event in-process (e.g. the realtime
// hub). Must not block.
type Listener func(event *Event)

// Emitter appends events to the log and fans them out to webhook
// subscribers and in-process listeners. All methods are fire-and-forget:
// errors are logged but never returned to the workflow that emitted.
type Emitter struct {
	d         *Dispatcher
	log       LogStore
	listeners []Listener
	logger    *slog.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(d *Dispatcher, log LogStore, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{d: d, log: log, logger: logger}
}

// AddListener registers an in-process listener.
func (e *Emitter) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Emit satisfies the EventEmitter interfaces of the order and dispute
// services.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload any) {
	if e == nil {
		return
	}
	et := EventType(eventType)
	eventEmitTotal.WithLabelValues(eventType).Inc()

	data, ok := payload.(map[string]any)
	if !ok {
		data = map[string]any{"payload": payload}
	}

	event := &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      et,
		Timestamp: time.Now(),
		Data:      data,
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if e.log != nil {
		if err := e.log.Append(emitCtx, event); err != nil {
			eventEmitErrors.WithLabelValues(eventType).Inc()
			e.logger.Warn("event log append failed", "event", eventType, "error", err)
		}
	}

	for _, l := range e.listeners {
		l(event)
	}

	if e.d != nil {
		if err := e.d.Dispatch(emitCtx, event); err != nil {
			eventEmitErrors.WithLabelValues(eventType).Inc()
			e.logger.Warn("event dispatch failed", "event", eventType, "error", err)
		}
	}
}
