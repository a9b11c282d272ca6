package events

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

// newTestDispatcher creates a dispatcher that skips SSRF checks for localhost test servers.
func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcher(store)
	d.urlValidator = noopValidator
	return d
}

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_test1",
		UserID:    "usr_1",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventOrderTransitioned},
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	sub.Active = false
	_ = store.Update(ctx, sub)
	got, _ = store.Get(ctx, "wh_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	_ = store.Delete(ctx, "wh_test1")
	if _, err := store.Get(ctx, "wh_test1"); err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Create(ctx, &Subscription{ID: "wh1", Events: []EventType{EventOrderTransitioned, EventDisputeOpened}})
	_ = store.Create(ctx, &Subscription{ID: "wh2", Events: []EventType{EventDisputeResolved}})
	_ = store.Create(ctx, &Subscription{ID: "wh3", Events: []EventType{EventOrderTransitioned}})

	subs, _ := store.GetByEvent(ctx, EventOrderTransitioned)
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for order.transitioned, got %d", len(subs))
	}
}

func TestDispatch_SignsPayload(t *testing.T) {
	var received atomic.Int32
	var gotSig, gotBody atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		gotSig.Store(r.Header.Get("X-ShelfSwap-Signature"))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Secret: "topsecret",
		Events: []EventType{EventDisputeResolved},
		Active: true,
	})

	d := newTestDispatcher(store)
	event := &Event{
		ID:        "evt_1",
		Type:      EventDisputeResolved,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"disputeId": "dsp_1"},
	}
	if err := d.Dispatch(ctx, event); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for received.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if received.Load() != 1 {
		t.Fatalf("received = %d deliveries, want 1", received.Load())
	}

	body := gotBody.Load().([]byte)
	sig := gotSig.Load().(string)
	if !hmac.Equal([]byte(sig), []byte(Sign(body, "topsecret"))) {
		t.Error("signature does not verify against the payload")
	}

	var delivered Event
	if err := json.Unmarshal(body, &delivered); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if delivered.Type != EventDisputeResolved {
		t.Errorf("delivered type = %s", delivered.Type)
	}
}

func TestDispatch_SkipsInactiveAndOtherEvents(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Subscription{
		ID: "inactive", URL: server.URL, Events: []EventType{EventDisputeOpened}, Active: false,
	})
	_ = store.Create(ctx, &Subscription{
		ID: "other", URL: server.URL, Events: []EventType{EventDisputeResolved}, Active: true,
	})

	d := newTestDispatcher(store)
	_ = d.Dispatch(ctx, &Event{ID: "evt_1", Type: EventDisputeOpened, Timestamp: time.Now()})

	time.Sleep(100 * time.Millisecond)
	if received.Load() != 0 {
		t.Errorf("received = %d deliveries, want 0", received.Load())
	}
}

func TestDispatch_DisablesAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	sub := &Subscription{
		ID: "wh1", URL: server.URL, Events: []EventType{EventDisputeOpened}, Active: true,
	}
	_ = store.Create(ctx, sub)

	d := newTestDispatcher(store)
	for i := 0; i < maxConsecutiveFailures; i++ {
		d.send(ctx, sub, &Event{ID: "evt_x", Type: EventDisputeOpened, Timestamp: time.Now()})
	}

	got, _ := store.Get(ctx, "wh1")
	if got.Active {
		t.Error("subscription still active after repeated failures")
	}
	if got.ConsecutiveFailures < maxConsecutiveFailures {
		t.Errorf("consecutiveFailures = %d", got.ConsecutiveFailures)
	}
}

func TestEmitter_AppendsToLogAndNotifiesListeners(t *testing.T) {
	store := NewMemoryStore()
	e := NewEmitter(newTestDispatcher(store), store, nil)

	var heard atomic.Int32
	e.AddListener(func(event *Event) {
		if event.Type == EventOrderTransitioned {
			heard.Add(1)
		}
	})

	e.Emit(context.Background(), "order.transitioned", map[string]any{"orderId": "ord_1"})

	if heard.Load() != 1 {
		t.Errorf("listener heard %d events, want 1", heard.Load())
	}

	recent, err := store.Recent(context.Background(), 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("Recent = %d events (%v), want 1", len(recent), err)
	}
	if recent[0].Data["orderId"] != "ord_1" {
		t.Errorf("logged data = %v", recent[0].Data)
	}
}

func TestIsKnownEventType(t *testing.T) {
	for _, et := range KnownEventTypes {
		if !IsKnownEventType(et) {
			t.Errorf("%s not recognized", et)
		}
	}
	if IsKnownEventType("order.deleted") {
		t.Error("unknown type accepted")
	}
}
