package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/shelfswap/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		PaymentTimeout:   config.DefaultPaymentTimeout,
		GracePeriod:      config.DefaultGracePeriod,
		EscalationPeriod: config.DefaultEscalation,
		MaxEvidenceBytes: config.DefaultMaxEvidenceBytes,
	}
}

// newTestServer creates a server with in-memory stores and the mock processor
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// register creates a user via the public registration endpoint and
// returns the issued API key.
func register(t *testing.T, s *Server, name string) (userID, apiKey string) {
	t.Helper()

	body := `{"displayName":"` + name + `"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Registration failed: %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	userID, _ = resp["userId"].(string)
	apiKey, _ = resp["apiKey"].(string)
	if userID == "" || apiKey == "" {
		t.Fatalf("Expected userId and apiKey in response: %v", resp)
	}
	return userID, apiKey
}

// doJSON performs an authenticated JSON request against the router.
func doJSON(s *Server, method, path, apiKey, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/register",
		"GET:/v1/auth/info",
		"POST:/v1/orders",
		"GET:/v1/orders/:id",
		"POST:/v1/orders/:id/pay",
		"POST:/v1/orders/:id/dispute",
		"GET:/v1/disputes",
		"POST:/v1/disputes/:id/resolve",
		"GET:/v1/users/:id/balance",
		"GET:/v1/users/:id/disputes",
		"POST:/v1/webhooks",
		"GET:/v1/ledger/reconcile",
		"POST:/v1/admin/support-keys",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Registration and auth tests
// ---------------------------------------------------------------------------

func TestRegistrationReturnsAPIKey(t *testing.T) {
	s := newTestServer(t)

	_, apiKey := register(t, s, "TestUser")

	if !strings.HasPrefix(apiKey, "sk_") {
		t.Errorf("Expected sk_ prefixed API key, got %q", apiKey)
	}

	// Key must work against a protected endpoint
	w := doJSON(s, "GET", "/v1/auth/me", apiKey, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from /v1/auth/me, got %d: %s", w.Code, w.Body.String())
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/v1/orders", "", `{"sellerId":"usr_x","amount":"10.00"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}

func TestSupportRouteForbiddenForUsers(t *testing.T) {
	s := newTestServer(t)

	_, apiKey := register(t, s, "RegularUser")

	w := doJSON(s, "GET", "/v1/disputes", apiKey, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for user-role key on support route, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Order flow through the router
// ---------------------------------------------------------------------------

func TestOrderFlowThroughRouter(t *testing.T) {
	s := newTestServer(t)

	_, buyerKey := register(t, s, "Buyer")
	sellerID, sellerKey := register(t, s, "Seller")

	// Buyer places an order
	w := doJSON(s, "POST", "/v1/orders", buyerKey, `{"sellerId":"`+sellerID+`","amount":"25.00"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating order, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse order response: %v", err)
	}
	orderID := created.Order.ID
	if orderID == "" {
		t.Fatal("Expected order ID in response")
	}

	// Buyer pays
	w = doJSON(s, "POST", "/v1/orders/"+orderID+"/pay", buyerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 paying order, got %d: %s", w.Code, w.Body.String())
	}

	// Seller ships
	w = doJSON(s, "POST", "/v1/orders/"+orderID+"/ship", sellerKey, `{"trackingRef":"TRK-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 shipping order, got %d: %s", w.Code, w.Body.String())
	}

	// Buyer confirms delivery and completion
	w = doJSON(s, "POST", "/v1/orders/"+orderID+"/delivered", buyerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 marking delivered, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(s, "POST", "/v1/orders/"+orderID+"/confirm", buyerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 confirming order, got %d: %s", w.Code, w.Body.String())
	}

	// Seller balance shows the released funds
	w = doJSON(s, "GET", "/v1/users/"+sellerID+"/balance", sellerKey, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 reading balance, got %d: %s", w.Code, w.Body.String())
	}
	var bal struct {
		Balance struct {
			Available string `json:"available"`
		} `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatalf("Failed to parse balance response: %v", err)
	}
	if bal.Balance.Available != "25.00" {
		t.Errorf("Expected seller available 25.00, got %q", bal.Balance.Available)
	}
}

// ---------------------------------------------------------------------------
// Webhook subscription through the router
// ---------------------------------------------------------------------------

func TestWebhookSubscription(t *testing.T) {
	s := newTestServer(t)

	_, apiKey := register(t, s, "Subscriber")

	body := `{"url":"https://example.com/hook","events":["order.transitioned"]}`
	w := doJSON(s, "POST", "/v1/webhooks", apiKey, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating subscription, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["secret"] == nil || resp["secret"] == "" {
		t.Error("Expected signing secret in creation response")
	}

	w = doJSON(s, "GET", "/v1/webhooks", apiKey, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 listing subscriptions, got %d", w.Code)
	}
}

func TestUnknownEventTypeRejected(t *testing.T) {
	s := newTestServer(t)

	_, apiKey := register(t, s, "Subscriber")

	body := `{"url":"https://example.com/hook","events":["order.teleported"]}`
	w := doJSON(s, "POST", "/v1/webhooks", apiKey, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown event type, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Misc
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID response header")
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	s.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("Expected X-Request-ID to pass through, got %q", got)
	}
}
