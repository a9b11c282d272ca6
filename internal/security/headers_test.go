package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(middleware gin.HandlerFunc, method string, headers map[string]string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(middleware)
	r.Any("/orders", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/orders", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(), "GET", nil)

	for name, want := range defaultHeaders {
		if got := w.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestCORSWildcardEchoesOrigin(t *testing.T) {
	w := serve(CORSMiddleware([]string{"*"}), "GET",
		map[string]string{"Origin": "https://shelfswap.example"})

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://shelfswap.example" {
		t.Errorf("Allow-Origin = %q, want the request origin", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard config must not allow credentials")
	}
}

func TestCORSExplicitOriginList(t *testing.T) {
	mw := CORSMiddleware([]string{"https://app.shelfswap.example"})

	w := serve(mw, "GET", map[string]string{"Origin": "https://app.shelfswap.example"})
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.shelfswap.example" {
		t.Error("listed origin should be allowed")
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("explicit origin list should allow credentials")
	}

	w = serve(mw, "GET", map[string]string{"Origin": "https://evil.example"})
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not get CORS headers")
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	w := serve(CORSMiddleware([]string{"*"}), "OPTIONS",
		map[string]string{"Origin": "https://shelfswap.example"})

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}

func TestValidateEndpointURL(t *testing.T) {
	// Hostname cases need DNS, so public targets are IP literals here.
	tests := []struct {
		url    string
		wantOK bool
	}{
		{"https://93.184.216.34/shelfswap", true},
		{"http://93.184.216.34:8080/shelfswap", true},
		{"ftp://hooks.example.com/x", false},
		{"https://", false},
		{"https://localhost/hook", false},
		{"https://127.0.0.1/hook", false},
		{"https://10.1.2.3/hook", false},
		{"https://192.168.1.5/hook", false},
		{"https://169.254.169.254/latest/meta-data", false},
		{"https://0.0.0.0/hook", false},
		{"https://metadata.google.internal/hook", false},
		{"https://[::1]/hook", false},
	}

	for _, tt := range tests {
		err := ValidateEndpointURL(tt.url)
		if tt.wantOK && err != nil {
			t.Errorf("ValidateEndpointURL(%q) = %v, want nil", tt.url, err)
		}
		if !tt.wantOK && err == nil {
			t.Errorf("ValidateEndpointURL(%q) = nil, want error", tt.url)
		}
	}
}
