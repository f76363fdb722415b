package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/opennames/internal/config"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(r.RemoteAddr))
})

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"alpha", "beta"}}
	h := APIKeyAuth(cfg)(ok)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "gamma", http.StatusForbidden},
		{"first key", "alpha", http.StatusOK},
		{"second key", "beta", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/runs", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	h := APIKeyAuth(config.SecurityConfig{})(ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestTrustedRealIP(t *testing.T) {
	h := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr"})(ok)

	tests := []struct {
		name   string
		remote string
		header string
		value  string
		want   string
	}{
		{"trusted real ip", "10.1.2.3:4000", "X-Real-IP", "203.0.113.9", "203.0.113.9"},
		{"trusted forwarded chain", "192.168.1.5:4000", "X-Forwarded-For", "198.51.100.7, 10.0.0.1", "198.51.100.7"},
		{"untrusted proxy", "172.16.0.1:4000", "X-Real-IP", "203.0.113.9", "172.16.0.1:4000"},
		{"invalid header", "10.1.2.3:4000", "X-Real-IP", "nonsense", "10.1.2.3:4000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set(tt.header, tt.value)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	h := l.Handler(ok)

	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := call("203.0.113.9:1"); got != http.StatusOK {
		t.Fatalf("first call = %d", got)
	}
	if got := call("203.0.113.9:2"); got != http.StatusOK {
		t.Fatalf("second call = %d", got)
	}
	if got := call("203.0.113.9:3"); got != http.StatusTooManyRequests {
		t.Fatalf("third call = %d, want 429", got)
	}
	if got := call("198.51.100.7:1"); got != http.StatusOK {
		t.Fatalf("other client = %d", got)
	}

	now = now.Add(time.Minute)
	if got := call("203.0.113.9:4"); got != http.StatusOK {
		t.Fatalf("after window = %d", got)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	l := NewRateLimiter(0, time.Minute)
	for i := 0; i < 10; i++ {
		if !l.Allow("x") {
			t.Fatalf("call %d rejected", i)
		}
	}
}
