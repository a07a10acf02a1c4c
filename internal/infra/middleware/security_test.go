package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))

	expected := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'self'",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}
	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("Header %s = %q, want %q", header, got, want)
		}
	}
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS header should not be set without TLS, got: %q", hsts)
	}
}

func TestSecurityHeaders_HSTS_WithTLS(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/health", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func send(h http.Handler, remote string) int {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_BlocksExcessiveTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{Requests: 6, Window: time.Minute, Burst: 3})(okHandler())

	success, blocked := 0, 0
	for i := 0; i < 10; i++ {
		switch send(h, "192.168.1.1:12345") {
		case http.StatusOK:
			success++
		case http.StatusTooManyRequests:
			blocked++
		}
	}
	if success != 3 || blocked != 7 {
		t.Errorf("success=%d blocked=%d, want 3 and 7", success, blocked)
	}
}

func TestRateLimit_WindowBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 60 per 15 minutes with burst defaulting to the full budget.
	h := RateLimit(ctx, RateLimitConfig{Requests: 60, Window: 15 * time.Minute})(okHandler())

	for i := 0; i < 60; i++ {
		if code := send(h, "10.0.0.5:1"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, code)
		}
	}
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("61st request status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":false`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestRateLimit_SeparatesClientsByIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{Requests: 6, Burst: 2})(okHandler())

	blocked := false
	for i := 0; i < 3; i++ {
		if send(h, "192.168.1.1:12345") == http.StatusTooManyRequests {
			blocked = true
		}
	}
	if !blocked {
		t.Error("client 1 should have been rate limited")
	}
	for i := 0; i < 2; i++ {
		if code := send(h, "192.168.1.2:12345"); code != http.StatusOK {
			t.Errorf("client 2 request %d: status %d", i+1, code)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xff            string
		xRealIP        string
		trustedProxies []string
		want           string
	}{
		{"no proxies strips port", "192.168.1.1:12345", "", "", nil, "192.168.1.1"},
		{"ipv6 peer", "[::1]:8080", "", "", nil, "::1"},
		{"untrusted source ignores xff", "1.2.3.4:12345", "8.8.8.8", "", []string{"192.168.1.1"}, "1.2.3.4"},
		{"no trusted proxies ignores xff", "1.2.3.4:12345", "8.8.8.8", "", nil, "1.2.3.4"},
		{"trusted proxy uses first xff", "192.168.1.1:12345", "203.0.113.1, 198.51.100.1", "", []string{"192.168.1.1"}, "203.0.113.1"},
		{"trusted proxy uses x-real-ip", "192.168.1.1:12345", "", "203.0.113.9", []string{"192.168.1.1"}, "203.0.113.9"},
		{"trusted proxy without headers", "192.168.1.1:12345", "", "", []string{"192.168.1.1"}, "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := ClientIP(req, tt.trustedProxies); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://ask.uob.edu.bh"})(okHandler())

	req := httptest.NewRequest("OPTIONS", "/message/stream", nil)
	req.Header.Set("Origin", "https://ask.uob.edu.bh")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ask.uob.edu.bh" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest("POST", "/message", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin got %q", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestCORSWildcard(t *testing.T) {
	req := httptest.NewRequest("GET", "/chats", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	CORS([]string{"*"})(okHandler()).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestClientIPTrustedCIDR(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	if got := ClientIP(req, []string{"10.0.0.0/8"}); got != "198.51.100.7" {
		t.Errorf("ClientIP() = %q", got)
	}
	if got := ClientIP(req, []string{"172.16.0.0/12", "not-an-ip"}); got != "10.1.2.3" {
		t.Errorf("ClientIP() = %q", got)
	}
}

func TestRateLimitRetryAfterSeconds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// One token every 30s.
	h := RateLimit(ctx, RateLimitConfig{Requests: 2, Window: time.Minute, Burst: 1})(okHandler())
	send(h, "10.9.9.9:1")

	req := httptest.NewRequest("POST", "/message", nil)
	req.RemoteAddr = "10.9.9.9:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "30" && got != "29" {
		t.Errorf("Retry-After = %q, want about 30", got)
	}
}
