package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var baseHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Content-Security-Policy", "default-src 'self'"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
}

// SecurityHeaders sets the browser hardening headers. HSTS is only sent on
// TLS connections.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range baseHeaders {
			h.Set(kv[0], kv[1])
		}
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	Requests       int           // requests allowed per Window
	Window         time.Duration // defaults to one minute
	Burst          int           // defaults to Requests
	TrustedProxies []string      // addresses or CIDRs allowed to set X-Forwarded-For
}

// buckets holds one token bucket per client address.
type buckets struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	idle    time.Duration
	byAddr  map[string]*bucket
	trusted []netip.Prefix
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func (b *buckets) get(addr string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byAddr[addr]
	if !ok {
		e = &bucket{lim: rate.NewLimiter(b.every, b.burst)}
		b.byAddr[addr] = e
	}
	e.seen = now
	return e.lim
}

func (b *buckets) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for addr, e := range b.byAddr {
		if now.Sub(e.seen) > b.idle {
			delete(b.byAddr, addr)
		}
	}
}

// RateLimit limits requests per client address with a token bucket that
// refills Requests tokens every Window. Idle buckets are swept once a minute
// until ctx is cancelled.
func RateLimit(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Requests
	}
	b := &buckets{
		every:   rate.Every(cfg.Window / time.Duration(max(cfg.Requests, 1))),
		burst:   cfg.Burst,
		idle:    max(cfg.Window, 3*time.Minute),
		byAddr:  map[string]*bucket{},
		trusted: parseTrusted(cfg.TrustedProxies),
	}

	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				b.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			lim := b.get(clientIP(r, b.trusted), now)
			if lim.AllowN(now, 1) {
				next.ServeHTTP(w, r)
				return
			}
			retry := int(math.Ceil((1 - lim.TokensAt(now)) / float64(lim.Limit())))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "Too many requests, please try again later."})
		})
	}
}

func parseTrusted(list []string) []netip.Prefix {
	var out []netip.Prefix
	for _, s := range list {
		s = strings.TrimSpace(s)
		if p, err := netip.ParsePrefix(s); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
		}
	}
	return out
}

// ClientIP returns the address of the client behind r. Forwarding headers
// count only when the TCP peer is one of trustedProxies, given as addresses
// or CIDRs.
func ClientIP(r *http.Request, trustedProxies []string) string {
	return clientIP(r, parseTrusted(trustedProxies))
}

func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func isTrusted(peer string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
