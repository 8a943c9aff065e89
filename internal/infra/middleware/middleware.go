// Package middleware holds HTTP wrappers shared by the gateway endpoints.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pintrainer/internal/domain"
)

// SecurityHeaders adds the usual browser hardening headers to every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'self'")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitConfig holds the per-client token bucket settings.
type RateLimitConfig struct {
	RPS            float64       // sustained requests per second
	Burst          int           // bucket size
	TrustedProxies []string      // only these peers may set X-Forwarded-For
	IdleTTL        time.Duration // forget clients idle this long; default 3m
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*limitedClient
}

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter and starts a sweeper that stops with ctx.
func NewRateLimiter(ctx context.Context, cfg RateLimitConfig) *RateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	rl := &RateLimiter{cfg: cfg, clients: make(map[string]*limitedClient)}
	go rl.sweep(ctx)
	return rl
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.forgetIdle(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) forgetIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.cfg.IdleTTL {
			delete(rl.clients, ip)
		}
	}
}

// Allow takes one token from ip's bucket.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &limitedClient{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()
	return c.limiter.Allow()
}

// Clients returns the number of tracked client IPs.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects requests over the limit with 429 and a JSON error body
// carrying domain.CodeRateLimit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r, rl.cfg.TrustedProxies)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": domain.ErrRateLimit.Error(),
				"code":  string(domain.CodeRateLimit),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the peer address of r. Forwarding headers are honoured
// only when the peer is a trusted proxy.
func ClientIP(r *http.Request, trustedProxies []string) string {
	directIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(directIP); err == nil {
		directIP = host
	}

	trusted := false
	for _, p := range trustedProxies {
		if p == directIP {
			trusted = true
			break
		}
	}
	if !trusted {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return directIP
}
