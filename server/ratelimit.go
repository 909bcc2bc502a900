package server

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiterConfig: each client IP gets a bucket of requestsPerIP tokens
// refilled evenly over window.
type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int
	window        time.Duration
}

func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{
		enabled:       os.Getenv("RATE_LIMIT_ENABLED") != "0",
		requestsPerIP: 10,
		window:        time.Minute,
	}
	if n := getEnvInt("RATE_LIMIT_REQUESTS_PER_IP", 0); n > 0 {
		cfg.requestsPerIP = n
	}
	if n := getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 0); n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	return cfg
}

func (c *rateLimiterConfig) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(c.window/time.Duration(c.requestsPerIP)), c.requestsPerIP)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipRateLimiter struct {
	cfg *rateLimiterConfig

	mu       sync.Mutex
	visitors map[string]*visitor
}

// newIPRateLimiter evicts idle visitors once a minute until ctx ends.
func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	rl := &ipRateLimiter{cfg: cfg, visitors: make(map[string]*visitor)}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rl.cleanup()
			}
		}
	}()
	return rl
}

// cleanup forgets visitors idle for two windows; their buckets are full again.
func (rl *ipRateLimiter) cleanup() {
	cutoff := time.Now().Add(-2 * rl.cfg.window)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *ipRateLimiter) lookup(ip string) *visitor {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rl.cfg.newLimiter()}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v
}

func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.cfg.enabled {
		return true
	}
	return rl.lookup(ip).limiter.Allow()
}

// retryAfter is the refill interval of one token, in whole seconds.
func (rl *ipRateLimiter) retryAfter() string {
	secs := math.Ceil((rl.cfg.window / time.Duration(rl.cfg.requestsPerIP)).Seconds())
	return strconv.Itoa(max(int(secs), 1))
}

// clientIP prefers the first X-Forwarded-For hop (the overlay usually sits
// behind a reverse proxy) and falls back to the connection address.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		addr = strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if limiter.allow(ip) {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path), slog.String("component", "http"))
		w.Header().Set("Retry-After", limiter.retryAfter())
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}
