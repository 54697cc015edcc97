package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

// DefaultLimiterIdle is how long an unused client limiter is retained.
const DefaultLimiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.RWMutex
	clients map[string]*clientLimiter

	onLimited func()
	nowFunc   func() time.Time
	logger    *slog.Logger
}

// NewRateLimiter creates a limiter allowing perSecond requests with the
// given burst for every client. A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int, logger *slog.Logger, onLimited func()) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idle:      DefaultLimiterIdle,
		clients:   make(map[string]*clientLimiter),
		onLimited: onLimited,
		nowFunc:   time.Now,
		logger:    logger,
	}
}

// Middleware refuses requests over the client's budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil || rl.limit <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if !rl.get(ip).AllowN(rl.nowFunc(), 1) {
			rl.logger.Warn("rate limit exceeded",
				slog.String("client_ip", ip),
				slog.String("path", r.URL.Path),
			)

			if rl.onLimited != nil {
				rl.onLimited()
			}

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(rl.limit)))
			apperr.WriteJSON(w, apperr.TooManyRequests("rate_limited", "too many requests", nil),
				apperr.RequestID(r.Context()))

			return
		}

		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.clients)
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	now := rl.nowFunc()

	rl.mu.RLock()
	cl, ok := rl.clients[ip]
	rl.mu.RUnlock()

	if ok {
		rl.mu.Lock()
		cl.lastAccess = now
		rl.mu.Unlock()

		return cl.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok := rl.clients[ip]; ok {
		cl.lastAccess = now
		return cl.limiter
	}

	cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst), lastAccess: now}
	rl.clients[ip] = cl

	return cl.limiter
}

// Prune drops clients idle for longer than the retention window.
func (rl *RateLimiter) Prune() {
	cutoff := rl.nowFunc().Add(-rl.idle)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, cl := range rl.clients {
		if cl.lastAccess.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// Run prunes idle clients every interval until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Prune()
		case <-stop:
			return
		}
	}
}

// retryAfter is the whole seconds until one token refills.
func retryAfter(l rate.Limit) int {
	return max(1, int(math.Ceil(1/float64(l))))
}

// clientIP is the connection's remote address. Forwarded headers are
// not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
