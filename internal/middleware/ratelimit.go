package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/droplite/service/internal/response"
)

// RateLimiter is a per-client token bucket: each address may spend Requests
// tokens at once, refilled evenly over Window. Idle clients are forgotten
// after a Window, and at most maxClients are tracked.
type RateLimiter struct {
	name    string
	message string
	limit   rate.Limit
	burst   int
	window  time.Duration

	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter builds a limiter. requests <= 0 disables limiting.
func NewRateLimiter(name string, requests int, window time.Duration, maxClients int, message string) *RateLimiter {
	l := &RateLimiter{name: name, message: message, burst: requests, window: window}
	if requests > 0 && window > 0 {
		l.limit = rate.Every(window / time.Duration(requests))
		l.clients = expirable.NewLRU[string, *rate.Limiter](maxClients, nil, window)
	}
	return l
}

// Handler rejects over-budget requests with 429 and a Retry-After header.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	if l.clients == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := l.limiter(clientIP(r))

		res := lim.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			rateLimitedTotal.WithLabelValues(l.name).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			response.TooManyRequests(w, l.message)
			return
		}

		w.Header().Set("RateLimit-Limit", strconv.Itoa(l.burst))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(int(lim.Tokens())))
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.clients.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.clients.Add(key, lim)
	return lim
}

// clientIP strips the port from RemoteAddr. Forwarding headers count only when
// chi's RealIP ran earlier in the chain.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
