package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/warp/rate-engine/rates"
	"golang.org/x/time/rate"
)

// =============================================================================
// CALLER
// =============================================================================

// Caller identity arrives from the authenticating proxy in front of this
// service. These headers are trusted as-is.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles" // comma separated
)

type callerKey struct{}

// WithCaller reads the caller headers into the request context.
func WithCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := rates.Caller{ID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
		for _, role := range strings.Split(r.Header.Get(HeaderUserRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				caller.Roles = append(caller.Roles, role)
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// CallerFrom returns the caller stored by WithCaller, or the anonymous
// caller.
func CallerFrom(ctx context.Context) rates.Caller {
	c, _ := ctx.Value(callerKey{}).(rates.Caller)
	return c
}

// =============================================================================
// RATE LIMITING - Bulk endpoints rewrite many rows per call
// =============================================================================

// CallerRateLimiter stores a token bucket per caller (or client IP for
// anonymous requests).
type CallerRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

func NewCallerRateLimiter(r rate.Limit, b int) *CallerRateLimiter {
	return &CallerRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

// Limiter returns the bucket for key, creating it on first use.
func (l *CallerRateLimiter) Limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter
}

// Middleware rejects requests over the limit with 429.
func (l *CallerRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Limiter(limitKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "Too many bulk requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitKey(r *http.Request) string {
	if c := CallerFrom(r.Context()); c.ID != "" {
		return "caller:" + c.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
