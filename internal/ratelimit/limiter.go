// Package ratelimit provides the per-session token bucket applied to
// inbound websocket frames.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// SessionLimiter hands out one token bucket per session id. Buckets are
// created lazily on first use and must be removed when the session closes.
type SessionLimiter struct {
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewSessionLimiter builds a limiter allowing r frames per second with the
// given burst per session.
func NewSessionLimiter(r float64, burst int) *SessionLimiter {
	return &SessionLimiter{
		rate:    rate.Limit(r),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the session may send another frame now.
func (l *SessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[sessionID]
	if !ok {
		bucket = rate.NewLimiter(l.rate, l.burst)
		l.buckets[sessionID] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// Remove drops the session's bucket. Call on disconnect, otherwise buckets
// accumulate for the life of the process.
func (l *SessionLimiter) Remove(sessionID string) {
	l.mu.Lock()
	delete(l.buckets, sessionID)
	l.mu.Unlock()
}

// Len returns the number of live buckets.
func (l *SessionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// GetClientIP extracts the real client IP from the request, honoring
// reverse-proxy headers.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// May contain "client, proxy1, proxy2"; the first hop is the client.
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
