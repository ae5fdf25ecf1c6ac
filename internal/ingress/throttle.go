package ingress

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liekzejaws/clawd-throttle/pkg/errors"
)

// ClientThrottle is a per-client-id token-bucket limiter guarding the
// ingress surface against an anonymous caller hammering the pipeline,
// grounded on the teacher's internal/auth.TenantRateLimiter — a much
// smaller cut of it, since this proxy has no tenant/team hierarchy or
// distributed backend, only a single default rate applied per client id
// (or remote IP, for callers that send none).
type ClientThrottle struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	rpm        int
	burst      int
	ttl        time.Duration
}

// NewClientThrottle constructs a throttle allowing rpm requests per minute
// per client, bursting up to burst. rpm<=0 disables the throttle (Allow
// always returns true).
func NewClientThrottle(rpm, burst int) *ClientThrottle {
	if burst <= 0 {
		burst = 10
	}
	return &ClientThrottle{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		rpm:        rpm,
		burst:      burst,
		ttl:        10 * time.Minute,
	}
}

// Allow reports whether a request for key may proceed, creating that
// client's limiter on first use.
func (t *ClientThrottle) Allow(key string) bool {
	if t.rpm <= 0 {
		return true
	}
	return t.limiterFor(key).Allow()
}

func (t *ClientThrottle) limiterFor(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastAccess[key] = time.Now()
	if l, ok := t.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(float64(t.rpm)/60.0), t.burst)
	t.limiters[key] = l
	t.pruneLocked()
	return l
}

// pruneLocked drops limiters idle past ttl. Called under t.mu from
// limiterFor so it never competes for the lock with Allow.
func (t *ClientThrottle) pruneLocked() {
	cutoff := time.Now().Add(-t.ttl)
	for key, last := range t.lastAccess {
		if last.Before(cutoff) {
			delete(t.limiters, key)
			delete(t.lastAccess, key)
		}
	}
}

// Middleware wraps next with the anonymous per-client throttle. It runs
// ahead of body decoding so an abusive caller never reaches the pipeline.
func (t *ClientThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := throttleKey(r)
		if !t.Allow(key) {
			w.Header().Set("Retry-After", "60")
			writeProxyError(w, errors.ClientRateLimited("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// throttleKey prefers the caller-supplied client id (stable across a
// caller's retries/reconnects) and falls back to the remote IP.
func throttleKey(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
