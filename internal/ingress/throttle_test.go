package ingress

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientThrottle_AllowsWithinBurstThenDenies(t *testing.T) {
	th := NewClientThrottle(60, 5) // 1/sec, burst 5

	for i := 0; i < 5; i++ {
		assert.True(t, th.Allow("client-1"), "request %d should be within burst", i+1)
	}
	assert.False(t, th.Allow("client-1"), "6th request should exhaust the burst")
}

func TestClientThrottle_TracksClientsIndependently(t *testing.T) {
	th := NewClientThrottle(60, 1)

	assert.True(t, th.Allow("client-a"))
	assert.False(t, th.Allow("client-a"))
	assert.True(t, th.Allow("client-b"))
}

func TestClientThrottle_ZeroRPMDisablesLimiting(t *testing.T) {
	th := NewClientThrottle(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, th.Allow("any-client"))
	}
}

func TestClientThrottle_Middleware_RejectsOverLimitWithRetryAfter(t *testing.T) {
	th := NewClientThrottle(60, 1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := th.Middleware(next)

	r := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	r.Header.Set("X-Client-ID", "client-x")

	w1 := httptest.NewRecorder()
	wrapped.ServeHTTP(w1, r)
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	wrapped.ServeHTTP(w2, r)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "60", w2.Header().Get("Retry-After"))
}

func TestThrottleKey_PrefersClientIDHeaderOverRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	r.Header.Set("X-Client-ID", "explicit-client")
	assert.Equal(t, "explicit-client", throttleKey(r))

	r2 := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	r2.RemoteAddr = "10.0.0.2:1234"
	assert.Equal(t, "10.0.0.2", throttleKey(r2))
}
