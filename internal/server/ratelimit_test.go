package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerIP(t *testing.T) {
	rl := newRateLimiter(60, 1)
	defer rl.stop()

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestRateLimiterEvictsIdle(t *testing.T) {
	rl := newRateLimiter(60, 1)
	defer rl.stop()

	rl.allow("10.0.0.1")
	rl.evictIdle(time.Now().Add(time.Hour))

	rl.mu.Lock()
	n := len(rl.limiters)
	rl.mu.Unlock()
	assert.Zero(t, n)
	assert.True(t, rl.allow("10.0.0.1"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.RemoteAddr = "192.0.2.9"
	assert.Equal(t, "192.0.2.9", clientIP(req))
}
