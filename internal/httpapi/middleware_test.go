package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSweepsIdleClientsPeriodically(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Len(t, rl.clients, 2)

	// Idle past the TTL, but the last sweep was under a minute ago.
	now = now.Add(30 * time.Second)
	rl.clients["10.0.0.1"].lastSeen = now.Add(-time.Hour)
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Len(t, rl.clients, 2)

	now = now.Add(sweepInterval)
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "10.0.0.2")
}
