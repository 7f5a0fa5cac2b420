package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("anon_1"), "request %d should pass", i+1)
	}
	assert.False(t, rl.Allow("anon_1"), "fourth request exceeds the window")
}

func TestRateLimiterIsPerUser(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("anon_1"))
	assert.False(t, rl.Allow("anon_1"))
	assert.True(t, rl.Allow("anon_2"), "another user has their own bucket")
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	assert.True(t, rl.Allow("anon_1"))
	assert.False(t, rl.Allow("anon_1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("anon_1"), "expired entries free the window")
}
