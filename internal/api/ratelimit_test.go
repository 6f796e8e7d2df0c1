package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewIPRateLimiter(context.Background(), 0, 5))
}

func TestIPRateLimiterPerAddress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewIPRateLimiter(ctx, 1, 2)

	a := rl.GetLimiter("10.0.0.1")
	assert.Same(t, a, rl.GetLimiter("10.0.0.1"))
	assert.True(t, a.Allow())
	assert.True(t, a.Allow())
	assert.False(t, a.Allow())

	assert.True(t, rl.GetLimiter("10.0.0.2").Allow(), "other clients keep their own budget")
}

func TestIPRateLimiterSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewIPRateLimiter(ctx, 1, 1)
	rl.GetLimiter("10.0.0.1")

	rl.sweep(time.Now())
	assert.Len(t, rl.ips, 1)

	rl.sweep(time.Now().Add(limiterIdleAfter + time.Second))
	assert.Empty(t, rl.ips)
}
