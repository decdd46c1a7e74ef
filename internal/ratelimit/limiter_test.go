package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(t time.Time) (func() time.Time, func(time.Duration)) {
	now := t
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestAllowBurstThenRefill(t *testing.T) {
	l := NewLimiter(60, 3)
	clock, advance := fixedClock(time.Unix(1706774400, 0))
	l.now = clock

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("client-a"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("client-a"))

	// 60 per minute refills one token per second
	advance(time.Second)
	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))
}

func TestClientsAreIndependent(t *testing.T) {
	l := NewLimiter(60, 1)
	clock, _ := fixedClock(time.Unix(1706774400, 0))
	l.now = clock

	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestTokens(t *testing.T) {
	l := NewLimiter(120, 5)
	clock, _ := fixedClock(time.Unix(1706774400, 0))
	l.now = clock

	assert.InDelta(t, 5, l.Tokens("client-a"), 0.001)
	l.Allow("client-a")
	assert.InDelta(t, 4, l.Tokens("client-a"), 0.001)
	assert.Equal(t, 120, l.RequestsPerMinute())
}

func TestSweep(t *testing.T) {
	l := NewLimiter(60, 1)
	clock, advance := fixedClock(time.Unix(1706774400, 0))
	l.now = clock

	l.Allow("old")
	advance(10 * time.Minute)
	l.Allow("fresh")

	assert.Equal(t, 1, l.Sweep(5*time.Minute))
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Allow("old"), "swept clients start with a full bucket")
}
