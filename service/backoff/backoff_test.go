package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_GrowsUntilCap(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: 2 * time.Second}

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, p.Cap)
		prev = d
	}
}

func TestDelay_WithinJitterBounds(t *testing.T) {
	p := Policy{Base: 1 * time.Second, Cap: 30 * time.Second}

	for i := 0; i < 100; i++ {
		d := p.Delay(2) // floor is 4s
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 8*time.Second)
	}
}

func TestDelay_ZeroBase(t *testing.T) {
	var p Policy
	assert.Equal(t, time.Duration(0), p.Delay(5))
}

func TestDelay_SuccessiveDelaysNeverShrink(t *testing.T) {
	p := Policy{Base: 50 * time.Millisecond, Cap: 10 * time.Second}

	// The minimum of attempt n+1 equals the maximum of attempt n below the
	// cap, and at the cap every delay is exactly Cap, so any sampled
	// sequence is non-decreasing all the way through.
	for trial := 0; trial < 50; trial++ {
		prev := time.Duration(-1)
		for attempt := 0; attempt < 12; attempt++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "trial %d attempt %d", trial, attempt)
			prev = d
		}
	}
}

func TestDelay_PinsAtCap(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: time.Second}

	for i := 0; i < 20; i++ {
		assert.Equal(t, p.Cap, p.Delay(10))
	}
}
