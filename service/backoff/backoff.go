// Package backoff provides the retry delay policy shared by the
// subscription transport and the action executor.
package backoff

import (
	"math/rand"
	"time"
)

// Policy computes exponential backoff delays with jitter above a
// deterministic floor: the delay for attempt n is drawn from
// [d, min(2d, Cap)] where d = min(Base<<n, Cap). The floor doubles until
// it pins at Cap, so a sampled sequence of delays never decreases.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the backoff delay for the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.Cap > 0 && d >= p.Cap {
			d = p.Cap
			break
		}
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}

	head := d
	if p.Cap > 0 && p.Cap-d < head {
		head = p.Cap - d
	}
	if head <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(head)+1))
}
