package agent

import (
	"math/rand"
	"time"
)

// backoff produces reconnect delays that double on every consecutive
// failure up to a ceiling. Jitter is applied to the returned delay only,
// the underlying sequence stays monotonic.
type backoff struct {
	base time.Duration
	max  time.Duration
	next time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{
		base: base,
		max:  max,
		next: base,
	}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *backoff) Next() time.Duration {
	d := b.next

	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}

	return jitter(d)
}

// Reset rewinds the sequence to the base delay, called after a successful
// connect.
func (b *backoff) Reset() {
	b.next = b.base
}

// jitter scales d by a random factor in [0.5, 1.5).
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}
