package dispatch

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy computes retry delays: base doubled per attempt, capped at
// a maximum, with jitter so retries against a rate-limited provider do not
// arrive in lockstep.
type BackoffPolicy struct {
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   bool
}

// DelayForAttempt returns the wait before the next attempt, given the
// number of attempts already made.
func (p BackoffPolicy) DelayForAttempt(attempts int) time.Duration {
	delay := float64(p.Base)
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}

	if p.Jitter {
		jitter := delay * 0.25
		delay += (secureFloat64() - 0.5) * 2 * jitter

		if delay < float64(p.Base) {
			delay = float64(p.Base)
		}
		if delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
		}
	}

	return time.Duration(delay)
}

// secureFloat64 generates a cryptographically secure float64 between 0 and 1
func secureFloat64() float64 {
	max := big.NewInt(0).SetUint64(math.MaxUint64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// Fallback to time-based value if crypto/rand fails
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}
	return float64(n.Uint64()) / float64(math.MaxUint64)
}
