package socketmodeconnection

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 5 * time.Second
	DefaultMultiplier      = 2.0

	// a connection that has not failed for this long starts again from the initial interval
	DefaultResetAfter = 5 * time.Minute
)

// ReconnectPolicy decides how long to wait before each reconnect attempt. Consecutive
// failures back off exponentially up to the max interval; once no failure has been seen for
// resetAfter the delay starts over. There is no limit on the number of attempts.
type ReconnectPolicy struct {
	lock        sync.Mutex
	backoff     *backoff.ExponentialBackOff
	clock       backoff.Clock
	resetAfter  time.Duration
	lastFailure time.Time
}

func DefaultReconnectPolicy() *ReconnectPolicy {
	return NewReconnectPolicy(DefaultInitialInterval, DefaultMaxInterval, DefaultMultiplier, DefaultResetAfter, nil)
}

func NewReconnectPolicy(initial, max time.Duration, multiplier float64, resetAfter time.Duration, clock backoff.Clock) *ReconnectPolicy {
	if clock == nil {
		clock = backoff.SystemClock
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // retry forever
	b.Clock = clock
	b.Reset()

	return &ReconnectPolicy{
		backoff:    b,
		clock:      clock,
		resetAfter: resetAfter,
	}
}

// NextBackOff records a failure and returns how long to wait before the next attempt
func (p *ReconnectPolicy) NextBackOff() time.Duration {
	p.lock.Lock()
	defer p.lock.Unlock()

	now := p.clock.Now()
	if !p.lastFailure.IsZero() && now.Sub(p.lastFailure) >= p.resetAfter {
		p.backoff.Reset()
	}
	p.lastFailure = now

	return p.backoff.NextBackOff()
}

func (p *ReconnectPolicy) Reset() {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.backoff.Reset()
	p.lastFailure = time.Time{}
}
