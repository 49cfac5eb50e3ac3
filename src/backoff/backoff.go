// Package backoff holds the per-poll-type rate-limit backoff state shared by
// the account and trade pollers, plus the auth-refresh throttle.
package backoff

import (
	"sync"
	"time"

	expbackoff "github.com/cenkalti/backoff/v5"
	logger "github.com/sirupsen/logrus"
)

// Controller tracks the poll interval for one poll type. While the exchange
// is not rate limiting, Interval returns the base interval. Every rate-limit
// response doubles the interval up to the ceiling; the next clean success
// restores the base interval.
type Controller struct {
	name    string
	base    time.Duration
	ceiling time.Duration

	mu      sync.Mutex
	exp     *expbackoff.ExponentialBackOff
	current time.Duration // 0 means "use base interval"
}

func NewController(name string, base, ceiling time.Duration) *Controller {
	return &Controller{
		name:    name,
		base:    base,
		ceiling: ceiling,
		exp:     newExponential(base, ceiling),
	}
}

func newExponential(base, ceiling time.Duration) *expbackoff.ExponentialBackOff {
	exp := expbackoff.NewExponentialBackOff()
	exp.InitialInterval = 2 * base
	exp.Multiplier = 2
	exp.MaxInterval = ceiling
	exp.RandomizationFactor = 0
	return exp
}

// Interval returns the interval the poller timer should currently use.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == 0 {
		return c.base
	}
	return c.current
}

// Limited reports whether the controller is currently backed off.
func (c *Controller) Limited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != 0
}

// OnRateLimited doubles the interval toward the ceiling and returns the new
// interval to apply to the poller timer immediately.
func (c *Controller) OnRateLimited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.exp.NextBackOff()
	if next == expbackoff.Stop || next > c.ceiling {
		next = c.ceiling
	}
	c.current = next

	logger.WithFields(logger.Fields{
		"poller":   c.name,
		"interval": next,
	}).Warn("rate limited, backing off poll interval")

	return next
}

// OnSuccess resets the backoff state after a clean response and returns the
// base interval.
func (c *Controller) OnSuccess() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != 0 {
		logger.WithFields(logger.Fields{
			"poller":   c.name,
			"interval": c.base,
		}).Info("rate limit cleared, restoring base poll interval")
	}

	c.current = 0
	c.exp.Reset()
	return c.base
}

// Throttle allows at most one attempt per cooldown window. It guards the
// auth-token refresh for the signer-based exchange so that a stale token seen
// by every poller at once does not trigger a refresh storm.
type Throttle struct {
	window time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{window: window}
}

// Allow reports whether an attempt may proceed now and, if so, consumes the
// window.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		return false
	}
	t.last = now
	return true
}

// Reset clears the window so the next Allow succeeds, used after an explicit
// disconnect.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = time.Time{}
}
