package resilience

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError represents a provider rate limit response. RetryAfter is
// the server's hint, zero when absent.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit returns true when the error is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker blocks requests after threshold consecutive failures. Once
// the cooldown passes a single probe is let through; its outcome closes or
// reopens the circuit.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
	probing   bool
	onChange  func(from, to BreakerState)
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// OnStateChange registers fn for state transitions. fn runs without the
// breaker lock held.
func (c *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	var allowed bool
	from := c.state
	switch c.state {
	case BreakerClosed:
		allowed = true
	case BreakerOpen:
		if c.now().Before(c.openUntil) {
			break
		}
		c.state = BreakerHalfOpen
		c.probing = true
		allowed = true
	case BreakerHalfOpen:
		if !c.probing {
			c.probing = true
			allowed = true
		}
	}
	fn, to := c.onChange, c.state
	c.mu.Unlock()
	notify(fn, from, to)
	return allowed
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	from := c.state
	c.failures = 0
	c.probing = false
	c.openUntil = time.Time{}
	c.state = BreakerClosed
	fn := c.onChange
	c.mu.Unlock()
	notify(fn, from, BreakerClosed)
}

// OnError counts err toward opening the circuit and releases a half-open
// probe. A failed probe reopens it immediately. The open period is the
// cooldown, stretched to the server's Retry-After for rate limits.
func (c *CircuitBreaker) OnError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	from := c.state
	c.probing = false
	c.failures++
	if c.state == BreakerHalfOpen || c.failures >= c.threshold {
		wait := c.cooldown
		var rl RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		c.state = BreakerOpen
		c.openUntil = c.now().Add(wait)
	}
	fn, to := c.onChange, c.state
	c.mu.Unlock()
	notify(fn, from, to)
}

// Release gives back a half-open probe without judging the backend, for
// calls abandoned by the caller.
func (c *CircuitBreaker) Release() {
	c.mu.Lock()
	c.probing = false
	c.mu.Unlock()
}

func notify(fn func(from, to BreakerState), from, to BreakerState) {
	if fn != nil && from != to {
		fn(from, to)
	}
}
