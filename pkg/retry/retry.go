// Package retry provides bounded exponential-backoff retries for
// transient PostgreSQL connection failures.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config controls the retry schedule. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// IsRetryable decides whether an error is worth another attempt.
	// Nil means IsTransient.
	IsRetryable func(error) bool
}

// DefaultConfig returns the retry settings used for pool creation.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Validate checks the schedule parameters.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay > c.MaxDelay {
		return fmt.Errorf("retry: initial delay %s exceeds max delay %s", c.InitialDelay, c.MaxDelay)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %g", c.Multiplier)
	}
	return nil
}

// Stats reports how a Do call went.
type Stats struct {
	Attempts  int
	TotalTime time.Duration
}

// ExhaustedError is returned when every attempt failed with a
// retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// transientFragments are substrings of errors PostgreSQL and the
// network stack produce during restarts, failovers, and load spikes.
var transientFragments = []string{
	"connection refused",
	"econnrefused",
	"connection reset",
	"econnreset",
	"timeout",
	"etimedout",
	"socket hang up",
	"too many connections",
	"too many clients",
	"the database system is starting up",
	"the database system is shutting down",
	"server closed the connection unexpectedly",
	"could not connect to server",
	"ssl handshake",
	"ssl error",
}

// IsTransient reports whether err looks like a transient connection
// failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// schedule implements backoff.BackOff with the exact delay sequence
// min(maxDelay, initialDelay * multiplier^(n-1)), optionally stretched
// by a uniform jitter factor in [1.0, 1.25].
type schedule struct {
	cfg  Config
	next time.Duration
}

func (s *schedule) NextBackOff() time.Duration {
	d := s.next
	if s.cfg.Jitter {
		d = time.Duration(float64(d) * (1.0 + rand.Float64()*0.25))
	}
	s.next = time.Duration(float64(s.next) * s.cfg.Multiplier)
	if s.next > s.cfg.MaxDelay {
		s.next = s.cfg.MaxDelay
	}
	return d
}

func (s *schedule) Reset() { s.next = s.cfg.InitialDelay }

// Do runs op with the configured retry schedule. It stops on success,
// when the attempt budget is spent, or as soon as the error is not
// retryable. Exhaustion is reported as *ExhaustedError wrapping the
// final error; non-retryable errors are returned as-is.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, Stats, error) {
	var zero T
	if err := cfg.Validate(); err != nil {
		return zero, Stats{}, err
	}
	isRetryable := cfg.IsRetryable
	if isRetryable == nil {
		isRetryable = IsTransient
	}

	start := time.Now()
	var attempts int
	var lastErr error
	var permanent bool

	sched := &schedule{cfg: cfg}
	sched.Reset()

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, opErr := op(ctx)
		if opErr == nil {
			return v, nil
		}
		lastErr = opErr
		if !isRetryable(opErr) {
			permanent = true
			return zero, backoff.Permanent(opErr)
		}
		return zero, opErr
	}, backoff.WithBackOff(sched), backoff.WithMaxTries(uint(cfg.MaxAttempts)))

	stats := Stats{Attempts: attempts, TotalTime: time.Since(start)}
	if err == nil {
		return result, stats, nil
	}
	if permanent {
		return zero, stats, lastErr
	}
	if ctx.Err() != nil {
		return zero, stats, err
	}
	return zero, stats, &ExhaustedError{Attempts: attempts, Err: lastErr}
}
