// Package retry wraps a single unit of work with bounded attempts and
// exponential backoff. The backoff wait goes through an injectable clock so
// tests drive it deterministically.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome classifies the terminal result of Execute.
type Outcome int

const (
	Success Outcome = iota
	FailedAfterRetries
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failed_after_retries"
}

// Policy retries a unit of work up to MaxAttempts times, waiting
// InitialDelay before the second attempt and doubling the wait after each
// failure. Policies are values; concurrent Execute calls share nothing but
// the configuration.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration

	clock    clockwork.Clock
	logger   *slog.Logger
	attempts prometheus.Counter
}

// New creates a Policy with the real clock.
func New(maxAttempts int, initialDelay time.Duration, logger *slog.Logger) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		clock:        clockwork.NewRealClock(),
		logger:       logger,
	}
}

// WithClock returns a copy of the policy using the given clock.
func (p Policy) WithClock(c clockwork.Clock) Policy {
	p.clock = c
	return p
}

// WithAttemptsCounter returns a copy of the policy that increments c once
// per attempt.
func (p Policy) WithAttemptsCounter(c prometheus.Counter) Policy {
	p.attempts = c
	return p
}

// Execute attempts work until it succeeds or attempts are exhausted. It
// returns Success with a nil error on the first nil result, or
// FailedAfterRetries with the last error once MaxAttempts have failed.
// A cancelled context cuts the backoff wait short and returns the last error.
func (p Policy) Execute(ctx context.Context, description string, work func(context.Context) error) (Outcome, error) {
	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if p.attempts != nil {
			p.attempts.Inc()
		}
		err := work(ctx)
		if err == nil {
			p.logger.Info("unit of work succeeded",
				"description", description, "attempt", attempt, "max_attempts", p.MaxAttempts)
			return Success, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			p.logger.Error("unit of work failed after retries",
				"description", description, "attempt", attempt, "max_attempts", p.MaxAttempts, "error", err)
			break
		}

		p.logger.Warn("unit of work failed, retrying",
			"description", description, "attempt", attempt, "max_attempts", p.MaxAttempts,
			"retry_in", delay, "error", err)

		if !p.wait(ctx, delay) {
			return FailedAfterRetries, lastErr
		}
		delay *= 2
	}

	return FailedAfterRetries, lastErr
}

// wait sleeps for d on the policy clock. Returns false if the context was
// cancelled before the wait elapsed.
func (p Policy) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
