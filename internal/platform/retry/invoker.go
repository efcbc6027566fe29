// Package retry executes outbound HTTP operations with bounded retry on transient failure.
//
// Only transport errors and 5xx responses are retried. Any other response, including
// 4xx client errors, is returned to the caller as-is on the first attempt.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/onay-qr/onay-gateway/internal/platform/clock"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 3 * time.Second
)

// Policy bounds the retries of one operation.
type Policy struct {
	// Attempts is the total number of executions, including the first one.
	Attempts int
	// Delay is the wait between attempts.
	Delay time.Duration

	// Multiplier > 1 grows the delay exponentially per attempt, capped by MaxDelay.
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
}

// DefaultPolicy is three attempts with a fixed three second delay.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// NextDelay returns the wait after the given failed attempt (1-based).
func (p Policy) NextDelay(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	delay := float64(p.Delay)
	if p.Multiplier > 1 && attempt > 1 {
		delay *= math.Pow(p.Multiplier, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Operation performs one outbound call. It is invoked once per attempt and must build
// a fresh request each time.
type Operation func(ctx context.Context) (*http.Response, error)

var errNoResponse = errors.New("retry: operation returned neither response nor error")

type Invoker struct {
	policy  Policy
	sleeper Sleeper

	// OnRetry, when set, is called before each wait with the failed attempt number and
	// either the 5xx status or the transport error.
	OnRetry func(attempt int, status int, err error)
}

func New(policy Policy) *Invoker {
	return NewWithSleeper(policy, nil)
}

func NewWithSleeper(policy Policy, sleeper Sleeper) *Invoker {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if sleeper == nil {
		sleeper = clock.NewSystemClock()
	}
	return &Invoker{policy: policy, sleeper: sleeper}
}

func (inv *Invoker) Policy() Policy { return inv.policy }

// Do runs op until it yields a non-5xx response or the attempt budget is spent.
// On exhaustion the last response (5xx) or the last error is returned.
func (inv *Invoker) Do(ctx context.Context, op Operation) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := op(ctx)
		if err == nil && resp == nil {
			err = errNoResponse
		}
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		if attempt >= inv.policy.Attempts {
			return resp, err
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
			discard(resp)
		}
		if inv.OnRetry != nil {
			inv.OnRetry(attempt, status, err)
		}
		if serr := inv.sleeper.Sleep(ctx, inv.policy.NextDelay(attempt)); serr != nil {
			return nil, serr
		}
	}
}

func discard(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
