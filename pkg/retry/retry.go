// Package retry runs an operation under a bounded attempt budget with a
// linearly growing delay, scaled per device by its measured latency.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/vlanhop/vlanhop/pkg/util"
)

// Policy is one retry budget. MaxAttempts counts the first try.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Delay       time.Duration `yaml:"delay" json:"delay"`
	Increment   time.Duration `yaml:"increment" json:"increment"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// Once is a policy that never retries.
var Once = Policy{MaxAttempts: 1}

// Scaled returns a copy of p with every delay multiplied by factor. Factors
// below 1 are treated as 1.
func (p Policy) Scaled(factor float64) Policy {
	if factor < 1 {
		factor = 1
	}
	p.Delay = time.Duration(float64(p.Delay) * factor)
	p.Increment = time.Duration(float64(p.Increment) * factor)
	if p.MaxDelay > 0 {
		p.MaxDelay = time.Duration(float64(p.MaxDelay) * factor)
	}
	return p
}

// Start returns fresh state for one run of p.
func (p Policy) Start() *State {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	return &State{policy: p, max: max, delay: p.Delay}
}

// State tracks one run: attempts made, the last error, and the next delay.
type State struct {
	policy  Policy
	max     int
	Attempt int
	LastErr error
	delay   time.Duration
}

// Exhausted reports whether no attempts remain.
func (s *State) Exhausted() bool {
	return s.Attempt >= s.max
}

// Record notes the outcome of an attempt and returns the delay to wait
// before the next one.
func (s *State) Record(err error) time.Duration {
	s.Attempt++
	s.LastErr = err
	d := s.delay
	s.delay += s.policy.Increment
	if s.policy.MaxDelay > 0 && s.delay > s.policy.MaxDelay {
		s.delay = s.policy.MaxDelay
	}
	return d
}

// Classifier decides whether a failed attempt may be retried.
type Classifier func(error) bool

// Do runs fn until it succeeds, returns a non-retryable error, the policy is
// exhausted, or ctx is done. It returns the number of attempts made.
// A nil classify uses util.IsRetryable.
func Do(ctx context.Context, op string, p Policy, classify Classifier, fn func(attempt int) error) (int, error) {
	if classify == nil {
		classify = util.IsRetryable
	}
	st := p.Start()
	for {
		if err := ctx.Err(); err != nil {
			if st.LastErr != nil {
				return st.Attempt, fmt.Errorf("%s: %w (last error: %v)", op, err, st.LastErr)
			}
			return st.Attempt, fmt.Errorf("%s: %w", op, err)
		}

		err := fn(st.Attempt + 1)
		delay := st.Record(err)
		if err == nil {
			if st.Attempt > 1 {
				util.WithOperation(op).Debugf("succeeded after %d attempts", st.Attempt)
			}
			return st.Attempt, nil
		}
		if !classify(err) || st.Exhausted() {
			return st.Attempt, err
		}

		util.WithOperation(op).Debugf("attempt %d/%d failed: %v; retrying in %v", st.Attempt, st.max, err, delay)
		if err := sleep(ctx, delay); err != nil {
			return st.Attempt, st.LastErr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
