// Package retry runs remote mutations and lookups under one bounded backoff policy and
// reports an explicit outcome instead of a bare error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	KindConstant    = "constant"
	KindExponential = "exponential"
)

var ErrConditionNotMet = errors.New("condition not met")

type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Exhausted Outcome = "exhausted"
	Aborted   Outcome = "aborted"
)

type Policy struct {
	Kind        string        `yaml:"kind"`
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Attempts    int           `yaml:"attempts"`
	// Delay is waited once before the first attempt.
	Delay time.Duration `yaml:"delay"`
}

// Result is the terminal state of a retried operation. Err holds the last failure.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

func (r Result) OK() bool {
	return r.Outcome == Succeeded
}

func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry attempts must be positive, got %d", p.Attempts)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %s", p.Interval)
	}
	if p.Kind != KindConstant && p.Kind != KindExponential {
		return fmt.Errorf("unknown retry kind %q", p.Kind)
	}
	return nil
}

func (p Policy) backOff() backoff.BackOff {
	if p.Kind == KindExponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Interval
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		return eb
	}
	return backoff.NewConstantBackOff(p.Interval)
}

// Permanent marks err as not worth retrying; Do stops with Aborted.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the attempt budget is spent or
// ctx is done.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) Result {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Result{Outcome: Aborted, Err: ctx.Err()}
		case <-t.C:
		}
	}

	var (
		attempts  int
		last      error
		permanent bool
	)
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.Attempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			last = perm.Err
			return err
		}
		last = err
		return err
	}, b)

	switch {
	case err == nil:
		return Result{Outcome: Succeeded, Attempts: attempts}
	case permanent:
		return Result{Outcome: Aborted, Attempts: attempts, Err: last}
	case ctx.Err() != nil:
		if last == nil {
			last = ctx.Err()
		}
		return Result{Outcome: Aborted, Attempts: attempts, Err: last}
	default:
		return Result{Outcome: Exhausted, Attempts: attempts, Err: last}
	}
}

// Until polls cond until it reports true. Errors returned by cond are retried like
// ErrConditionNotMet unless wrapped with Permanent.
func Until(ctx context.Context, p Policy, cond func(ctx context.Context) (bool, error)) Result {
	return Do(ctx, p, func(ctx context.Context) error {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConditionNotMet
		}
		return nil
	})
}
