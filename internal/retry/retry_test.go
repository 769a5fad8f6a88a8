package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

var errFlaky = errors.New("flaky")

func fastPolicy(attempts int) Policy {
	return Policy{Kind: KindConstant, Interval: time.Millisecond, Attempts: attempts}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	calls := 0
	res := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	assert.True(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
	assert.NoError(t, res.Err)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	res := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		return errFlaky
	})

	assert.Equal(t, Exhausted, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	assert.ErrorIs(t, res.Err, errFlaky)
}

func TestDo_PermanentAbortsImmediately(t *testing.T) {
	res := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		return Permanent(errFlaky)
	})

	assert.Equal(t, Aborted, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, errFlaky)
}

func TestDo_ContextCancelAborts(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Kind: KindConstant, Interval: time.Hour, Attempts: 3}
	done := make(chan Result, 1)
	go func() {
		done <- Do(ctx, p, func(context.Context) error { return errFlaky })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, Aborted, res.Outcome)
		assert.Equal(t, 1, res.Attempts)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancel")
	}
}

func TestDo_DelayHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Do(ctx, Policy{Kind: KindConstant, Interval: time.Millisecond, Attempts: 1, Delay: time.Hour},
		func(context.Context) error { return nil })

	assert.Equal(t, Aborted, res.Outcome)
	assert.Equal(t, 0, res.Attempts)
}

func TestUntil_PollsUntilTrue(t *testing.T) {
	probes := 0
	res := Until(context.Background(), fastPolicy(5), func(context.Context) (bool, error) {
		probes++
		return probes == 4, nil
	})

	assert.True(t, res.OK())
	assert.Equal(t, 4, res.Attempts)
}

func TestUntil_Exhausted(t *testing.T) {
	res := Until(context.Background(), fastPolicy(5), func(context.Context) (bool, error) {
		return false, nil
	})

	assert.Equal(t, Exhausted, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	assert.ErrorIs(t, res.Err, ErrConditionNotMet)
}

func TestExponentialPolicy(t *testing.T) {
	p := Policy{Kind: KindExponential, Interval: time.Millisecond, MaxInterval: 4 * time.Millisecond, Attempts: 3}
	assert.NoError(t, p.Validate())

	res := Do(context.Background(), p, func(context.Context) error { return errFlaky })
	assert.Equal(t, Exhausted, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
}

func TestPolicy_Validate(t *testing.T) {
	assert.Error(t, Policy{Kind: KindConstant, Interval: time.Second}.Validate())
	assert.Error(t, Policy{Kind: "linear", Interval: time.Second, Attempts: 1}.Validate())
	assert.Error(t, Policy{Kind: KindConstant, Attempts: 1}.Validate())
}
