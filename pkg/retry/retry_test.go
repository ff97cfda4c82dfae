package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classedErr struct {
	msg   string
	class Class
}

func (e *classedErr) Error() string     { return e.msg }
func (e *classedErr) RetryClass() Class { return e.class }

// fakeSleeper records requested delays without actually sleeping.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

func TestDelaySchedule(t *testing.T) {
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, Delay(i+1))
	}

	var sum time.Duration
	for n := 1; n <= 3; n++ {
		sum += Delay(n)
	}
	assert.Equal(t, 14*time.Second, sum)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	sleeper := &fakeSleeper{}
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &classedErr{msg: "connection reset", class: Transient}
		}
		return nil
	}, &Options{Sleep: sleeper.sleep})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestDoPermanentReturnsImmediately(t *testing.T) {
	sleeper := &fakeSleeper{}
	calls := 0
	permErr := &classedErr{msg: "bad credentials", class: Permanent}

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return permErr
	}, &Options{Sleep: sleeper.sleep})

	assert.Equal(t, permErr, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
	assert.False(t, Exhausted(err))
}

func TestDoExhaustsBudgetOnTransient(t *testing.T) {
	sleeper := &fakeSleeper{}
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return &classedErr{msg: "timeout", class: Transient}
	}, &Options{Sleep: sleeper.sleep})

	require.Error(t, err)
	assert.True(t, Exhausted(err))
	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.Len(t, sleeper.delays, DefaultMaxAttempts-1)
}

func TestDoUnclassifiedRetriesOnce(t *testing.T) {
	sleeper := &fakeSleeper{}
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("something odd from the provider")
	}, &Options{Sleep: sleeper.sleep})

	require.Error(t, err)
	assert.False(t, Exhausted(err))
	assert.Equal(t, 2, calls)
}

func TestDoRateLimitedAddsCooldown(t *testing.T) {
	sleeper := &fakeSleeper{}
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &classedErr{msg: "429", class: RateLimited}
		}
		return nil
	}, &Options{Sleep: sleeper.sleep, RateLimitCooldown: 30 * time.Second})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{32 * time.Second}, sleeper.delays)
}

func TestDoRateLimitedCooldownAppliesByDefault(t *testing.T) {
	sleeper := &fakeSleeper{}

	err := Do(context.Background(), func(context.Context) error {
		return &classedErr{msg: "429", class: RateLimited}
	}, &Options{MaxAttempts: 3, Sleep: sleeper.sleep})

	require.Error(t, err)
	assert.True(t, Exhausted(err))
	// Rate-limited waits must sit above the plain transient schedule.
	assert.Equal(t, []time.Duration{
		2*time.Second + DefaultRateLimitCooldown,
		4*time.Second + DefaultRateLimitCooldown,
	}, sleeper.delays)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(context.Context) error {
		t.Fatal("op should not run after cancellation")
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}
