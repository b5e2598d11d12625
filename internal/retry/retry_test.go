package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastPolicy keeps test runtime negligible.
func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Microsecond,
		MaxDelay:    time.Millisecond,
		JitterBound: time.Microsecond,
	}
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	v, attempts, err := Do(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, attempts, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls, "no fourth attempt")
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	p := fastPolicy()
	bad := errors.New("malformed request")
	p.Retryable = func(err error) bool { return !errors.Is(err, bad) }

	calls := 0
	_, attempts, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, bad
	})
	require.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, JitterBound: 0}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation must not leak retry loops")
}

func TestSchedule_DelayCappedAtMax(t *testing.T) {
	s := &schedule{policy: Policy{
		BaseDelay:   time.Second,
		MaxDelay:    3 * time.Second,
		JitterBound: 0,
	}}
	assert.Equal(t, time.Second, s.NextBackOff())
	assert.Equal(t, 2*time.Second, s.NextBackOff())
	assert.Equal(t, 3*time.Second, s.NextBackOff())
	assert.Equal(t, 3*time.Second, s.NextBackOff())
	s.Reset()
	assert.Equal(t, time.Second, s.NextBackOff())
}
