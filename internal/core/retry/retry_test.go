package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 2}
}

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(attempt int) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	cause := errors.New("still broken")
	calls := 0
	err := fastPolicy().Do(context.Background(), func(attempt int) error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, 4, calls)
}

func TestDo_AttemptNumbersAscend(t *testing.T) {
	var seen []int
	_ = fastPolicy().Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		return errors.New("fail")
	})

	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 4, BaseDelay: time.Minute, Multiplier: 2}

	calls := 0
	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(attempt int) error {
			calls++
			if attempt == 1 {
				close(entered)
			}
			return errors.New("transient")
		})
	}()

	<-entered
	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDo_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(attempt int) error {
		calls++
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
