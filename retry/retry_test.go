package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/kbpipe/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return core.Transient(errors.New("throttled"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "should succeed on third attempt")
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expected := core.Transient(errors.New("index unavailable"))
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		attempts++
		return expected
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, expected)
	assert.True(t, core.IsTransient(err), "exhausted retries keep the transient class")
	assert.Equal(t, 3, attempts, "should attempt exactly MaxAttempts times")
}

func TestDo_PermanentNotRetried(t *testing.T) {
	attempts := 0
	expected := errors.New("401 unauthorized")
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		attempts++
		return expected
	})
	assert.Equal(t, expected, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastPolicy(10), func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return core.Transient(errors.New("error"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, attempts, 2, "should stop when context is canceled")
}

func TestDo_CallTimeoutIsTransient(t *testing.T) {
	p := fastPolicy(3)
	p.CallTimeout = 10 * time.Millisecond

	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "a timed out attempt is retried")
}

func TestDo_InvalidPolicy(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{}, func(context.Context) error {
		attempts++
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	assert.Equal(t, 0, attempts, "should not attempt with MaxAttempts=0")
}

func TestValue(t *testing.T) {
	calls := 0
	got, err := Value(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, core.Transient(errors.New("reset by peer"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
