// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fast keeps backoff waits tiny so tests finish quickly.
var fast = Policy{Retries: 2, BaseDelay: time.Millisecond}

func TestDo_ImmediateSuccess(t *testing.T) {
	var calls int32
	v, err := Do(context.Background(), fast, func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	v, err := Do(context.Background(), fast, func(context.Context) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			return 0, fmt.Errorf("transient error (call %d)", n)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int32
	boom := errors.New("boom")
	_, err := Do(context.Background(), fast, func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempts")
	// 1 initial + 2 retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var calls int32
	boom := errors.New("bad request")
	_, err := Do(context.Background(), fast, func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, Permanent(boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	p := Policy{Retries: 1, BaseDelay: time.Millisecond, Timeout: 20 * time.Millisecond}
	var calls int32
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	p := Policy{Retries: 3, BaseDelay: 500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		return 0, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{Retries: 2, BaseDelay: time.Second}
	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 3, p.Attempts())
	assert.Equal(t, 1, Policy{Retries: -1}.Attempts())
}

func TestRun(t *testing.T) {
	var calls int32
	err := Run(context.Background(), Policy{Retries: 1, BaseDelay: time.Millisecond}, func(context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("first")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_ReportsAttemptsMade(t *testing.T) {
	p := Policy{Retries: 4, BaseDelay: time.Millisecond}
	tests := []struct {
		name      string
		failAt    int32 // call that returns a permanent error; 0 never
		wantCalls int32
		wantMsg   string
	}{
		{name: "permanent on first call", failAt: 1, wantCalls: 1, wantMsg: "boom"},
		{name: "permanent on second call", failAt: 2, wantCalls: 2, wantMsg: "after 2 attempts: boom"},
		{name: "policy exhausted", failAt: 0, wantCalls: 5, wantMsg: "after 5 attempts: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			boom := errors.New("boom")
			_, err := Do(context.Background(), p, func(context.Context) (int, error) {
				if atomic.AddInt32(&calls, 1) == tt.failAt {
					return 0, Permanent(boom)
				}
				return 0, boom
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}
