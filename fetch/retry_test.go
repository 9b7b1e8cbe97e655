package fetch

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kay-mw/mkdockyard"
)

func TestRetryPolicy_Do(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name      string
		policy    RetryPolicy
		errs      []error
		wantCalls int
		wantCode  platformerrors.ErrorCode
	}{
		{
			name:      "success first try",
			policy:    fastRetry,
			errs:      []error{nil},
			wantCalls: 1,
		},
		{
			name:      "permanent error is not retried",
			policy:    fastRetry,
			errs:      []error{platformerrors.New(platformerrors.CodeNotFound, "nope")},
			wantCalls: 1,
			wantCode:  platformerrors.CodeNotFound,
		},
		{
			name:      "plain error is not retried",
			policy:    fastRetry,
			errs:      []error{errors.New("boom")},
			wantCalls: 1,
			wantCode:  platformerrors.CodeUnknown,
		},
		{
			name:   "network error retried until success",
			policy: fastRetry,
			errs: []error{
				platformerrors.New(platformerrors.CodeNetwork, "reset"),
				nil,
			},
			wantCalls: 2,
		},
		{
			name:   "attempts exhausted",
			policy: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
			errs: []error{
				platformerrors.New(platformerrors.CodeNetwork, "reset"),
				platformerrors.New(platformerrors.CodeNetwork, "reset"),
				nil,
			},
			wantCalls: 2,
			wantCode:  platformerrors.CodeNetwork,
		},
		{
			name:      "zero attempts means one",
			policy:    RetryPolicy{},
			errs:      []error{platformerrors.New(platformerrors.CodeNetwork, "reset"), nil},
			wantCalls: 1,
			wantCode:  platformerrors.CodeNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := tt.policy.Do(t.Context(), logger, func(_ context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				return tt.errs[calls-1]
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, platformerrors.GetCode(err))
		})
	}
}

func TestRetryPolicy_CanceledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}

	err := policy.Do(ctx, slog.New(slog.DiscardHandler), func(context.Context, int) error {
		cancel()
		return platformerrors.New(platformerrors.CodeNetwork, "reset")
	})

	require.Error(t, err)
	assert.Equal(t, mkdockyard.CodeCanceled, platformerrors.GetCode(err))
}

func TestRetryPolicy_DeadlineWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}

	calls := 0
	err := policy.Do(ctx, slog.New(slog.DiscardHandler), func(context.Context, int) error {
		calls++
		return platformerrors.New(platformerrors.CodeNetwork, "reset")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, platformerrors.CodeTimeout, platformerrors.GetCode(err))
	assert.False(t, platformerrors.IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
}
