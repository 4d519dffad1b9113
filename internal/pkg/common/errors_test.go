package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind_Retryable(t *testing.T) {
	retryable := map[ErrorKind]bool{
		KindRateLimit: true,
		KindNetwork:   true,
		KindTimeout:   true,
	}
	for k := KindUnknown; k <= KindCacheUnavailable; k++ {
		assert.Equal(t, retryable[k], k.Retryable(), k.String())
	}
}

func TestCustomError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("parse: %w", NewProcessingError("missing steps", nil))

	assert.ErrorIs(t, err, ErrProcessing)
	assert.NotErrorIs(t, err, ErrModel)
	assert.Equal(t, KindProcessing, KindOf(err))
}

func TestExternalServiceError_KeepsCause(t *testing.T) {
	cause := NewKindError(KindNetwork, "connection reset", errors.New("read: connection reset by peer"))
	err := NewExternalServiceError(3, cause)

	assert.ErrorIs(t, err, ErrExternalService)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 3, err.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.True(t, err.Response(false).Retryable)
}

func TestQuotaExceededError_Response(t *testing.T) {
	resetAt := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	err := NewQuotaExceededError(5, resetAt)

	resp := err.Response(false)
	assert.Equal(t, ErrCodeQuotaExceeded, resp.Code)
	require.NotNil(t, resp.Remaining)
	assert.Equal(t, int64(0), *resp.Remaining)
	require.NotNil(t, resp.ResetAt)
	assert.True(t, resp.ResetAt.Equal(resetAt))
	assert.Equal(t, http.StatusTooManyRequests, err.Status)
}

func TestAsCustomError(t *testing.T) {
	assert.Equal(t, KindTimeout, AsCustomError(context.DeadlineExceeded).Kind)
	assert.Equal(t, StatusClientClosedRequest, AsCustomError(context.Canceled).Status)
	assert.Equal(t, http.StatusInternalServerError, AsCustomError(errors.New("boom")).Status)

	nf := NewNotFoundError("recipe not found")
	assert.Same(t, nf, AsCustomError(fmt.Errorf("lookup: %w", nf)))
}
