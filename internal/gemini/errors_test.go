package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError_Classification(t *testing.T) {
	tests := []struct {
		err    error
		reason Reason
		status int
	}{
		{context.DeadlineExceeded, ReasonTimeout, 0},
		{fmt.Errorf("stream: %w", context.DeadlineExceeded), ReasonTimeout, 0},
		{errors.New("Error 429: RESOURCE_EXHAUSTED"), ReasonRateLimit, 429},
		{errors.New("Error 401: UNAUTHENTICATED"), ReasonAuth, 401},
		{errors.New("response blocked by safety filters"), ReasonContentFilter, 0},
		{errors.New("Error 400: INVALID_ARGUMENT"), ReasonInvalidRequest, 400},
		{errors.New("Error 503: service unavailable"), ReasonServerError, 503},
		{errors.New("something odd"), ReasonUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			var pe *ProviderError
			require.ErrorAs(t, wrapError(tt.err, "gemini-2.0-flash"), &pe)
			assert.Equal(t, tt.reason, pe.Reason)
			assert.Equal(t, tt.status, pe.Status)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func TestWrapError_PassThrough(t *testing.T) {
	assert.NoError(t, wrapError(nil, "m"))
	orig := &ProviderError{Reason: ReasonAuth}
	assert.Same(t, orig, wrapError(orig, "m"))
}

func TestProviderError_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, (&ProviderError{Reason: ReasonRateLimit}).HTTPStatus())
	assert.Equal(t, http.StatusGatewayTimeout, (&ProviderError{Reason: ReasonTimeout}).HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, (&ProviderError{Reason: ReasonInvalidRequest}).HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, (&ProviderError{Reason: ReasonUnknown}).HTTPStatus())

	msg := (&ProviderError{Reason: ReasonAuth, Model: "gemini-x", Status: 401, Cause: errors.New("nope")}).Error()
	assert.Equal(t, "[auth] gemini model=gemini-x status=401 nope", msg)
}
