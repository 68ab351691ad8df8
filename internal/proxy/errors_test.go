package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/dispatcher"
	"github.com/mixaill76/chat_relay/internal/testhelpers"
)

func TestErrorType(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, "invalid_request_error"},
		{http.StatusNotFound, "not_found_error"},
		{http.StatusMethodNotAllowed, "invalid_request_error"},
		{http.StatusRequestTimeout, "timeout_error"},
		{http.StatusRequestEntityTooLarge, "invalid_request_error"},
		{http.StatusTooManyRequests, "rate_limit_error"},
		{http.StatusInternalServerError, "server_error"},
		{http.StatusServiceUnavailable, "api_error"},
		{http.StatusGatewayTimeout, "server_error"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, errorType(tt.status))
		})
	}
}

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		fn         func(http.ResponseWriter, string)
		wantStatus int
		wantType   string
	}{
		{"BadRequest", WriteErrorBadRequest, http.StatusBadRequest, "invalid_request_error"},
		{"NotFound", WriteErrorNotFound, http.StatusNotFound, "not_found_error"},
		{"TooLarge", WriteErrorTooLarge, http.StatusRequestEntityTooLarge, "invalid_request_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			tt.fn(recorder, "error: "+tt.name)
			resp := testhelpers.AssertJSONErrorResponse(t, recorder, tt.wantStatus, tt.wantType, "error: "+tt.name)
			assert.Nil(t, resp.Error.Code)
			assert.Nil(t, resp.Error.Param)
		})
	}
}

func TestClassifyError(t *testing.T) {
	fatal := &dispatcher.FatalError{
		Attempt: dispatcher.Attempt{Number: 1, Kind: backend.KindFatal},
		Err:     errors.New("session broken"),
	}
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown model", fmt.Errorf("%w: gpt-9", dispatcher.ErrUnknownModel), http.StatusBadRequest, "model_not_found"},
		{"retries exhausted", fmt.Errorf("%w after 5 attempts", dispatcher.ErrRetriesExhausted), http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"timeout", fmt.Errorf("%w: %w", dispatcher.ErrTimeout, context.DeadlineExceeded), http.StatusRequestTimeout, ""},
		{"deadline", context.DeadlineExceeded, http.StatusRequestTimeout, ""},
		{"fatal", fatal, http.StatusServiceUnavailable, ""},
		{"empty pool", balancer.ErrEmptyPool, http.StatusServiceUnavailable, ""},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestWriteDispatchError_UnknownModelCode(t *testing.T) {
	recorder := httptest.NewRecorder()
	writeDispatchError(recorder, fmt.Errorf("%w: gpt-9", dispatcher.ErrUnknownModel))
	resp := testhelpers.AssertJSONErrorResponse(t, recorder, http.StatusBadRequest, "invalid_request_error", "unknown model: gpt-9")
	require.NotNil(t, resp.Error.Code)
	assert.Equal(t, "model_not_found", *resp.Error.Code)
}
