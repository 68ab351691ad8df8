package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/dispatcher"
)

// APIErrorResponse represents an OpenAI-compatible error response.
type APIErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError represents the error object inside an OpenAI-compatible error response.
type APIError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

const (
	codeModelNotFound     = "model_not_found"
	codeRateLimitExceeded = "rate_limit_exceeded"
)

var errorTypes = map[int]string{
	http.StatusBadRequest:            "invalid_request_error",
	http.StatusNotFound:              "not_found_error",
	http.StatusRequestTimeout:        "timeout_error",
	http.StatusRequestEntityTooLarge: "invalid_request_error",
	http.StatusTooManyRequests:       "rate_limit_error",
	http.StatusServiceUnavailable:    "api_error",
}

// errorType maps an HTTP status to its OpenAI error type.
func errorType(status int) string {
	if t, ok := errorTypes[status]; ok {
		return t
	}
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "invalid_request_error"
}

// writeError writes an OpenAI-compatible JSON error. An empty code is sent
// as null.
func writeError(w http.ResponseWriter, status int, message, code string) {
	resp := APIErrorResponse{Error: APIError{Message: message, Type: errorType(status)}}
	if code != "" {
		resp.Error.Code = &code
	}
	writeJSON(w, status, resp)
}

// WriteErrorBadRequest writes a 400 Bad Request JSON error.
func WriteErrorBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message, "")
}

// WriteErrorNotFound writes a 404 Not Found JSON error.
func WriteErrorNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, message, "")
}

// WriteErrorTooLarge writes a 413 Request Entity Too Large JSON error.
func WriteErrorTooLarge(w http.ResponseWriter, message string) {
	writeError(w, http.StatusRequestEntityTooLarge, message, "")
}

// classifyError maps a dispatcher error to its HTTP status and error code.
func classifyError(err error) (int, string) {
	var fatal *dispatcher.FatalError
	switch {
	case errors.Is(err, dispatcher.ErrUnknownModel):
		return http.StatusBadRequest, codeModelNotFound
	case errors.Is(err, dispatcher.ErrRetriesExhausted):
		return http.StatusTooManyRequests, codeRateLimitExceeded
	case errors.Is(err, dispatcher.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, ""
	case errors.As(err, &fatal), errors.Is(err, balancer.ErrEmptyPool):
		return http.StatusServiceUnavailable, ""
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeDispatchError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeError(w, status, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
