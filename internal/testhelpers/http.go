package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ErrorBody is the OpenAI-style error envelope written by the relay.
type ErrorBody struct {
	Error struct {
		Message string  `json:"message"`
		Type    string  `json:"type"`
		Param   *string `json:"param"`
		Code    *string `json:"code"`
	} `json:"error"`
}

// AssertJSONErrorResponse checks status, content type, error type and message
// of an error reply and returns the decoded body. The recorder body is left
// unread.
func AssertJSONErrorResponse(t *testing.T, rec *httptest.ResponseRecorder, status int, errType, msg string) ErrorBody {
	t.Helper()

	assert.Equal(t, status, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "error reply is not JSON: %s", rec.Body.String())
	assert.Equal(t, errType, body.Error.Type)
	assert.Equal(t, msg, body.Error.Message)
	return body
}

// NewTestRequest builds a request carrying body encoded as JSON. A nil body
// sends no content.
func NewTestRequest(method, path string, body any) *http.Request {
	var data []byte
	if body != nil {
		data, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithHeaders sets alternating key/value pairs on req and returns it.
func WithHeaders(req *http.Request, kv ...string) *http.Request {
	for i := 0; i+1 < len(kv); i += 2 {
		req.Header.Set(kv[i], kv[i+1])
	}
	return req
}
