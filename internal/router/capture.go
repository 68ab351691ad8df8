package router

import (
	"bytes"
	"io"
	"net/http"
)

// responseCapture records the response status for metrics and logging. The
// body is buffered only when keepBody is set.
type responseCapture struct {
	http.ResponseWriter
	status   int
	started  bool
	keepBody bool
	body     bytes.Buffer
}

func newResponseCapture(w http.ResponseWriter, keepBody bool) *responseCapture {
	return &responseCapture{ResponseWriter: w, status: http.StatusOK, keepBody: keepBody}
}

func (rc *responseCapture) WriteHeader(status int) {
	if !rc.started {
		rc.status = status
		rc.started = true
	}
	rc.ResponseWriter.WriteHeader(status)
}

func (rc *responseCapture) Write(p []byte) (int, error) {
	rc.started = true
	if rc.keepBody {
		rc.body.Write(p)
	}
	return rc.ResponseWriter.Write(p)
}

func (rc *responseCapture) Flush() {
	if f, ok := rc.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

func (rc *responseCapture) failed() bool {
	return rc.status >= http.StatusBadRequest
}

// readAndRestoreBody returns the request body and puts a fresh reader back
// so the handler can still consume it.
func readAndRestoreBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
