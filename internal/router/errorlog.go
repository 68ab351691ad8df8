package router

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mixaill76/chat_relay/internal/logger"
	"github.com/mixaill76/chat_relay/internal/security"
)

const maxLoggedBodyField = 1000

// ErrorLogEntry is one JSON line of the error log.
type ErrorLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Request    Exchange  `json:"request"`
	Response   Exchange  `json:"response"`
}

// Exchange is one side of a logged request.
type Exchange struct {
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// errorLog appends failed requests to a JSON-lines file. The file is opened
// on first use and kept open until Close.
type errorLog struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func newErrorLog(path string) *errorLog {
	return &errorLog{path: path}
}

func firstValues(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Record writes one entry for req. Authorization-like headers are masked and
// long string fields in the request body are truncated.
func (l *errorLog) Record(req *http.Request, rc *responseCapture, requestBody []byte, duration time.Duration) error {
	entry := ErrorLogEntry{
		Timestamp:  time.Now().UTC(),
		RequestID:  req.Header.Get(requestIDHeader),
		Method:     req.Method,
		Path:       req.URL.Path,
		Status:     rc.status,
		DurationMS: duration.Milliseconds(),
		Request: Exchange{
			Headers: firstValues(security.MaskSensitiveHeaders(req.Header)),
		},
		Response: Exchange{
			Headers: firstValues(rc.Header()),
			Body:    rc.body.String(),
		},
	}
	if len(requestBody) > 0 {
		entry.Request.Body = logger.TruncateLongFields(string(requestBody), maxLoggedBodyField)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		l.file = f
	}
	_, err = l.file.Write(append(line, '\n'))
	return err
}

func (l *errorLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
