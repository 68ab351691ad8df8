// Package logger builds the process logger and trims request bodies before
// they are logged.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// New returns a logger writing to w. format is "text" or "json"; anything
// else falls back to text.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel accepts the slog level names, case-insensitive, plus "warning".
// Unknown values mean info.
func ParseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// previewLen bounds conversation text regardless of maxFieldLength.
const previewLen = 50

var previewFields = map[string]bool{
	"content": true,
	"prompt":  true,
	"text":    true,
}

// TruncateLongFields shortens long string values of a JSON body for logging.
// Message content, prompts and content-block text keep only a short preview.
// Invalid JSON is returned unchanged.
func TruncateLongFields(body string, maxFieldLength int) string {
	var data any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return body
	}
	out, err := json.Marshal(truncate(data, "", maxFieldLength))
	if err != nil {
		return body
	}
	return string(out)
}

// truncate walks v; key is the object key v was found under, inherited by
// array elements.
func truncate(v any, key string, maxLen int) any {
	switch val := v.(type) {
	case string:
		limit := maxLen
		if previewFields[key] {
			limit = previewLen
		}
		if len(val) <= limit {
			return val
		}
		return fmt.Sprintf("%s... [truncated %d chars]", strings.ToValidUTF8(val[:limit], ""), len(val)-limit)
	case map[string]any:
		for k, item := range val {
			val[k] = truncate(item, k, maxLen)
		}
	case []any:
		for i, item := range val {
			val[i] = truncate(item, key, maxLen)
		}
	}
	return v
}
