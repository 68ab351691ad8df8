package testhelpers

import (
	"io"
	"log/slog"

	"github.com/mixaill76/chat_relay/internal/logger"
)

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() *slog.Logger {
	return logger.New(io.Discard, "error", logger.FormatText)
}
