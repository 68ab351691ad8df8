package stream

import (
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"
)

// chunkWriteTimeout is the per-frame write deadline. A client that stops
// reading for longer is disconnected.
const chunkWriteTimeout = 60 * time.Second

// SetHeaders prepares w for an event stream. Call before the first write.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteSSE writes every frame and flushes after each one.
func WriteSSE(w http.ResponseWriter, frames iter.Seq[Frame]) error {
	controller := http.NewResponseController(w)

	for frame := range frames {
		data, err := frame.Bytes()
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		_ = controller.SetWriteDeadline(time.Now().Add(chunkWriteTimeout))
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		if err := controller.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("flush frame: %w", err)
		}
	}
	return nil
}
