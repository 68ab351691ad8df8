// Package stream renders a finished assistant reply as an OpenAI
// server-sent-events stream.
package stream

import (
	"encoding/json"
	"iter"
	"strings"

	"github.com/mixaill76/chat_relay/internal/openai"
)

var doneLine = []byte("data: [DONE]\n\n")

// Frame is one SSE event. A frame without a chunk is the [DONE] sentinel.
type Frame struct {
	Chunk *openai.StreamingChunk
}

// Done reports whether f is the terminating sentinel.
func (f Frame) Done() bool {
	return f.Chunk == nil
}

// Bytes renders the frame as a complete SSE event.
func (f Frame) Bytes() ([]byte, error) {
	if f.Done() {
		return doneLine, nil
	}
	data, err := json.Marshal(f.Chunk)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}

// Encode splits msg.Content on whitespace and yields one delta frame per word,
// then a terminal frame with finish_reason "stop", then the sentinel. Every
// word except the last keeps a trailing space. The first delta carries the
// assistant role. Each call returns a fresh sequence.
func Encode(msg openai.Message, id, model string, created int64) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		words := strings.Fields(msg.Content)

		newChunk := func(delta openai.StreamingDelta, finish *string) Frame {
			return Frame{Chunk: &openai.StreamingChunk{
				ID:      id,
				Object:  openai.ObjectChatCompletionChunk,
				Created: created,
				Model:   model,
				Choices: []openai.StreamingChoice{{
					Index:        0,
					Delta:        delta,
					FinishReason: finish,
				}},
			}}
		}

		for i, word := range words {
			delta := openai.StreamingDelta{Content: word}
			if i < len(words)-1 {
				delta.Content += " "
			}
			if i == 0 {
				delta.Role = openai.RoleAssistant
			}
			if !yield(newChunk(delta, nil)) {
				return
			}
		}

		stop := openai.FinishReasonStop
		if !yield(newChunk(openai.StreamingDelta{}, &stop)) {
			return
		}
		yield(Frame{})
	}
}
