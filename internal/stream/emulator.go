// Package stream renders chat-completion responses as Server-Sent-Event
// streams, either by relaying a live upstream stream or by fabricating one
// from an already-complete response.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"gopilot/internal/core"
)

// done is the literal sentinel frame that terminates every stream.
const done = "data: [DONE]\n\n"

// Emulator fabricates an incremental chunk sequence from a complete
// chat-completion. It exists so streaming-only clients can interoperate with
// an upstream that only answers synchronously; the multi-chunk split is part
// of the contract, since client SSE parsers expect more than one content
// event.
type Emulator struct {
	completion *core.ChatCompletion
	id         string
}

// NewEmulator creates an emulator for the given completion. When the
// completion carries no id, a fresh one is generated for the chunk stream.
func NewEmulator(completion *core.ChatCompletion) *Emulator {
	id := completion.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	return &Emulator{completion: completion, id: id}
}

// chunkSize derives the content slice size: roughly twenty pieces, at least
// twenty characters each, never zero.
func chunkSize(contentLen int) int {
	size := contentLen / 20
	if size == 0 {
		size = 1
	}
	if size < 20 {
		size = 20
	}
	return size
}

// Frames returns the full ordered SSE frame sequence: one role chunk, the
// content chunks, a terminal chunk with a non-null finish_reason, and the
// [DONE] sentinel. The sequence is deterministic and ends with the sentinel
// even when the content is empty.
func (e *Emulator) Frames() []string {
	var content, finishReason string
	if len(e.completion.Choices) > 0 {
		content = e.completion.Choices[0].Message.Content
		finishReason = e.completion.Choices[0].FinishReason
	}
	if finishReason == "" {
		finishReason = "stop"
	}

	frames := []string{e.frame(core.Delta{Role: "assistant"}, nil)}

	// Slice by runes, not bytes, so a multibyte character never straddles two
	// chunks and every delta stays valid UTF-8.
	runes := []rune(content)
	size := chunkSize(len(runes))
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		frames = append(frames, e.frame(core.Delta{Content: string(runes[start:end])}, nil))
	}

	frames = append(frames, e.frame(core.Delta{}, &finishReason))
	frames = append(frames, done)
	return frames
}

// frame renders a single chunk as an SSE data frame.
func (e *Emulator) frame(delta core.Delta, finishReason *string) string {
	chunk := core.ChatCompletionChunk{
		ID:     e.id,
		Object: "chat.completion.chunk",
		Model:  e.completion.Model,
		Choices: []core.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
	data, _ := json.Marshal(chunk) //nolint:errcheck
	return fmt.Sprintf("data: %s\n\n", data)
}

// Stream writes the frame sequence to w, flushing after each frame. It stops
// early when ctx is canceled (client disconnect); no partial frame is ever
// retransmitted.
func (e *Emulator) Stream(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)

	for _, frame := range e.Frames() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := io.WriteString(w, frame); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}
