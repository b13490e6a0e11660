package stream

import (
	"context"
	"io"
	"net/http"
)

// relayBufferSize is the read granularity for passthrough relaying. Each
// read is forwarded and flushed immediately; the full body is never
// buffered.
const relayBufferSize = 4 * 1024

// Relay forwards an already-streaming upstream body to w as bytes arrive.
// It stops when the upstream ends, a write fails, or ctx is canceled
// (client disconnect), so the upstream connection is released promptly.
func Relay(ctx context.Context, w io.Writer, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, relayBufferSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
