package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"gopilot/internal/core"
	"gopilot/internal/pkg/httpclient"
)

// Call timeouts per mode. Prediction backends are strictly request/response
// and may take a while to produce the whole answer; buffered chat-completion
// calls are bounded tighter; streamed calls have no overall deadline and rely
// on the transport's per-read timeouts.
const (
	predictTimeout  = 2 * time.Minute
	bufferedTimeout = 1 * time.Minute
)

// Response is the result of a successful buffered upstream call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Recorder observes the outcome of upstream calls. Implementations must be
// safe for concurrent use.
type Recorder interface {
	ObserveUpstreamCall(style, outcome string)
}

// Invoker performs outbound upstream calls and classifies the result into
// exactly one of: success, upstream error (status >= 400), or network error
// (no status obtainable). It never retries; failures are surfaced, not
// handled.
type Invoker struct {
	predict  *http.Client
	buffered *http.Client
	stream   *http.Client
	recorder Recorder
}

// NewInvoker creates an Invoker with per-mode clients. recorder may be nil.
func NewInvoker(recorder Recorder) *Invoker {
	return &Invoker{
		predict:  httpclient.NewWithTimeout(predictTimeout),
		buffered: httpclient.NewWithTimeout(bufferedTimeout),
		stream:   httpclient.New(httpclient.StreamingConfig()),
		recorder: recorder,
	}
}

// NewInvokerWithClients creates an Invoker backed by the given clients, used
// by tests to control transport behavior. Nil clients fall back to defaults.
func NewInvokerWithClients(predict, buffered, stream *http.Client, recorder Recorder) *Invoker {
	inv := NewInvoker(recorder)
	if predict != nil {
		inv.predict = predict
	}
	if buffered != nil {
		inv.buffered = buffered
	}
	if stream != nil {
		inv.stream = stream
	}
	return inv
}

// Post performs a buffered POST to the target and reads the full body.
// A status >= 400 is returned as a core upstream error carrying the verbatim
// body; transport failures are returned as network errors.
func (inv *Invoker) Post(ctx context.Context, target *Target, body []byte) (*Response, error) {
	client := inv.buffered
	if target.Style == StylePredict {
		client = inv.predict
	}

	resp, err := inv.send(ctx, client, target, body)
	if err != nil {
		inv.observe(target.Style, "network_error")
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		inv.observe(target.Style, "network_error")
		return nil, core.NewNetworkError("failed to read upstream response: "+err.Error(), err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		inv.observe(target.Style, "upstream_error")
		return nil, core.NewUpstreamError(resp.StatusCode, respBody)
	}

	inv.observe(target.Style, "success")
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Stream opens a live byte stream from the target, returning the body along
// with the upstream status and headers so the relay can preserve them. The
// caller must close the body. When the upstream signals an error status
// before any bytes are usefully relayed, the error body is drained and
// surfaced instead of starting the stream.
func (inv *Invoker) Stream(ctx context.Context, target *Target, body []byte) (io.ReadCloser, int, http.Header, error) {
	resp, err := inv.send(ctx, inv.stream, target, body)
	if err != nil {
		inv.observe(target.Style, "network_error")
		return nil, 0, nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read upstream error response")
		}
		_ = resp.Body.Close() //nolint:errcheck
		inv.observe(target.Style, "upstream_error")
		return nil, 0, nil, core.NewUpstreamError(resp.StatusCode, respBody)
	}

	inv.observe(target.Style, "success")
	return resp.Body, resp.StatusCode, resp.Header, nil
}

// send builds and executes one HTTP request. Transport failures map to
// network errors; any response, whatever its status, is handed back to the
// caller for classification.
func (inv *Invoker) send(ctx context.Context, client *http.Client, target *Target, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewNetworkError("failed to build upstream request: "+err.Error(), err)
	}

	for key, value := range target.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, core.NewNetworkError("failed to reach upstream: "+err.Error(), err)
	}
	return resp, nil
}

func (inv *Invoker) observe(style Style, outcome string) {
	if inv.recorder != nil {
		inv.recorder.ObserveUpstreamCall(string(style), outcome)
	}
}
