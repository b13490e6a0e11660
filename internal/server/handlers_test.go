package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"gopilot/config"
	"gopilot/internal/core"
	"gopilot/internal/upstream"
)

// testConfig returns a config pointing at non-local placeholder hosts; the
// redirect transport below routes those hosts to httptest listeners.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:          "8080",
			BodySizeLimit: "10M",
		},
		Upstream: config.UpstreamConfig{
			DefaultModel: "demo-model",
			AuthMode:     "none",
		},
	}
}

// redirectInvoker builds an invoker whose transport dials the given test
// server regardless of the request host. The loopback blocklist forbids
// pointing configuration at httptest URLs directly, so tests use a
// placeholder hostname and redirect the dial instead.
func redirectInvoker(srv *httptest.Server) *upstream.Invoker {
	addr := srv.Listener.Addr().String()
	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}}
	return upstream.NewInvokerWithClients(client, client, client, nil)
}

func newTestServer(cfg *config.Config, inv *upstream.Invoker, opts Options) *Server {
	if inv == nil {
		inv = upstream.NewInvoker(nil)
	}
	return New(cfg, inv, opts)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

const predictResponse = `{"predictions":[{"id":"pred-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello world"},"finish_reason":"stop"}]}]}`

func TestHealth(t *testing.T) {
	s := newTestServer(testConfig(), nil, Options{})
	rec := doRequest(s, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "status").String(); got != "ok" {
		t.Errorf("status field = %q", got)
	}
}

func TestListModels(t *testing.T) {
	s := newTestServer(testConfig(), nil, Options{})
	rec := doRequest(s, http.MethodGet, "/v1/models", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp core.ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Object != "list" || len(resp.Data) != 1 || resp.Data[0].ID != "demo-model" {
		t.Errorf("models = %+v", resp)
	}
}

func TestChatCompletionPredictBuffered(t *testing.T) {
	var upstreamBody []byte
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(predictResponse)) //nolint:errcheck
	}))
	defer fake.Close()

	cfg := testConfig()
	cfg.Upstream.PredictURL = "http://model.internal/v1beta1/endpoints/1:predict"

	s := newTestServer(cfg, redirectInvoker(fake), Options{})
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}],"max_tokens":64}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The outbound body must be the single-instance envelope.
	var envelope struct {
		Instances []map[string]json.RawMessage `json:"instances"`
	}
	if err := json.Unmarshal(upstreamBody, &envelope); err != nil {
		t.Fatalf("unmarshal outbound body: %v", err)
	}
	if len(envelope.Instances) != 1 {
		t.Fatalf("instances = %d, want 1", len(envelope.Instances))
	}
	instance := envelope.Instances[0]
	if string(instance["@requestFormat"]) != `"chatCompletions"` {
		t.Errorf("@requestFormat = %s", instance["@requestFormat"])
	}
	if string(instance["max_tokens"]) != "64" {
		t.Errorf("max_tokens = %s", instance["max_tokens"])
	}
	if _, ok := instance["temperature"]; ok {
		t.Error("absent temperature must be omitted, not null")
	}

	// The response is the normalized completion; the prediction carried no
	// model, so the request's (defaulted) model fills it.
	body := rec.Body.String()
	if got := gjson.Get(body, "model").String(); got != "demo-model" {
		t.Errorf("model = %q", got)
	}
	if got := gjson.Get(body, "choices.0.message.content").String(); got != "hello world" {
		t.Errorf("content = %q", got)
	}
	if gjson.Get(body, "usage").Exists() {
		t.Error("usage absent upstream must stay absent")
	}
}

func TestChatCompletionPredictStreamEmulation(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(predictResponse)) //nolint:errcheck
	}))
	defer fake.Close()

	cfg := testConfig()
	cfg.Upstream.PredictURL = "http://model.internal/v1beta1/endpoints/1:predict"

	s := newTestServer(cfg, redirectInvoker(fake), Options{})
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}],"stream":true}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	out := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(out, "\n\n"), "\n\n")
	// "hello world" fits one content slice: role, content, terminal, DONE.
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4\noutput: %q", len(frames), out)
	}

	role := strings.TrimPrefix(frames[0], "data: ")
	if got := gjson.Get(role, "choices.0.delta.role").String(); got != "assistant" {
		t.Errorf("first delta role = %q", got)
	}
	content := strings.TrimPrefix(frames[1], "data: ")
	if got := gjson.Get(content, "choices.0.delta.content").String(); got != "hello world" {
		t.Errorf("content delta = %q", got)
	}
	terminal := strings.TrimPrefix(frames[2], "data: ")
	if got := gjson.Get(terminal, "choices.0.finish_reason").String(); got != "stop" {
		t.Errorf("finish_reason = %q", got)
	}
	if frames[3] != "data: [DONE]" {
		t.Errorf("last frame = %q", frames[3])
	}
}

func TestChatCompletionChatStyleBufferedMirrors(t *testing.T) {
	var upstreamBody []byte
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-7","object":"chat.completion","nonstandard":true}`)) //nolint:errcheck
	}))
	defer fake.Close()

	cfg := testConfig()
	cfg.Upstream.ChatCompletionsURL = "http://model.internal/v1/chat/completions"

	s := newTestServer(cfg, redirectInvoker(fake), Options{})
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// Model defaulting is the only mutation on the relayed request.
	if got := gjson.GetBytes(upstreamBody, "model").String(); got != "demo-model" {
		t.Errorf("outbound model = %q", got)
	}

	// The upstream already speaks the client contract: bytes pass through.
	if rec.Body.String() != `{"id":"chatcmpl-7","object":"chat.completion","nonstandard":true}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChatCompletionStreamRelay(t *testing.T) {
	raw := "data: {\"id\":\"1\"}\n\ndata: [DONE]\n\n"
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(raw)) //nolint:errcheck
	}))
	defer fake.Close()

	cfg := testConfig()
	cfg.Upstream.BaseURL = "http://model.internal"

	s := newTestServer(cfg, redirectInvoker(fake), Options{})
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}],"stream":true}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != raw {
		t.Errorf("relayed = %q, want verbatim upstream bytes", rec.Body.String())
	}
}

func TestChatCompletionUpstreamErrorMirrors(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"model not found"}}`)) //nolint:errcheck
	}))
	defer fake.Close()

	cfg := testConfig()
	cfg.Upstream.ChatCompletionsURL = "http://model.internal/v1/chat/completions"

	s := newTestServer(cfg, redirectInvoker(fake), Options{})
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want mirrored 404", rec.Code)
	}
	if rec.Body.String() != `{"error":{"message":"model not found"}}` {
		t.Errorf("body = %s, want verbatim upstream body", rec.Body.String())
	}
}

func TestChatCompletionNoUpstreamConfigured(t *testing.T) {
	s := newTestServer(testConfig(), nil, Options{})
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "error.type").String(); got != "config_error" {
		t.Errorf("error type = %q", got)
	}
}

func TestChatCompletionRejectsLocalUpstream(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.PredictURL = "http://127.0.0.1:9999/predict"

	s := newTestServer(cfg, nil, Options{})
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestChatCompletionInvalidBody(t *testing.T) {
	s := newTestServer(testConfig(), nil, Options{})
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"messages": not json`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestVertexPredictPassthrough(t *testing.T) {
	var upstreamBody []byte
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body) //nolint:errcheck
		w.Write([]byte(`{"predictions":[{"raw":true}]}`)) //nolint:errcheck
	}))
	defer fake.Close()

	cfg := testConfig()
	cfg.Upstream.PredictURL = "http://model.internal/v1beta1/endpoints/1:predict"

	raw := `{"instances":[{"custom":"payload"}]}`
	s := newTestServer(cfg, redirectInvoker(fake), Options{})
	rec := doRequest(s, http.MethodPost, "/vertex/predict", raw)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if string(upstreamBody) != raw {
		t.Errorf("forwarded body = %s, want untouched client body", upstreamBody)
	}
	if rec.Body.String() != `{"predictions":[{"raw":true}]}` {
		t.Errorf("body = %s, want untouched upstream body", rec.Body.String())
	}
}

func TestVertexPredictRequiresPredictURL(t *testing.T) {
	s := newTestServer(testConfig(), nil, Options{})
	rec := doRequest(s, http.MethodPost, "/vertex/predict", `{}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestInvokeToolForwards(t *testing.T) {
	var gotPath string
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"result":"ok"}`)) //nolint:errcheck
	}))
	defer fake.Close()

	cfg := testConfig()
	cfg.Toolbox.BaseURL = "http://toolbox.internal"

	s := newTestServer(cfg, redirectInvoker(fake), Options{})
	rec := doRequest(s, http.MethodPost, "/tools/search-code/invoke", `{"query":"relay"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotPath != "/api/tool/search-code/invoke" {
		t.Errorf("toolbox path = %q", gotPath)
	}
	if rec.Body.String() != `{"result":"ok"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestInvokeToolRequiresToolboxURL(t *testing.T) {
	s := newTestServer(testConfig(), nil, Options{})
	rec := doRequest(s, http.MethodPost, "/tools/search-code/invoke", `{}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type fakeAgent struct {
	answer string
	err    error

	gotQuery   string
	gotRepoURL string
}

func (a *fakeAgent) Query(_ context.Context, query, repoURL string) (string, error) {
	a.gotQuery = query
	a.gotRepoURL = repoURL
	return a.answer, a.err
}

func TestAgentQuery(t *testing.T) {
	agent := &fakeAgent{answer: "the relay copies bytes verbatim"}
	s := newTestServer(testConfig(), nil, Options{Agent: agent})

	rec := doRequest(s, http.MethodPost, "/agent/query",
		`{"query":"how does the relay work?","repo_url":"https://example.com/repo.git"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if agent.gotQuery != "how does the relay work?" {
		t.Errorf("query = %q", agent.gotQuery)
	}
	if got := gjson.Get(rec.Body.String(), "response").String(); got != agent.answer {
		t.Errorf("response = %q", got)
	}
}

func TestAgentQueryRequiresQuery(t *testing.T) {
	s := newTestServer(testConfig(), nil, Options{Agent: &fakeAgent{}})
	rec := doRequest(s, http.MethodPost, "/agent/query", `{"repo_url":"https://example.com/repo.git"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAgentQueryDisabled(t *testing.T) {
	s := newTestServer(testConfig(), nil, Options{})
	rec := doRequest(s, http.MethodPost, "/agent/query", `{"query":"hi"}`)

	// The route is not registered when the subsystem is off.
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
