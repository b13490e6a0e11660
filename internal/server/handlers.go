// Package server provides HTTP handlers and server setup for the gateway.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"gopilot/config"
	"gopilot/internal/core"
	"gopilot/internal/stream"
	"gopilot/internal/translate"
	"gopilot/internal/upstream"
)

// AgentService answers repository-grounded questions. The orchestrator
// implements it; the server only needs this narrow surface.
type AgentService interface {
	Query(ctx context.Context, query, repoURL string) (string, error)
}

// Handler holds the HTTP handlers.
type Handler struct {
	cfg     *config.Config
	invoker *upstream.Invoker
	agent   AgentService
}

// NewHandler creates a handler bound to the given configuration and invoker.
// agent may be nil when the agent subsystem is disabled.
func NewHandler(cfg *config.Config, invoker *upstream.Invoker, agent AgentService) *Handler {
	return &Handler{
		cfg:     cfg,
		invoker: invoker,
		agent:   agent,
	}
}

// Health handles GET /healthz.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models. The gateway fronts a single configured
// backend, so the list is exactly the default model.
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, core.ModelsResponse{
		Object: "list",
		Data: []core.Model{
			{ID: h.cfg.Upstream.DefaultModel, Object: "model"},
		},
	})
}

// ChatCompletion handles POST /v1/chat/completions. The request is resolved
// to exactly one upstream target; prediction-style targets get translated in
// both directions, chat-completions targets are relayed as-is.
func (h *Handler) ChatCompletion(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	target, err := upstream.Resolve(h.cfg.Upstream)
	if err != nil {
		return handleError(c, err)
	}

	translate.ApplyDefaultModel(&req, h.cfg.Upstream.DefaultModel)

	body, err := translate.Request(&req, target.Style)
	if err != nil {
		return handleError(c, core.NewTranslationError("failed to encode upstream request: "+err.Error(), err))
	}

	if target.Style == upstream.StylePredict {
		return h.completeViaPredict(c, target, &req, body)
	}
	if req.Stream {
		return h.relayUpstreamStream(c, target, body)
	}

	// Buffered chat-completions call: the upstream already speaks the
	// client's contract, so status and body pass through untouched.
	resp, err := h.invoker.Post(c.Request().Context(), target, body)
	if err != nil {
		return handleError(c, err)
	}
	return c.Blob(resp.StatusCode, contentTypeOf(resp.Header), resp.Body)
}

// completeViaPredict performs the buffered prediction call, normalizes the
// envelope, and either returns the completion or emulates a chunk stream
// from it when the client asked to stream.
func (h *Handler) completeViaPredict(c echo.Context, target *upstream.Target, req *core.ChatRequest, body []byte) error {
	ctx := c.Request().Context()

	resp, err := h.invoker.Post(ctx, target, body)
	if err != nil {
		return handleError(c, err)
	}

	completion, err := translate.Prediction(resp.Body, req.Model)
	if err != nil {
		return handleError(c, err)
	}

	if req.Stream && len(completion.Choices) > 0 {
		writeSSEHeaders(c)
		c.Response().WriteHeader(http.StatusOK)
		// Headers are committed; a mid-stream failure can only end the
		// stream, not change the response.
		_ = stream.NewEmulator(completion).Stream(ctx, c.Response()) //nolint:errcheck
		return nil
	}

	return c.JSON(http.StatusOK, completion)
}

// relayUpstreamStream opens a live stream from a chat-completions upstream
// and copies its bytes to the client verbatim.
func (h *Handler) relayUpstreamStream(c echo.Context, target *upstream.Target, body []byte) error {
	ctx := c.Request().Context()

	upstreamBody, status, header, err := h.invoker.Stream(ctx, target, body)
	if err != nil {
		return handleError(c, err)
	}
	defer func() {
		_ = upstreamBody.Close() //nolint:errcheck
	}()

	c.Response().Header().Set("Content-Type", contentTypeOf(header))
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(status)

	_ = stream.Relay(ctx, c.Response(), upstreamBody) //nolint:errcheck
	return nil
}

// VertexPredict handles POST /vertex/predict: a raw passthrough to the
// configured prediction endpoint, no translation in either direction.
func (h *Handler) VertexPredict(c echo.Context) error {
	target, err := upstream.ResolvePredict(h.cfg.Upstream)
	if err != nil {
		return handleError(c, err)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError("failed to read request body: "+err.Error(), err))
	}

	resp, err := h.invoker.Post(c.Request().Context(), target, body)
	if err != nil {
		return handleError(c, err)
	}
	return c.Blob(resp.StatusCode, contentTypeOf(resp.Header), resp.Body)
}

// InvokeTool handles POST /tools/:name/invoke, forwarding the body to the
// toolbox service's invoke endpoint for that tool.
func (h *Handler) InvokeTool(c echo.Context) error {
	url, err := upstream.ResolveToolbox(h.cfg.Toolbox, c.Param("name"))
	if err != nil {
		return handleError(c, err)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError("failed to read request body: "+err.Error(), err))
	}

	target := &upstream.Target{
		URL:     url,
		Style:   upstream.StyleChatCompletions,
		Headers: map[string]string{"Content-Type": "application/json"},
	}

	resp, err := h.invoker.Post(c.Request().Context(), target, body)
	if err != nil {
		return handleError(c, err)
	}
	return c.Blob(resp.StatusCode, contentTypeOf(resp.Header), resp.Body)
}

type agentQueryRequest struct {
	Query   string `json:"query"`
	RepoURL string `json:"repo_url"`
}

// AgentQuery handles POST /agent/query.
func (h *Handler) AgentQuery(c echo.Context) error {
	if h.agent == nil {
		return handleError(c, core.NewConfigError("agent subsystem is not enabled"))
	}

	var req agentQueryRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Query == "" {
		return handleError(c, core.NewInvalidRequestError("query is required", nil))
	}

	answer, err := h.agent.Query(c.Request().Context(), req.Query, req.RepoURL)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"response": answer})
}

// writeSSEHeaders sets the standard event-stream response headers.
func writeSSEHeaders(c echo.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
}

// contentTypeOf extracts the upstream content type, defaulting to JSON.
func contentTypeOf(header http.Header) string {
	if ct := header.Get("Content-Type"); ct != "" {
		return ct
	}
	return echo.MIMEApplicationJSON
}

// handleError converts gateway errors to HTTP responses. Upstream errors
// mirror the upstream status and body verbatim; every other gateway error
// renders the JSON error envelope.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		if gatewayErr.Type == core.ErrorTypeUpstream {
			return c.Blob(gatewayErr.UpstreamStatus, echo.MIMEApplicationJSON, gatewayErr.UpstreamBody)
		}
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
