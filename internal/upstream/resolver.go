// Package upstream resolves which inference backend a request is sent to and
// performs the outbound call.
package upstream

import (
	"fmt"
	"strings"

	"gopilot/config"
	"gopilot/internal/core"
)

// Style identifies the wire contract the resolved target speaks.
type Style string

const (
	// StylePredict targets use the instances/predictions envelope.
	StylePredict Style = "predict"

	// StyleChatCompletions targets speak chat-completions JSON natively.
	StyleChatCompletions Style = "chat_completions"
)

// chatCompletionsPath is joined onto a bare base URL.
const chatCompletionsPath = "/v1/chat/completions"

// AuthMode names the authentication strategy for the outbound call.
type AuthMode string

const (
	AuthBearer AuthMode = "bearer"
	AuthGCloud AuthMode = "gcloud"
	AuthNone   AuthMode = "none"
)

// Target is the fully resolved upstream destination for one request. It is
// built fresh per request from configuration and never persisted.
type Target struct {
	URL     string
	Style   Style
	Headers map[string]string
}

// blockedHostFragments is the loopback/local blocklist. Forwarding gateway
// traffic to a local address is a hard policy violation, not a tuning knob.
var blockedHostFragments = []string{"localhost", "127.0.0.1", "[::1]", "0.0.0.0"}

// Resolve selects exactly one upstream target from configuration, applying
// the precedence predict URL > chat-completions URL > base URL, and attaches
// resolved authentication headers. All failures are configuration errors.
func Resolve(cfg config.UpstreamConfig) (*Target, error) {
	url, style, err := selectURL(cfg)
	if err != nil {
		return nil, err
	}

	headers, err := authHeaders(cfg)
	if err != nil {
		return nil, err
	}

	return &Target{URL: url, Style: style, Headers: headers}, nil
}

// ResolvePredict resolves the prediction endpoint specifically, for the raw
// prediction passthrough. Fails when no predict URL is configured.
func ResolvePredict(cfg config.UpstreamConfig) (*Target, error) {
	if cfg.PredictURL == "" {
		return nil, core.NewConfigError("UPSTREAM_PREDICT_URL is not set")
	}
	if err := checkNotLocal(cfg.PredictURL); err != nil {
		return nil, err
	}

	headers, err := authHeaders(cfg)
	if err != nil {
		return nil, err
	}

	return &Target{URL: cfg.PredictURL, Style: StylePredict, Headers: headers}, nil
}

// ResolveToolbox validates the toolbox base URL for the named-tool
// passthrough.
func ResolveToolbox(cfg config.ToolboxConfig, tool string) (string, error) {
	if cfg.BaseURL == "" {
		return "", core.NewConfigError("GENAI_TOOLBOX_URL is not set")
	}
	if err := checkNotLocal(cfg.BaseURL); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/api/tool/%s/invoke", cfg.BaseURL, tool), nil
}

// selectURL applies the upstream precedence and the local-address policy.
func selectURL(cfg config.UpstreamConfig) (string, Style, error) {
	var url string
	style := StyleChatCompletions

	switch {
	case cfg.PredictURL != "":
		url = cfg.PredictURL
		style = StylePredict
	case cfg.ChatCompletionsURL != "":
		url = cfg.ChatCompletionsURL
	case cfg.BaseURL != "":
		url = cfg.BaseURL + chatCompletionsPath
	default:
		return "", "", core.NewConfigError(
			"no upstream configured: set UPSTREAM_PREDICT_URL, UPSTREAM_CHAT_COMPLETIONS_URL or UPSTREAM_API_BASE_URL")
	}

	if err := checkNotLocal(url); err != nil {
		return "", "", err
	}
	return url, style, nil
}

// checkNotLocal rejects URLs pointing at loopback/local addresses.
func checkNotLocal(url string) error {
	lower := strings.ToLower(url)
	for _, fragment := range blockedHostFragments {
		if strings.Contains(lower, fragment) {
			return core.NewConfigError("local addresses are forbidden in upstream URLs: " + url)
		}
	}
	return nil
}

// authHeaders builds the outbound header set for the configured auth mode.
// Bearer and gcloud both emit a bearer Authorization header; they differ
// only in which credential they require.
func authHeaders(cfg config.UpstreamConfig) (map[string]string, error) {
	headers := map[string]string{"Content-Type": "application/json"}

	switch AuthMode(cfg.AuthMode) {
	case AuthBearer:
		if cfg.APIKey == "" {
			return nil, core.NewConfigError("UPSTREAM_API_KEY is required for UPSTREAM_AUTH=bearer")
		}
		headers["Authorization"] = "Bearer " + cfg.APIKey
	case AuthGCloud:
		if cfg.AccessToken == "" {
			return nil, core.NewConfigError("GOOGLE_ACCESS_TOKEN is required for UPSTREAM_AUTH=gcloud")
		}
		headers["Authorization"] = "Bearer " + cfg.AccessToken
	case AuthNone:
		// No Authorization header.
	default:
		return nil, core.NewConfigError("unknown UPSTREAM_AUTH mode: " + cfg.AuthMode)
	}

	return headers, nil
}
