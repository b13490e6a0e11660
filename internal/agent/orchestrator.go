// Package agent answers repository-grounded questions by combining workspace
// provisioning, memory retrieval and the configured inference upstream.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"gopilot/config"
	"gopilot/internal/cache"
	"gopilot/internal/core"
	"gopilot/internal/translate"
	"gopilot/internal/upstream"
)

// contextLimit caps how many snippets are folded into the prompt.
const contextLimit = 5

const systemPreamble = "You are a coding assistant answering questions about a repository. " +
	"Use the provided context when it is relevant; say so when it is not."

// Source labels for documents the orchestrator writes back into memory.
const (
	sourceQuery  = "agent/query"
	sourceAnswer = "agent/answer"
)

// Memory supplies ranked context snippets for a query and accepts free-text
// content for ingestion, so every exchange enriches later retrievals.
type Memory interface {
	Retrieve(ctx context.Context, repoURL, query string, limit int) ([]cache.Snippet, error)
	Remember(ctx context.Context, repoURL, source, content string) error
}

// WorkspaceEnsurer provisions the compute container for a repository.
type WorkspaceEnsurer interface {
	Ensure(ctx context.Context, repoURL string) (string, error)
}

// Orchestrator drives one agent query end to end. Workspace provisioning and
// context retrieval are best-effort: their failure degrades the answer, it
// does not fail the request. Only the inference call itself is load-bearing.
type Orchestrator struct {
	upstreamCfg config.UpstreamConfig
	invoker     *upstream.Invoker
	memory      Memory
	workspaces  WorkspaceEnsurer
	logger      *slog.Logger
}

// New creates an orchestrator. memory and workspaces may be nil when the
// corresponding subsystem is disabled; logger may be nil.
func New(upstreamCfg config.UpstreamConfig, invoker *upstream.Invoker, memory Memory, workspaces WorkspaceEnsurer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		upstreamCfg: upstreamCfg,
		invoker:     invoker,
		memory:      memory,
		workspaces:  workspaces,
		logger:      logger,
	}
}

// Query answers a question about a repository.
func (o *Orchestrator) Query(ctx context.Context, query, repoURL string) (string, error) {
	target, err := upstream.Resolve(o.upstreamCfg)
	if err != nil {
		return "", err
	}

	if o.workspaces != nil && repoURL != "" {
		if _, err := o.workspaces.Ensure(ctx, repoURL); err != nil {
			o.logger.Warn("workspace provisioning failed", "repo_url", repoURL, "error", err)
		}
	}

	var snippets []cache.Snippet
	if o.memory != nil {
		// The question itself becomes part of memory before retrieval, so
		// repeated themes surface in later context.
		if err := o.memory.Remember(ctx, repoURL, sourceQuery, query); err != nil {
			o.logger.Warn("query ingestion failed", "error", err)
		}
		snippets, err = o.memory.Retrieve(ctx, repoURL, query, contextLimit)
		if err != nil {
			o.logger.Warn("context retrieval failed", "error", err)
			snippets = nil
		}
	}

	req := &core.ChatRequest{Messages: buildMessages(query, snippets)}
	translate.ApplyDefaultModel(req, o.upstreamCfg.DefaultModel)

	body, err := translate.Request(req, target.Style)
	if err != nil {
		return "", core.NewTranslationError("failed to encode upstream request: "+err.Error(), err)
	}

	resp, err := o.invoker.Post(ctx, target, body)
	if err != nil {
		return "", err
	}

	answer, err := extractAnswer(resp.Body, target.Style, req.Model)
	if err != nil {
		return "", err
	}

	if o.memory != nil {
		if err := o.memory.Remember(ctx, repoURL, sourceAnswer, answer); err != nil {
			o.logger.Warn("answer ingestion failed", "error", err)
		}
	}
	return answer, nil
}

// buildMessages folds the retrieved snippets into the system message.
func buildMessages(query string, snippets []cache.Snippet) []core.Message {
	var sb strings.Builder
	sb.WriteString(systemPreamble)

	if len(snippets) > 0 {
		sb.WriteString("\n\nContext:")
		for _, s := range snippets {
			fmt.Fprintf(&sb, "\n[%s]\n%s\n", s.Source, s.Content)
		}
	}

	return []core.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: query},
	}
}

// extractAnswer pulls the assistant content out of the upstream response for
// either wire style.
func extractAnswer(body []byte, style upstream.Style, requestModel string) (string, error) {
	if style == upstream.StylePredict {
		completion, err := translate.Prediction(body, requestModel)
		if err != nil {
			return "", err
		}
		if len(completion.Choices) == 0 {
			return "", core.NewTranslationError("upstream returned no choices", nil)
		}
		return completion.Choices[0].Message.Content, nil
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return "", core.NewTranslationError("upstream response carries no assistant content", nil)
	}
	return content.String(), nil
}
