// Package translate converts between the canonical chat-completion contract
// and the prediction-style instances/predictions envelope.
package translate

import (
	"encoding/json"

	"gopilot/internal/core"
	"gopilot/internal/upstream"
)

// requestFormatMarker tells prediction backends to interpret the instance as
// a chat-completions style conversation.
const requestFormatMarker = "chatCompletions"

// PredictInstance is one instance of the prediction envelope. Optional
// fields are omitted entirely when absent from the source request; the
// envelope never carries nulls.
type PredictInstance struct {
	RequestFormat string         `json:"@requestFormat"`
	Messages      []core.Message `json:"messages"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
}

// PredictEnvelope is the outbound body for prediction-style targets.
type PredictEnvelope struct {
	Instances []PredictInstance `json:"instances"`
}

// ApplyDefaultModel injects the configured default model when the request
// does not name one. This is the single permitted mutation of the request.
func ApplyDefaultModel(req *core.ChatRequest, defaultModel string) {
	if req.Model == "" {
		req.Model = defaultModel
	}
}

// Request renders the outbound body for the target style. Chat-completion
// style targets receive the canonical request as-is; prediction targets
// receive a single-instance envelope.
func Request(req *core.ChatRequest, style upstream.Style) ([]byte, error) {
	if style == upstream.StylePredict {
		envelope := PredictEnvelope{
			Instances: []PredictInstance{{
				RequestFormat: requestFormatMarker,
				Messages:      req.Messages,
				MaxTokens:     req.MaxTokens,
				Temperature:   req.Temperature,
			}},
		}
		return json.Marshal(envelope)
	}
	return json.Marshal(req)
}
