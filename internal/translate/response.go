package translate

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"gopilot/internal/core"
)

// Prediction converts a prediction-style response body into the canonical
// chat-completion shape. The predictions field may be a single object or a
// non-empty array; an array is normalized to its first element. The
// translator only adds structure: absent id/created/usage stay absent, and
// an absent model falls back to the request's model.
func Prediction(body []byte, requestModel string) (*core.ChatCompletion, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewTranslationError("upstream response is not valid JSON", nil)
	}

	pred := gjson.GetBytes(body, "predictions")
	if pred.IsArray() {
		elems := pred.Array()
		if len(elems) == 0 {
			return nil, core.NewTranslationError("upstream response has empty predictions array", nil)
		}
		pred = elems[0]
	}
	if !pred.Exists() || !pred.IsObject() {
		return nil, core.NewTranslationError("upstream response is missing predictions", nil)
	}

	completion := &core.ChatCompletion{
		Object: "chat.completion",
		ID:     pred.Get("id").String(),
		Model:  pred.Get("model").String(),
	}
	if completion.Model == "" {
		completion.Model = requestModel
	}

	if created := pred.Get("created"); created.Exists() {
		v := created.Int()
		completion.Created = &v
	}

	if choices := pred.Get("choices"); choices.Exists() {
		if err := json.Unmarshal([]byte(choices.Raw), &completion.Choices); err != nil {
			return nil, core.NewTranslationError("upstream choices do not match the chat-completion shape: "+err.Error(), err)
		}
	}

	if usage := pred.Get("usage"); usage.IsObject() {
		var u core.Usage
		if err := json.Unmarshal([]byte(usage.Raw), &u); err != nil {
			return nil, core.NewTranslationError("upstream usage does not match the chat-completion shape: "+err.Error(), err)
		}
		completion.Usage = &u
	}

	return completion, nil
}
