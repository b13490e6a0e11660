package core

// ChatRequest is the canonical inbound chat-completion payload.
//
// MaxTokens and Temperature are pointers so the request translator can tell
// "absent" apart from zero and omit the field from the outbound envelope
// instead of serializing null.
type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message is a single message in the chat.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletion is the canonical outbound chat-completion payload.
//
// Created and Usage are pointers: when the upstream omits them the
// translator passes absence through rather than fabricating values.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created *int64   `json:"created,omitempty"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage holds token accounting reported by the upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one SSE event of a streamed (or emulated) response.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice carries the incremental delta for one choice.
//
// FinishReason is a pointer so intermediate chunks serialize
// "finish_reason":null while the terminal chunk carries a string, matching
// the chat-completions streaming wire format.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental payload of a chunk: the first chunk carries only
// the role, subsequent chunks carry content, the terminal chunk is empty.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Model is a single entry in the models list.
type Model struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// ModelsResponse is the response shape of the /v1/models endpoint.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
