package stream

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gopilot/internal/core"
)

func completionWith(content, finishReason string) *core.ChatCompletion {
	return &core.ChatCompletion{
		ID:     "pred-1",
		Object: "chat.completion",
		Model:  "demo-model",
		Choices: []core.Choice{{
			Index:        0,
			Message:      core.Message{Role: "assistant", Content: content},
			FinishReason: finishReason,
		}},
	}
}

// decodeFrame unmarshals one "data: {...}\n\n" frame into a chunk.
func decodeFrame(t *testing.T, frame string) core.ChatCompletionChunk {
	t.Helper()
	payload := strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")
	var chunk core.ChatCompletionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		t.Fatalf("frame is not a valid chunk: %v\nframe: %q", err, frame)
	}
	return chunk
}

func TestChunkSize(t *testing.T) {
	tests := []struct {
		contentLen int
		want       int
	}{
		{0, 20},
		{1, 20},
		{11, 20},
		{399, 20},
		{400, 20},
		{401, 20},
		{1000, 50},
		{2000, 100},
	}

	for _, tt := range tests {
		if got := chunkSize(tt.contentLen); got != tt.want {
			t.Errorf("chunkSize(%d) = %d, want %d", tt.contentLen, got, tt.want)
		}
	}
}

func TestFramesShortContent(t *testing.T) {
	// 11 chars < 20, so exactly one content slice.
	e := NewEmulator(completionWith("hello world", "stop"))
	frames := e.Frames()

	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4 (role, content, terminal, DONE)", len(frames))
	}

	role := decodeFrame(t, frames[0])
	if role.Choices[0].Delta.Role != "assistant" {
		t.Errorf("first chunk delta = %+v, want role assistant", role.Choices[0].Delta)
	}
	if role.Choices[0].FinishReason != nil {
		t.Errorf("role chunk finish_reason must be null")
	}
	if role.Object != "chat.completion.chunk" {
		t.Errorf("object = %q", role.Object)
	}

	content := decodeFrame(t, frames[1])
	if content.Choices[0].Delta.Content != "hello world" {
		t.Errorf("content delta = %q", content.Choices[0].Delta.Content)
	}

	terminal := decodeFrame(t, frames[2])
	if terminal.Choices[0].FinishReason == nil || *terminal.Choices[0].FinishReason != "stop" {
		t.Errorf("terminal finish_reason = %v, want stop", terminal.Choices[0].FinishReason)
	}

	if frames[3] != "data: [DONE]\n\n" {
		t.Errorf("last frame = %q, want the DONE sentinel", frames[3])
	}
}

func TestFramesConcatenationPreservesContent(t *testing.T) {
	contents := []string{
		"",
		"x",
		strings.Repeat("a", 19),
		strings.Repeat("b", 20),
		strings.Repeat("c", 21),
		strings.Repeat("d", 400),
		strings.Repeat("e", 1001),
		// Multibyte characters must never be split across chunks.
		strings.Repeat("a", 19) + "é",
		strings.Repeat("é", 21),
		strings.Repeat("日本語テキスト", 80),
		"mixed ascii and 中文 with emoji 🚀 " + strings.Repeat("ü", 50),
	}

	for _, content := range contents {
		e := NewEmulator(completionWith(content, "stop"))
		frames := e.Frames()

		// Count content chunks and rebuild the content.
		var rebuilt strings.Builder
		contentChunks := 0
		for _, frame := range frames[1 : len(frames)-2] {
			chunk := decodeFrame(t, frame)
			delta := chunk.Choices[0].Delta.Content
			if strings.ContainsRune(delta, '�') {
				t.Errorf("len %d: delta contains a replacement character: %q", len(content), delta)
			}
			rebuilt.WriteString(delta)
			contentChunks++
		}

		if rebuilt.String() != content {
			t.Errorf("len %d: concatenated deltas do not equal the source content", len(content))
		}

		runeCount := len([]rune(content))
		size := chunkSize(runeCount)
		wantChunks := (runeCount + size - 1) / size
		if contentChunks != wantChunks {
			t.Errorf("len %d: content chunks = %d, want ceil(%d/%d) = %d",
				len(content), contentChunks, runeCount, size, wantChunks)
		}

		if frames[len(frames)-1] != "data: [DONE]\n\n" {
			t.Errorf("len %d: sequence must end with DONE", len(content))
		}
	}
}

func TestFramesEmptyContentStillTerminates(t *testing.T) {
	e := NewEmulator(completionWith("", ""))
	frames := e.Frames()

	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3 (role, terminal, DONE)", len(frames))
	}

	terminal := decodeFrame(t, frames[1])
	if terminal.Choices[0].FinishReason == nil || *terminal.Choices[0].FinishReason != "stop" {
		t.Errorf("absent finish_reason must default to stop, got %v", terminal.Choices[0].FinishReason)
	}
}

func TestFramesGeneratesIDWhenAbsent(t *testing.T) {
	completion := completionWith("hi", "stop")
	completion.ID = ""

	e := NewEmulator(completion)
	chunk := decodeFrame(t, e.Frames()[0])
	if !strings.HasPrefix(chunk.ID, "chatcmpl-") {
		t.Errorf("chunk id = %q, want generated chatcmpl- prefix", chunk.ID)
	}
}

func TestStreamWritesAllFrames(t *testing.T) {
	e := NewEmulator(completionWith("hello world", "stop"))

	var sb strings.Builder
	if err := e.Stream(context.Background(), &sb); err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	out := sb.String()
	if !strings.Contains(out, `"role":"assistant"`) {
		t.Error("output missing role chunk")
	}
	if !strings.Contains(out, "hello world") {
		t.Error("output missing content")
	}
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Error("output must end with DONE")
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEmulator(completionWith("hello world", "stop"))
	var sb strings.Builder
	if err := e.Stream(ctx, &sb); err == nil {
		t.Fatal("expected context error")
	}
	if sb.Len() != 0 {
		t.Errorf("no frames should be written after cancellation, got %q", sb.String())
	}
}
