package translator

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

func collectChunks(t *testing.T, st *Stream) []*ir.StreamChunk {
	t.Helper()
	var chunks []*ir.StreamChunk
	for {
		chunk, err := st.Next()
		if err == io.EOF {
			return chunks
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

func TestOpenStreamPullsOpenAIChunks(t *testing.T) {
	svc := New(nil)
	raw := strings.Join([]string{
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	st, err := svc.OpenStream(context.Background(), strings.NewReader(raw), FormatOpenAI)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = st.Close() }()

	chunks := collectChunks(t, st)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	var text strings.Builder
	for _, c := range chunks {
		for _, ch := range c.Choices {
			text.WriteString(ch.Delta.Content)
		}
	}
	if text.String() != "Hello" {
		t.Errorf("assembled text = %q", text.String())
	}
	last := chunks[len(chunks)-1]
	if last.Choices[0].FinishReason != ir.FinishReasonStop {
		t.Errorf("finish = %q", last.Choices[0].FinishReason)
	}
}

func TestOpenStreamAssemblesFragmentedToolCall(t *testing.T) {
	svc := New(nil)
	raw := strings.Join([]string{
		`data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Oslo\"}"}}]}}]}`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	st, err := svc.OpenStream(context.Background(), strings.NewReader(raw), FormatOpenAI)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = st.Close() }()

	var calls []ir.ToolCall
	for _, c := range collectChunks(t, st) {
		for _, ch := range c.Choices {
			calls = append(calls, ch.Delta.ToolCalls...)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want exactly 1", len(calls))
	}
	if calls[0].Name != "get_weather" {
		t.Errorf("name = %q", calls[0].Name)
	}
	if calls[0].Arguments != `{"city":"Oslo"}` {
		t.Errorf("arguments = %q", calls[0].Arguments)
	}
}

func TestOpenStreamSurvivesMalformedFrame(t *testing.T) {
	svc := New(nil)
	raw := strings.Join([]string{
		`data: {not json`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"ok"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	st, err := svc.OpenStream(context.Background(), strings.NewReader(raw), FormatOpenAI)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = st.Close() }()

	chunks := collectChunks(t, st)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Err == nil || chunks[0].Err.Kind != ir.ErrInvalidFormat {
		t.Errorf("first chunk should carry an in-band invalid_format error, got %+v", chunks[0].Err)
	}
	if chunks[1].Choices[0].Delta.Content != "ok" {
		t.Errorf("valid chunk lost after bad frame: %+v", chunks[1])
	}
}

func TestOpenStreamNDJSON(t *testing.T) {
	svc := New(nil)
	raw := `{"model":"llama3","created_at":"2026-01-02T10:00:00Z","message":{"role":"assistant","content":"Hi"},"done":false}
{"model":"llama3","created_at":"2026-01-02T10:00:01Z","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":2}
`
	st, err := svc.OpenStream(context.Background(), strings.NewReader(raw), FormatOllama)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = st.Close() }()

	chunks := collectChunks(t, st)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Content != "Hi" {
		t.Errorf("content = %q", chunks[0].Choices[0].Delta.Content)
	}
	last := chunks[1]
	if last.Choices[0].FinishReason != ir.FinishReasonStop {
		t.Errorf("finish = %q", last.Choices[0].FinishReason)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v, want total 12", last.Usage)
	}
}

func TestOpenStreamCancelUnblocksRead(t *testing.T) {
	svc := New(nil)
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	st, err := svc.OpenStream(ctx, pr, FormatOpenAI)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer func() { _ = st.Close() }()

	done := make(chan error, 1)
	go func() {
		_, err := st.Next()
		done <- err
	}()
	cancel()

	if err := <-done; err == nil || err == io.EOF {
		t.Fatalf("Next after cancel = %v, want transport error", err)
	}
}

func TestStreamNormalizerPush(t *testing.T) {
	svc := New(nil)
	n, err := svc.NewStreamNormalizer(FormatOpenAI)
	if err != nil {
		t.Fatalf("NewStreamNormalizer: %v", err)
	}

	chunks, err := n.Feed([]byte(`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"hey"}}]}`))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Choices[0].Delta.Content != "hey" {
		t.Fatalf("chunks = %+v", chunks)
	}

	// A [DONE] marker finishes the stream in place; later frames are ignored.
	if _, err := n.Feed([]byte("data: [DONE]")); err != nil {
		t.Fatalf("Feed done: %v", err)
	}
	chunks, err = n.Feed([]byte(`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"late"}}]}`))
	if err != nil || len(chunks) != 0 {
		t.Errorf("post-done Feed = %v chunks, err %v", len(chunks), err)
	}
	if got := n.Finish(); got != nil {
		t.Errorf("second Finish = %v, want nil", got)
	}
}

func TestStreamNormalizerFinishFlushesPartialCall(t *testing.T) {
	svc := New(nil)
	n, err := svc.NewStreamNormalizer(FormatClaude)
	if err != nil {
		t.Fatalf("NewStreamNormalizer: %v", err)
	}

	frames := []string{
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":\"go\"}"}}`,
	}
	for _, f := range frames {
		if _, err := n.Feed([]byte(f)); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}

	chunks := n.Finish()
	if len(chunks) != 1 {
		t.Fatalf("Finish chunks = %d, want 1", len(chunks))
	}
	calls := chunks[0].Choices[0].Delta.ToolCalls
	if len(calls) != 1 || calls[0].Name != "lookup" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Arguments != `{"q":"go"}` {
		t.Errorf("arguments = %q", calls[0].Arguments)
	}
}

func TestRelayOpenAIToClaude(t *testing.T) {
	svc := New(nil)
	raw := strings.Join([]string{
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	var out bytes.Buffer
	err := svc.Relay(context.Background(), strings.NewReader(raw), FormatOpenAI, FormatClaude, "claude-sonnet-4",
		func(frame []byte) error {
			out.Write(frame)
			return nil
		})
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}

	wire := out.String()
	for _, event := range []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"} {
		if !strings.Contains(wire, "event: "+event+"\n") {
			t.Errorf("relay output missing %s event", event)
		}
	}
	start := wire[strings.Index(wire, "data: "):]
	start = start[len("data: "):strings.Index(start, "\n")]
	if gjson.Get(start, "message.model").String() != "claude-sonnet-4" {
		t.Errorf("message_start model = %q", gjson.Get(start, "message.model").String())
	}
	if !strings.Contains(wire, `"text":"Hello"`) {
		t.Errorf("relay output missing text delta: %s", wire)
	}
}

func TestRelayWriteFailureStopsPump(t *testing.T) {
	svc := New(nil)
	raw := strings.Join([]string{
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"a"}}]}`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"b"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	wantErr := io.ErrShortWrite
	err := svc.Relay(context.Background(), strings.NewReader(raw), FormatOpenAI, FormatOpenAI, "gpt-4o",
		func([]byte) error { return wantErr })
	if err != wantErr {
		t.Fatalf("Relay = %v, want %v", err, wantErr)
	}
}

func TestOpenStreamEncodingGzip(t *testing.T) {
	svc := New(nil)
	raw := strings.Join([]string{
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
		``,
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write([]byte(raw)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	st, err := svc.OpenStreamEncoding(context.Background(), &compressed, FormatOpenAI, "gzip")
	if err != nil {
		t.Fatalf("OpenStreamEncoding: %v", err)
	}
	defer func() { _ = st.Close() }()

	chunks := collectChunks(t, st)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if got := chunks[0].Choices[0].Delta.Content; got != "Hello" {
		t.Errorf("content = %q", got)
	}
	if chunks[1].Choices[0].FinishReason != ir.FinishReasonStop {
		t.Errorf("finish = %q", chunks[1].Choices[0].FinishReason)
	}
}
