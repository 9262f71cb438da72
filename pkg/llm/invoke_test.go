package llm

import (
	"context"
	"testing"

	pkgerrors "github.com/tombee/murmur/pkg/errors"
)

// fakeProvider is a scriptable provider for invoker tests.
type fakeProvider struct {
	name      string
	calls     int
	complete  func(call int, req CompletionRequest) (*CompletionResponse, error)
	streamFn  func(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
	lastTools []Tool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Tools: true}
}

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	f.calls++
	f.lastTools = req.Tools
	return f.complete(f.calls, req)
}

func (f *fakeProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	f.calls++
	f.lastTools = req.Tools
	return f.streamFn(ctx, req)
}

func newTestInvoker(t *testing.T, provider *fakeProvider) *Invoker {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(provider); err != nil {
		t.Fatal(err)
	}
	if err := registry.SetDefault(provider.name); err != nil {
		t.Fatal(err)
	}
	return NewInvoker(InvokerOptions{Registry: registry})
}

func TestInvoker_TextCompletion(t *testing.T) {
	fastSleep(t)
	provider := &fakeProvider{
		name: "fake",
		complete: func(call int, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Content: "  hello  "}, nil
		},
	}
	inv := newTestInvoker(t, provider)

	text, err := inv.TextCompletion(context.Background(), "s1", "fake", CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want hello", text)
	}
}

func TestInvoker_EmptyResponseRetried(t *testing.T) {
	fastSleep(t)
	provider := &fakeProvider{
		name: "fake",
		complete: func(call int, req CompletionRequest) (*CompletionResponse, error) {
			if call == 1 {
				return &CompletionResponse{}, nil
			}
			return &CompletionResponse{Content: "second try"}, nil
		},
	}
	inv := newTestInvoker(t, provider)

	text, err := inv.TextCompletion(context.Background(), "s1", "fake", CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if text != "second try" {
		t.Errorf("text = %q", text)
	}
	if provider.calls != 2 {
		t.Errorf("calls = %d, want 2", provider.calls)
	}
}

func TestInvoker_CallWithToolsEncodesAndDecodes(t *testing.T) {
	fastSleep(t)
	provider := &fakeProvider{
		name: "fake",
		complete: func(call int, req CompletionRequest) (*CompletionResponse, error) {
			// Echo back a call to the first tool by its wire name.
			return &CompletionResponse{
				ToolCalls: []ToolCall{
					{ID: "c1", Name: req.Tools[0].Name, Arguments: `{"path":"/tmp"}`},
				},
			}, nil
		},
	}
	inv := newTestInvoker(t, provider)

	parsed, err := inv.CallWithTools(context.Background(), "s1", "fake", CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "list files"}},
		Tools:    []Tool{{Name: "filesystem:list_dir", Description: "List a directory"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	// The provider must never see a ':' in a tool name.
	if provider.lastTools[0].Name != "filesystem__colon__list_dir" {
		t.Errorf("wire name = %q", provider.lastTools[0].Name)
	}
	if parsed.Kind != KindToolCalls {
		t.Fatalf("kind = %s", parsed.Kind)
	}
	if parsed.ToolCalls[0].Name != "filesystem:list_dir" {
		t.Errorf("decoded name = %q", parsed.ToolCalls[0].Name)
	}
}

func TestInvoker_CallWithStreamingAssemblesResponse(t *testing.T) {
	fastSleep(t)
	provider := &fakeProvider{
		name: "fake",
		streamFn: func(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
			chunks := make(chan StreamChunk, 8)
			go func() {
				defer close(chunks)
				chunks <- StreamChunk{Delta: StreamDelta{Content: "Hello "}}
				chunks <- StreamChunk{Delta: StreamDelta{Content: "world"}}
				chunks <- StreamChunk{Delta: StreamDelta{ToolCallDelta: &ToolCallDelta{Index: 0, ID: "c1", Name: "get_time"}}}
				chunks <- StreamChunk{Delta: StreamDelta{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsDelta: `{"layout":`}}}
				chunks <- StreamChunk{Delta: StreamDelta{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsDelta: `"rfc3339"}`}}}
				chunks <- StreamChunk{FinishReason: FinishReasonToolCalls, Usage: &TokenUsage{InputTokens: 5, OutputTokens: 7, TotalTokens: 12}}
			}()
			return chunks, nil
		},
	}
	inv := newTestInvoker(t, provider)

	var deltas []string
	var lastAccumulated string
	parsed, err := inv.CallWithStreaming(context.Background(), "s1", "fake", CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "hi"}},
	}, func(chunk, accumulated string) {
		deltas = append(deltas, chunk)
		lastAccumulated = accumulated
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(deltas) != 2 || lastAccumulated != "Hello world" {
		t.Errorf("deltas = %v, accumulated = %q", deltas, lastAccumulated)
	}
	if parsed.Kind != KindToolCalls {
		t.Fatalf("kind = %s", parsed.Kind)
	}
	if len(parsed.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(parsed.ToolCalls))
	}
	tc := parsed.ToolCalls[0]
	if tc.Name != "get_time" || tc.Arguments != `{"layout":"rfc3339"}` {
		t.Errorf("assembled call = %+v", tc)
	}
}

func TestInvoker_StreamingStopAbortsMidStream(t *testing.T) {
	fastSleep(t)

	released := make(chan struct{})
	provider := &fakeProvider{
		name: "fake",
		streamFn: func(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
			chunks := make(chan StreamChunk)
			go func() {
				defer close(chunks)
				chunks <- StreamChunk{Delta: StreamDelta{Content: "first"}}
				// The consumer trips the stop after the first chunk; the
				// stream context must be cancelled, not merely unread.
				select {
				case <-ctx.Done():
				case <-released:
				}
			}()
			return chunks, nil
		},
	}
	inv := newTestInvoker(t, provider)
	defer close(released)

	_, err := inv.CallWithStreaming(context.Background(), "s1", "fake", CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "hi"}},
	}, func(chunk, accumulated string) {
		inv.Sessions().StopSession("s1")
	})
	var ce *pkgerrors.CancelledError
	if !pkgerrors.As(err, &ce) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
}

func TestInvoker_VerifyCompletion(t *testing.T) {
	fastSleep(t)

	tests := []struct {
		answer string
		want   bool
	}{
		{"Yes, the task is complete.", true},
		{"yes", true},
		{"No, more work is needed.", false},
		{"The task is complete.", false},
	}
	for _, tt := range tests {
		provider := &fakeProvider{
			name: "fake",
			complete: func(call int, req CompletionRequest) (*CompletionResponse, error) {
				return &CompletionResponse{Content: tt.answer}, nil
			},
		}
		inv := newTestInvoker(t, provider)
		got, err := inv.VerifyCompletion(context.Background(), "s1", "fake", CompletionRequest{
			Messages: []Message{{Role: MessageRoleUser, Content: "done?"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("VerifyCompletion(%q) = %v, want %v", tt.answer, got, tt.want)
		}
	}
}

func TestInvoker_SummarizeUsesDefaultProvider(t *testing.T) {
	fastSleep(t)
	provider := &fakeProvider{
		name: "fake",
		complete: func(call int, req CompletionRequest) (*CompletionResponse, error) {
			if req.Model != string(ModelTierFast) {
				t.Errorf("model = %q, want fast tier", req.Model)
			}
			return &CompletionResponse{Content: "a summary"}, nil
		},
	}
	inv := newTestInvoker(t, provider)

	got, err := inv.Summarize(context.Background(), "summarize this")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a summary" {
		t.Errorf("summary = %q", got)
	}
}
