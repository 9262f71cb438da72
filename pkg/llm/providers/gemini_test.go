package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/tombee/murmur/pkg/errors"
	"github.com/tombee/murmur/pkg/llm"
)

func TestGeminiProvider_Complete(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{
			"candidates": [{
				"content": {
					"role": "model",
					"parts": [
						{"text": "Checking the file."},
						{"functionCall": {"name": "fs__colon__read", "args": {"path": "/tmp/a"}}}
					]
				},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 4, "totalTokenCount": 13}
		}`))
	}))
	defer srv.Close()

	provider, err := NewGeminiProvider("key-123", srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Model: "fast",
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: "be brief"},
			{Role: llm.MessageRoleUser, Content: "read the file"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasSuffix(gotPath, "/models/gemini-2.0-flash:generateContent") {
		t.Errorf("path = %s", gotPath)
	}
	if gotKey != "key-123" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("system instruction = %+v", gotBody.SystemInstruction)
	}

	// Tool calls force the tool_calls finish reason regardless of STOP.
	if resp.FinishReason != llm.FinishReasonToolCalls {
		t.Errorf("finish reason = %s", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "fs__colon__read" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].ID == "" {
		t.Error("tool call id should be synthesized")
	}
	if resp.Content != "Checking the file." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestGeminiProvider_ErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	provider, err := NewGeminiProvider("key-123", srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	_, err = provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})
	var pe *pkgerrors.ProviderError
	if !pkgerrors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.Retryable || !pe.IsRateLimit() {
		t.Errorf("429 should be retryable rate limit: %+v", pe)
	}
	if pe.Message != "quota exceeded" {
		t.Errorf("message = %q", pe.Message)
	}
}

func TestGeminiProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.String(), "streamGenerateContent") {
			t.Errorf("url = %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}` + "\n\n"))
		w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":1,"totalTokenCount":3}}` + "\n\n"))
	}))
	defer srv.Close()

	provider, err := NewGeminiProvider("key-123", srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := provider.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var text string
	var usage *llm.TokenUsage
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatal(chunk.Error)
		}
		text += chunk.Delta.Content
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if text != "Hello" {
		t.Errorf("text = %q", text)
	}
	if usage == nil || usage.TotalTokens != 3 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestGeminiProvider_ToolResultMapping(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"done"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	provider, err := NewGeminiProvider("key-123", srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	_, err = provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.MessageRoleUser, Content: "read it"},
			{Role: llm.MessageRoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "fs_read", Arguments: `{"path":"/a"}`}}},
			{Role: llm.MessageRoleTool, ToolCallID: "c1", Name: "fs_read", Content: "file contents"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(gotBody.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(gotBody.Contents))
	}
	assistant := gotBody.Contents[1]
	if assistant.Role != "model" || assistant.Parts[0].FunctionCall == nil {
		t.Errorf("assistant turn = %+v", assistant)
	}
	toolTurn := gotBody.Contents[2]
	if toolTurn.Parts[0].FunctionResponse == nil || toolTurn.Parts[0].FunctionResponse.Name != "fs_read" {
		t.Errorf("tool turn = %+v", toolTurn)
	}
}
