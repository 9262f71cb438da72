// Package providers contains concrete implementations of LLM providers.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/murmur/pkg/errors"
	"github.com/tombee/murmur/pkg/httpclient"
	"github.com/tombee/murmur/pkg/llm"
)

const (
	// openAIAPIBaseURL is the default base URL for the OpenAI API.
	// OpenAI-compatible gateways override this via credentials.
	openAIAPIBaseURL = "https://api.openai.com/v1"
)

// OpenAIProvider implements the Provider interface for the OpenAI Chat
// Completions API and OpenAI-compatible endpoints.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	lastUsage  *llm.TokenUsage
	usageMu    sync.RWMutex
}

// NewOpenAIProvider creates a new OpenAI provider instance.
// The apiKey should be retrieved from secure storage; baseURL may be empty
// to use the official endpoint.
func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Key:    "openai.api_key",
			Reason: "API key is required for OpenAI provider",
		}
	}
	if baseURL == "" {
		baseURL = openAIAPIBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 300 * time.Second // model turns can run long
	cfg.UserAgent = "murmur-openai/1.0"

	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// NewOpenAIWithCredentials is the factory adapter for registry activation.
func NewOpenAIWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	apiCreds, ok := creds.(llm.APIKeyCredentials)
	if !ok {
		return nil, &errors.ConfigError{
			Key:    "openai.credentials",
			Reason: fmt.Sprintf("OpenAI provider requires API key credentials, got %s", creds.ProviderType()),
		}
	}
	if err := apiCreds.Validate(); err != nil {
		return nil, err
	}
	return NewOpenAIProvider(apiCreds.APIKey, apiCreds.BaseURL)
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Capabilities returns the features supported by this provider.
func (p *OpenAIProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming: true,
		Tools:     true,
		Models:    openAIModels,
	}
}

// Complete sends a synchronous completion request to the Chat Completions API.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	apiReq, err := p.buildAPIRequest(req, false)
	if err != nil {
		return nil, err
	}

	respBody, _, err := p.doRequest(ctx, apiReq, requestID)
	if err != nil {
		return nil, err
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   fmt.Sprintf("failed to parse response: %v", err),
			RequestID: requestID,
		}
	}

	return p.parseResponse(&apiResp, requestID)
}

// Stream sends a streaming completion request and emits chunks as SSE
// events arrive. The stream goroutine checks the context after every
// event so cancellation aborts the underlying connection promptly.
func (p *OpenAIProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	requestID := uuid.New().String()

	apiReq, err := p.buildAPIRequest(req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.startRequest(ctx, apiReq, requestID)
	if err != nil {
		return nil, err
	}

	chunks := make(chan llm.StreamChunk, 10)
	go p.processStream(ctx, resp, chunks, requestID)
	return chunks, nil
}

// buildAPIRequest converts a CompletionRequest to the OpenAI wire format.
func (p *OpenAIProvider) buildAPIRequest(req llm.CompletionRequest, stream bool) (*openAIRequest, error) {
	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	apiMessages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		apiMsg := openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		switch msg.Role {
		case llm.MessageRoleAssistant:
			for _, tc := range msg.ToolCalls {
				apiMsg.ToolCalls = append(apiMsg.ToolCalls, openAIToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openAIFunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		case llm.MessageRoleTool:
			apiMsg.ToolCallID = msg.ToolCallID
		}
		apiMessages = append(apiMessages, apiMsg)
	}

	var tools []openAITool
	for _, tool := range req.Tools {
		tools = append(tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	apiReq := &openAIRequest{
		Model:       p.resolveModel(req.Model),
		Messages:    apiMessages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
		Stop:        req.StopSequences,
		Stream:      stream,
	}
	return apiReq, nil
}

// startRequest sends the HTTP request and returns the raw response after
// error classification. The caller owns resp.Body on success.
func (p *OpenAIProvider) startRequest(ctx context.Context, apiReq *openAIRequest, requestID string) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   fmt.Sprintf("failed to create request: %v", err),
			RequestID: requestID,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &errors.CancelledError{Operation: "openai request", Cause: ctx.Err()}
		}
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     err,
			RequestID: requestID,
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.classifyHTTPError(resp.StatusCode, respBody, requestID)
	}
	return resp, nil
}

// doRequest performs a non-streaming call and returns the response body.
func (p *OpenAIProvider) doRequest(ctx context.Context, apiReq *openAIRequest, requestID string) ([]byte, int, error) {
	resp, err := p.startRequest(ctx, apiReq, requestID)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			Retryable:  true,
			RequestID:  requestID,
		}
	}
	return respBody, resp.StatusCode, nil
}

// classifyHTTPError maps a non-200 response to a ProviderError with the
// Retryable flag set from the status code: 429, 408, and 5xx retry,
// other 4xx do not.
func (p *OpenAIProvider) classifyHTTPError(statusCode int, respBody []byte, requestID string) error {
	message := fmt.Sprintf("API request failed with status %d", statusCode)
	var errResp openAIErrorResponse
	if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &errors.ProviderError{
		Provider:   "openai",
		StatusCode: statusCode,
		Message:    message,
		Suggestion: suggestionForStatus(statusCode),
		Retryable:  retryableStatus(statusCode),
		RequestID:  requestID,
	}
}

// parseResponse converts an openAIResponse to a CompletionResponse.
func (p *OpenAIProvider) parseResponse(resp *openAIResponse, requestID string) (*llm.CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, &errors.ProviderError{
			Provider:  "openai",
			Message:   "empty response: no choices returned",
			Retryable: true,
			RequestID: requestID,
		}
	}

	choice := resp.Choices[0]
	var toolCalls []llm.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	usage := llm.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	p.setLastUsage(usage)

	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage:        usage,
		Model:        resp.Model,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}

// processStream reads the SSE stream and sends chunks to the channel.
func (p *OpenAIProvider) processStream(ctx context.Context, resp *http.Response, chunks chan<- llm.StreamChunk, requestID string) {
	defer close(chunks)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var totalUsage *llm.TokenUsage

	for {
		select {
		case <-ctx.Done():
			chunks <- llm.StreamChunk{
				RequestID:    requestID,
				Error:        &errors.CancelledError{Operation: "openai stream", Cause: ctx.Err()},
				FinishReason: llm.FinishReasonError,
			}
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if totalUsage != nil {
					p.setLastUsage(*totalUsage)
				}
				return
			}
			chunks <- llm.StreamChunk{
				RequestID:    requestID,
				Error:        fmt.Errorf("stream read error: %w", err),
				FinishReason: llm.FinishReasonError,
			}
			return
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			if totalUsage != nil {
				p.setLastUsage(*totalUsage)
			}
			return
		}

		var event openAIStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events
		}

		if event.Usage != nil {
			totalUsage = &llm.TokenUsage{
				InputTokens:  event.Usage.PromptTokens,
				OutputTokens: event.Usage.CompletionTokens,
				TotalTokens:  event.Usage.TotalTokens,
			}
			chunks <- llm.StreamChunk{RequestID: requestID, Usage: totalUsage}
		}
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- llm.StreamChunk{
				RequestID: requestID,
				Delta:     llm.StreamDelta{Content: choice.Delta.Content},
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			chunks <- llm.StreamChunk{
				RequestID: requestID,
				Delta: llm.StreamDelta{
					ToolCallDelta: &llm.ToolCallDelta{
						Index:          tc.Index,
						ID:             tc.ID,
						Name:           tc.Function.Name,
						ArgumentsDelta: tc.Function.Arguments,
					},
				},
			}
		}
		if choice.FinishReason != "" {
			chunks <- llm.StreamChunk{
				RequestID:    requestID,
				FinishReason: mapOpenAIFinishReason(choice.FinishReason),
			}
		}
	}
}

// GetLastUsage returns the token usage from the most recent request.
// Implements the UsageTrackable interface.
func (p *OpenAIProvider) GetLastUsage() *llm.TokenUsage {
	p.usageMu.RLock()
	defer p.usageMu.RUnlock()

	if p.lastUsage == nil {
		return nil
	}
	usage := *p.lastUsage
	return &usage
}

func (p *OpenAIProvider) setLastUsage(usage llm.TokenUsage) {
	p.usageMu.Lock()
	defer p.usageMu.Unlock()
	p.lastUsage = &usage
}

// resolveModel converts a tier or model ID to an OpenAI model ID.
func (p *OpenAIProvider) resolveModel(modelOrTier string) string {
	switch llm.ModelTier(modelOrTier) {
	case llm.ModelTierFast:
		return "gpt-4o-mini"
	case llm.ModelTierBalanced:
		return "gpt-4o"
	case llm.ModelTierStrategic:
		return "o1"
	}
	return modelOrTier
}

// mapOpenAIFinishReason converts OpenAI finish_reason values.
func mapOpenAIFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "tool_calls", "function_call":
		return llm.FinishReasonToolCalls
	case "content_filter":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

// retryableStatus reports whether an HTTP status should be retried:
// rate limits, request timeouts, and server errors.
func retryableStatus(statusCode int) bool {
	if statusCode >= 500 {
		return true
	}
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return false
}

// suggestionForStatus returns actionable guidance for an HTTP error.
func suggestionForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that your API key is valid and correctly configured"
	case http.StatusForbidden:
		return "Your API key may not have access to this model or feature"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. The request will be retried with backoff"
	case http.StatusBadRequest:
		return "Review the request format and parameters"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "The provider API is experiencing issues. Retry after a short delay"
	default:
		return "Check the provider API documentation for more details"
	}
}

// openAIModels contains metadata for supported OpenAI models.
var openAIModels = []llm.ModelInfo{
	{
		ID:              "gpt-4o-mini",
		Name:            "GPT-4o mini",
		Tier:            llm.ModelTierFast,
		MaxTokens:       128000,
		MaxOutputTokens: 16384,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "Fast and cost-effective for simple tasks and high-volume requests.",
	},
	{
		ID:              "gpt-4o",
		Name:            "GPT-4o",
		Tier:            llm.ModelTierBalanced,
		MaxTokens:       128000,
		MaxOutputTokens: 16384,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "Balanced capability and cost for most general-purpose tasks.",
	},
	{
		ID:              "o1",
		Name:            "o1",
		Tier:            llm.ModelTierStrategic,
		MaxTokens:       200000,
		MaxOutputTokens: 100000,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "Maximum capability for complex reasoning and expert tasks.",
	},
}

// openAIRequest represents the request body for the Chat Completions API.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// openAIMessage represents a message in the OpenAI API format.
type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// openAITool represents a tool definition in OpenAI's API format.
type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// openAIResponse represents the response from the Chat Completions API.
type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// openAIErrorResponse represents an error response from the API.
type openAIErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// openAIStreamEvent represents an SSE chunk from the streaming API.
type openAIStreamEvent struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
}

type openAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason"`
}

type openAIStreamDelta struct {
	Content   string                `json:"content"`
	ToolCalls []openAIToolCallChunk `json:"tool_calls,omitempty"`
}

type openAIToolCallChunk struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}
