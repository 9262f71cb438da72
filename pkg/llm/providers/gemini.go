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
	// geminiAPIBaseURL is the base URL for the Gemini API.
	geminiAPIBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// GeminiProvider implements the Provider interface for Google's Gemini
// models via the generateContent API.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	lastUsage  *llm.TokenUsage
	usageMu    sync.RWMutex
}

// NewGeminiProvider creates a new Gemini provider instance.
func NewGeminiProvider(apiKey, baseURL string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Key:    "gemini.api_key",
			Reason: "API key is required for Gemini provider",
		}
	}
	if baseURL == "" {
		baseURL = geminiAPIBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 300 * time.Second
	cfg.UserAgent = "murmur-gemini/1.0"

	httpClient, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &GeminiProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// NewGeminiWithCredentials is the factory adapter for registry activation.
func NewGeminiWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	apiCreds, ok := creds.(llm.APIKeyCredentials)
	if !ok {
		return nil, &errors.ConfigError{
			Key:    "gemini.credentials",
			Reason: fmt.Sprintf("Gemini provider requires API key credentials, got %s", creds.ProviderType()),
		}
	}
	if err := apiCreds.Validate(); err != nil {
		return nil, err
	}
	return NewGeminiProvider(apiCreds.APIKey, apiCreds.BaseURL)
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Capabilities returns the features supported by this provider.
func (p *GeminiProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming: true,
		Tools:     true,
		Models:    geminiModels,
	}
}

// Complete sends a synchronous completion request to the generateContent API.
func (p *GeminiProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	model := p.resolveModel(req.Model)
	apiReq, err := p.buildAPIRequest(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	resp, err := p.startRequest(ctx, url, apiReq, requestID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			Retryable:  true,
			RequestID:  requestID,
		}
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider:  "gemini",
			Message:   fmt.Sprintf("failed to parse response: %v", err),
			RequestID: requestID,
		}
	}

	return p.parseResponse(&apiResp, model, requestID)
}

// Stream sends a streaming request via streamGenerateContent with SSE
// framing. Context state is checked after every event.
func (p *GeminiProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	requestID := uuid.New().String()

	model := p.resolveModel(req.Model)
	apiReq, err := p.buildAPIRequest(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
	resp, err := p.startRequest(ctx, url, apiReq, requestID)
	if err != nil {
		return nil, err
	}

	chunks := make(chan llm.StreamChunk, 10)
	go p.processStream(ctx, resp, chunks, requestID)
	return chunks, nil
}

// buildAPIRequest converts a CompletionRequest to the Gemini wire format.
// System messages map to systemInstruction; tool results map to
// functionResponse parts.
func (p *GeminiProvider) buildAPIRequest(req llm.CompletionRequest) (*geminiRequest, error) {
	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}

	apiReq := &geminiRequest{}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.MessageRoleSystem:
			if apiReq.SystemInstruction == nil {
				apiReq.SystemInstruction = &geminiContent{}
			}
			apiReq.SystemInstruction.Parts = append(apiReq.SystemInstruction.Parts, geminiPart{Text: msg.Content})

		case llm.MessageRoleUser:
			apiReq.Contents = append(apiReq.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})

		case llm.MessageRoleAssistant:
			content := geminiContent{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]interface{}{}
				}
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				apiReq.Contents = append(apiReq.Contents, content)
			}

		case llm.MessageRoleTool:
			apiReq.Contents = append(apiReq.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name: msg.Name,
						Response: map[string]interface{}{
							"result": msg.Content,
						},
					},
				}},
			})
		}
	}

	if len(req.Tools) > 0 {
		var decls []geminiFunctionDecl
		for _, tool := range req.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			})
		}
		apiReq.Tools = []geminiToolDecl{{FunctionDeclarations: decls}}
	}

	if req.Temperature != nil || req.MaxTokens != nil || len(req.StopSequences) > 0 {
		apiReq.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.StopSequences,
		}
	}
	return apiReq, nil
}

// startRequest sends the HTTP request and classifies non-200 responses.
// The caller owns resp.Body on success.
func (p *GeminiProvider) startRequest(ctx context.Context, url string, apiReq *geminiRequest, requestID string) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "gemini",
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  "gemini",
			Message:   fmt.Sprintf("failed to create request: %v", err),
			RequestID: requestID,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &errors.CancelledError{Operation: "gemini request", Cause: ctx.Err()}
		}
		return nil, &errors.ProviderError{
			Provider:  "gemini",
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     err,
			RequestID: requestID,
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)

		message := fmt.Sprintf("API request failed with status %d", resp.StatusCode)
		var errResp geminiErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, &errors.ProviderError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode,
			Message:    message,
			Suggestion: suggestionForStatus(resp.StatusCode),
			Retryable:  retryableStatus(resp.StatusCode),
			RequestID:  requestID,
		}
	}
	return resp, nil
}

// parseResponse converts a geminiResponse to a CompletionResponse.
func (p *GeminiProvider) parseResponse(resp *geminiResponse, model, requestID string) (*llm.CompletionResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, &errors.ProviderError{
			Provider:  "gemini",
			Message:   "empty response: no candidates returned",
			Retryable: true,
			RequestID: requestID,
		}
	}

	candidate := resp.Candidates[0]
	var textContent strings.Builder
	var toolCalls []llm.ToolCall

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			if textContent.Len() > 0 {
				textContent.WriteString("\n")
			}
			textContent.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			argsJSON, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				argsJSON = []byte("{}")
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				// Gemini has no call ids; synthesize one for correlation.
				ID:        uuid.New().String(),
				Name:      part.FunctionCall.Name,
				Arguments: string(argsJSON),
			})
		}
	}

	finishReason := mapGeminiFinishReason(candidate.FinishReason)
	if len(toolCalls) > 0 {
		finishReason = llm.FinishReasonToolCalls
	}

	var usage llm.TokenUsage
	if resp.UsageMetadata != nil {
		usage = llm.TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
		p.setLastUsage(usage)
	}

	return &llm.CompletionResponse{
		Content:      textContent.String(),
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage:        usage,
		Model:        model,
		RequestID:    requestID,
		Created:      time.Now(),
	}, nil
}

// processStream reads the SSE stream and sends chunks to the channel.
func (p *GeminiProvider) processStream(ctx context.Context, resp *http.Response, chunks chan<- llm.StreamChunk, requestID string) {
	defer close(chunks)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var totalUsage *llm.TokenUsage
	toolCallIndex := 0

	for {
		select {
		case <-ctx.Done():
			chunks <- llm.StreamChunk{
				RequestID:    requestID,
				Error:        &errors.CancelledError{Operation: "gemini stream", Cause: ctx.Err()},
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

		var event geminiResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		if event.UsageMetadata != nil {
			totalUsage = &llm.TokenUsage{
				InputTokens:  event.UsageMetadata.PromptTokenCount,
				OutputTokens: event.UsageMetadata.CandidatesTokenCount,
				TotalTokens:  event.UsageMetadata.TotalTokenCount,
			}
		}
		if len(event.Candidates) == 0 {
			continue
		}

		candidate := event.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				chunks <- llm.StreamChunk{
					RequestID: requestID,
					Delta:     llm.StreamDelta{Content: part.Text},
				}
			}
			if part.FunctionCall != nil {
				argsJSON, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					argsJSON = []byte("{}")
				}
				chunks <- llm.StreamChunk{
					RequestID: requestID,
					Delta: llm.StreamDelta{
						ToolCallDelta: &llm.ToolCallDelta{
							Index:          toolCallIndex,
							ID:             uuid.New().String(),
							Name:           part.FunctionCall.Name,
							ArgumentsDelta: string(argsJSON),
						},
					},
				}
				toolCallIndex++
			}
		}
		if candidate.FinishReason != "" {
			chunks <- llm.StreamChunk{
				RequestID:    requestID,
				FinishReason: mapGeminiFinishReason(candidate.FinishReason),
				Usage:        totalUsage,
			}
		}
	}
}

// GetLastUsage returns the token usage from the most recent request.
// Implements the UsageTrackable interface.
func (p *GeminiProvider) GetLastUsage() *llm.TokenUsage {
	p.usageMu.RLock()
	defer p.usageMu.RUnlock()

	if p.lastUsage == nil {
		return nil
	}
	usage := *p.lastUsage
	return &usage
}

func (p *GeminiProvider) setLastUsage(usage llm.TokenUsage) {
	p.usageMu.Lock()
	defer p.usageMu.Unlock()
	p.lastUsage = &usage
}

// resolveModel converts a tier or model ID to a Gemini model ID.
func (p *GeminiProvider) resolveModel(modelOrTier string) string {
	switch llm.ModelTier(modelOrTier) {
	case llm.ModelTierFast:
		return "gemini-2.0-flash"
	case llm.ModelTierBalanced:
		return "gemini-2.5-pro"
	case llm.ModelTierStrategic:
		return "gemini-2.5-pro"
	}
	return modelOrTier
}

// mapGeminiFinishReason converts Gemini finishReason values.
func mapGeminiFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "STOP":
		return llm.FinishReasonStop
	case "MAX_TOKENS":
		return llm.FinishReasonLength
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

// geminiModels contains metadata for supported Gemini models.
var geminiModels = []llm.ModelInfo{
	{
		ID:              "gemini-2.0-flash",
		Name:            "Gemini 2.0 Flash",
		Tier:            llm.ModelTierFast,
		MaxTokens:       1048576,
		MaxOutputTokens: 8192,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "Fast and cost-effective for simple tasks and high-volume requests.",
	},
	{
		ID:              "gemini-2.5-pro",
		Name:            "Gemini 2.5 Pro",
		Tier:            llm.ModelTierBalanced,
		MaxTokens:       1048576,
		MaxOutputTokens: 65536,
		SupportsTools:   true,
		SupportsVision:  true,
		Description:     "High capability for complex reasoning and long contexts.",
	},
}

// geminiRequest represents the request body for generateContent.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiToolDecl        `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type geminiToolDecl struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// geminiResponse represents the response from generateContent. Streaming
// events reuse the same shape.
type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// geminiErrorResponse represents an error response from the API.
type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
