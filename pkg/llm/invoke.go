package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tombee/murmur/pkg/errors"
)

// StreamingHandler receives incremental text during a streaming call:
// the chunk just received and the running concatenation so far.
type StreamingHandler func(chunk, accumulated string)

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	// Registry supplies providers. Defaults to the global registry.
	Registry *Registry

	// Sessions tracks per-session and emergency cancellation.
	// Defaults to a fresh registry.
	Sessions *SessionRegistry

	// Retry overrides the default retry settings.
	Retry *RetryConfig

	// Notify receives retry-status updates for UI rendering.
	Notify RetryNotifier

	// RequestsPerSecond paces outbound calls per provider.
	// Zero disables pacing.
	RequestsPerSecond float64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Invoker is the high-level entry point for model calls. It wraps every
// call in retry, session cancellation, and per-provider rate pacing, and
// interprets responses through the ordered-fallback parser.
type Invoker struct {
	registry *Registry
	sessions *SessionRegistry
	retry    RetryConfig
	notify   RetryNotifier
	logger   *slog.Logger

	rps      float64
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewInvoker creates an Invoker from options.
func NewInvoker(opts InvokerOptions) *Invoker {
	registry := opts.Registry
	if registry == nil {
		registry = globalRegistry
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry: registry,
		sessions: sessions,
		retry:    retry,
		notify:   opts.Notify,
		logger:   logger,
		rps:      opts.RequestsPerSecond,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Sessions exposes the cancellation registry so callers can stop
// sessions or trip the emergency stop.
func (inv *Invoker) Sessions() *SessionRegistry {
	return inv.sessions
}

// CallWithTools runs a completion with tool definitions. Tool names are
// encoded to satisfy provider naming rules and decoded in the parsed
// result. The request's Tools field is replaced with the encoded copies.
func (inv *Invoker) CallWithTools(ctx context.Context, sessionID, providerName string, req CompletionRequest) (*ParsedResponse, error) {
	encoded, nameMap := EncodeTools(req.Tools)
	req.Tools = encoded

	resp, err := inv.call(ctx, sessionID, providerName, req)
	if err != nil {
		return nil, err
	}
	parsed := ParseModelResponse(resp, nameMap)
	return &parsed, nil
}

// CallWithStreaming runs a streaming completion, delivering text
// incrementally to handler and returning the final parsed response.
// Both cancellation signals are checked after every chunk, and a trip
// aborts the underlying stream rather than just ceasing to read.
func (inv *Invoker) CallWithStreaming(ctx context.Context, sessionID, providerName string, req CompletionRequest, handler StreamingHandler) (*ParsedResponse, error) {
	encoded, nameMap := EncodeTools(req.Tools)
	req.Tools = encoded

	provider, err := inv.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	resp, err := WithRetry(ctx, inv.sessions, sessionID, inv.retry, inv.notify, func(ctx context.Context) (*CompletionResponse, error) {
		callCtx, release := inv.sessions.Begin(ctx, sessionID)
		defer release()

		if err := checkStop(callCtx, inv.sessions, sessionID); err != nil {
			return nil, err
		}
		if err := inv.pace(callCtx, providerName); err != nil {
			return nil, err
		}

		chunks, err := provider.Stream(callCtx, req)
		if err != nil {
			return nil, err
		}
		return inv.consumeStream(callCtx, sessionID, chunks, release, handler)
	})
	if err != nil {
		return nil, err
	}

	parsed := ParseModelResponse(resp, nameMap)
	return &parsed, nil
}

// consumeStream drains a chunk channel into a CompletionResponse,
// checking stop signals per chunk. abort cancels the stream's context so
// the provider tears down the connection.
func (inv *Invoker) consumeStream(ctx context.Context, sessionID string, chunks <-chan StreamChunk, abort func(), handler StreamingHandler) (*CompletionResponse, error) {
	var content strings.Builder
	var usage TokenUsage
	finishReason := FinishReasonStop
	pending := map[int]*ToolCall{}
	var order []int

	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if err := checkStop(ctx, inv.sessions, sessionID); err != nil {
			abort()
			// Drain so the provider goroutine can exit.
			for range chunks {
			}
			return nil, err
		}

		if chunk.Delta.Content != "" {
			content.WriteString(chunk.Delta.Content)
			if handler != nil {
				handler(chunk.Delta.Content, content.String())
			}
		}
		if tcd := chunk.Delta.ToolCallDelta; tcd != nil {
			tc, ok := pending[tcd.Index]
			if !ok {
				tc = &ToolCall{}
				pending[tcd.Index] = tc
				order = append(order, tcd.Index)
			}
			if tcd.ID != "" {
				tc.ID = tcd.ID
			}
			if tcd.Name != "" {
				tc.Name = tcd.Name
			}
			tc.Arguments += tcd.ArgumentsDelta
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}

	// The channel may close because the stream's context was cancelled
	// out from under it; partial content must not pass as success.
	if err := checkStop(ctx, inv.sessions, sessionID); err != nil {
		return nil, err
	}

	resp := &CompletionResponse{
		Content:      content.String(),
		FinishReason: finishReason,
		Usage:        usage,
	}
	for _, idx := range order {
		resp.ToolCalls = append(resp.ToolCalls, *pending[idx])
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = FinishReasonToolCalls
	}
	return resp, nil
}

// TextCompletion runs a plain text completion and returns the trimmed
// response text.
func (inv *Invoker) TextCompletion(ctx context.Context, sessionID, providerName string, req CompletionRequest) (string, error) {
	req.Tools = nil
	resp, err := inv.call(ctx, sessionID, providerName, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// VerifyCompletion asks the model a yes/no verification question and
// reports whether the answer affirms. Parsing is deliberately lenient:
// any answer starting with "yes" counts.
func (inv *Invoker) VerifyCompletion(ctx context.Context, sessionID, providerName string, req CompletionRequest) (bool, error) {
	text, err := inv.TextCompletion(ctx, sessionID, providerName, req)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(text), "yes"), nil
}

// call runs one non-streaming completion through retry, cancellation,
// and pacing.
func (inv *Invoker) call(ctx context.Context, sessionID, providerName string, req CompletionRequest) (*CompletionResponse, error) {
	provider, err := inv.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	return WithRetry(ctx, inv.sessions, sessionID, inv.retry, inv.notify, func(ctx context.Context) (*CompletionResponse, error) {
		callCtx, release := inv.sessions.Begin(ctx, sessionID)
		defer release()

		if err := checkStop(callCtx, inv.sessions, sessionID); err != nil {
			return nil, err
		}
		if err := inv.pace(callCtx, providerName); err != nil {
			return nil, err
		}

		resp, err := provider.Complete(callCtx, req)
		if err != nil {
			inv.logger.Debug("model call failed",
				"provider", providerName,
				"retryable", errors.IsRetryable(err),
				"error", err)
			return nil, err
		}
		if resp.Content == "" && len(resp.ToolCalls) == 0 {
			return nil, &errors.ProviderError{
				Provider:  providerName,
				Message:   "empty response from model",
				Retryable: true,
			}
		}
		return resp, nil
	})
}

// pace blocks until the provider's rate limiter admits another request.
func (inv *Invoker) pace(ctx context.Context, providerName string) error {
	if inv.rps <= 0 {
		return nil
	}
	inv.mu.Lock()
	limiter, ok := inv.limiters[providerName]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(inv.rps), 1)
		inv.limiters[providerName] = limiter
	}
	inv.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return &errors.CancelledError{Operation: "LLM call", Reason: "stopped while pacing", Cause: err}
	}
	return nil
}

// Summarize runs a one-shot summarization prompt. The signature matches
// the tool-response processor's Summarizer collaborator.
func (inv *Invoker) Summarize(ctx context.Context, prompt string) (string, error) {
	provider, err := inv.registry.GetDefault()
	if err != nil {
		return "", err
	}
	return inv.TextCompletion(ctx, "", provider.Name(), CompletionRequest{
		Model: string(ModelTierFast),
		Messages: []Message{
			{Role: MessageRoleUser, Content: prompt},
		},
	})
}
