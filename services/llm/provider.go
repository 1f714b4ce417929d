package llm

import (
	"context"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// GenerationParams tune a single completion call. Nil fields fall through
// to provider defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamChunk is one unit of a streaming completion. Exactly one of Content
// or Usage is set; the usage chunk arrives last.
type StreamChunk struct {
	Content string
	Usage   *datatypes.TokenUsage
}

// Provider is the contract every LLM backend implements.
//
// # Description
//
// Two operations matter to the pipeline: chat completion (sync and
// streaming) and text embedding. Providers are constructed per tenant
// credential record, not shared process-wide; the underlying HTTP client
// pools connections.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete runs a synchronous chat completion and returns the assistant
	// text plus token usage.
	Complete(ctx context.Context, model string, messages []datatypes.ChatMessage, params GenerationParams) (string, datatypes.TokenUsage, error)

	// Stream runs a streaming completion, invoking fn for each chunk in
	// order. A non-nil error from fn aborts the stream. Deltas already
	// delivered are not retracted when the provider fails mid-stream; the
	// error is returned after whatever was yielded.
	Stream(ctx context.Context, model string, messages []datatypes.ChatMessage, params GenerationParams, fn func(StreamChunk) error) error

	// Embed returns a fixed-length embedding vector for the text.
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// NewProvider constructs the Provider for a tenant credential record.
//
// Only OpenAI is implemented. Anthropic and Google return working stubs
// whose every call fails closed with UnsupportedProviderError, so a
// misconfigured bot fails loudly at request time rather than silently
// no-oping. Unknown kinds fail here.
func NewProvider(cfg *datatypes.ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, &UnsupportedProviderError{Provider: ""}
	}
	switch cfg.Kind {
	case datatypes.ProviderOpenAI:
		return newOpenAIProvider(cfg)
	case datatypes.ProviderAnthropic:
		return &anthropicProvider{}, nil
	case datatypes.ProviderGoogle:
		return &googleProvider{}, nil
	default:
		return nil, &UnsupportedProviderError{Provider: cfg.Kind}
	}
}
