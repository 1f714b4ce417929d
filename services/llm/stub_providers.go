package llm

import (
	"context"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// anthropicProvider and googleProvider are fail-closed stubs. Tenants can
// store credentials for these kinds today; every call rejects with
// UnsupportedProviderError until a real client lands.

type anthropicProvider struct{}

func (p *anthropicProvider) Complete(ctx context.Context, model string, messages []datatypes.ChatMessage, params GenerationParams) (string, datatypes.TokenUsage, error) {
	return "", datatypes.TokenUsage{}, &UnsupportedProviderError{Provider: datatypes.ProviderAnthropic}
}

func (p *anthropicProvider) Stream(ctx context.Context, model string, messages []datatypes.ChatMessage, params GenerationParams, fn func(StreamChunk) error) error {
	return &UnsupportedProviderError{Provider: datatypes.ProviderAnthropic}
}

func (p *anthropicProvider) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return nil, &UnsupportedProviderError{Provider: datatypes.ProviderAnthropic}
}

type googleProvider struct{}

func (p *googleProvider) Complete(ctx context.Context, model string, messages []datatypes.ChatMessage, params GenerationParams) (string, datatypes.TokenUsage, error) {
	return "", datatypes.TokenUsage{}, &UnsupportedProviderError{Provider: datatypes.ProviderGoogle}
}

func (p *googleProvider) Stream(ctx context.Context, model string, messages []datatypes.ChatMessage, params GenerationParams, fn func(StreamChunk) error) error {
	return &UnsupportedProviderError{Provider: datatypes.ProviderGoogle}
}

func (p *googleProvider) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return nil, &UnsupportedProviderError{Provider: datatypes.ProviderGoogle}
}

var (
	_ Provider = (*anthropicProvider)(nil)
	_ Provider = (*googleProvider)(nil)
)
