package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

const defaultEmbeddingModel = "text-embedding-ada-002"

type openAIProvider struct {
	client *openai.Client
}

func newOpenAIProvider(cfg *datatypes.ProviderConfig) (*openAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider %s has no API key configured", cfg.ID)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		clientCfg.OrgID = cfg.Organization
	}
	slog.Debug("Initializing OpenAI provider", "provider_id", cfg.ID, "base_url", cfg.BaseURL)
	return &openAIProvider{client: openai.NewClientWithConfig(clientCfg)}, nil
}

// Complete implements the Provider interface.
func (p *openAIProvider) Complete(ctx context.Context, model string, messages []datatypes.ChatMessage, params GenerationParams) (string, datatypes.TokenUsage, error) {
	req := p.buildRequest(model, messages, params)

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI completion failed", "model", model, "error", err)
		return "", datatypes.TokenUsage{}, &ProviderUnavailableError{Provider: datatypes.ProviderOpenAI, Op: "complete", Err: err}
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices", "model", model)
		return "", datatypes.TokenUsage{}, &ProviderUnavailableError{
			Provider: datatypes.ProviderOpenAI,
			Op:       "complete",
			Err:      fmt.Errorf("no choices in response"),
		}
	}

	usage := datatypes.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// Stream implements the Provider interface.
func (p *openAIProvider) Stream(ctx context.Context, model string, messages []datatypes.ChatMessage, params GenerationParams, fn func(StreamChunk) error) error {
	req := p.buildRequest(model, messages, params)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		slog.Error("OpenAI stream open failed", "model", model, "error", err)
		return &ProviderUnavailableError{Provider: datatypes.ProviderOpenAI, Op: "stream", Err: err}
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// Deltas already delivered stay delivered; the caller decides
			// what to do with the partial output.
			slog.Error("OpenAI stream receive failed", "model", model, "error", err)
			return &ProviderUnavailableError{Provider: datatypes.ProviderOpenAI, Op: "stream", Err: err}
		}

		if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
			if err := fn(StreamChunk{Content: resp.Choices[0].Delta.Content}); err != nil {
				return err
			}
		}
		if resp.Usage != nil {
			usage := &datatypes.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			if err := fn(StreamChunk{Usage: usage}); err != nil {
				return err
			}
		}
	}
}

// Embed implements the Provider interface.
func (p *openAIProvider) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if model == "" {
		model = defaultEmbeddingModel
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		slog.Error("OpenAI embedding failed", "model", model, "error", err)
		return nil, &ProviderUnavailableError{Provider: datatypes.ProviderOpenAI, Op: "embed", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderUnavailableError{
			Provider: datatypes.ProviderOpenAI,
			Op:       "embed",
			Err:      fmt.Errorf("no embedding in response"),
		}
	}
	return resp.Data[0].Embedding, nil
}

func (p *openAIProvider) buildRequest(model string, messages []datatypes.ChatMessage, params GenerationParams) openai.ChatCompletionRequest {
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: apiMessages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

var _ Provider = (*openAIProvider)(nil)
