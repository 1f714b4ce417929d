// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline coordinates one chat turn end-to-end: guardrail check,
// context retrieval, prompt assembly, generation, persistence, and the
// out-of-band title job.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCloud/services/guardrail"
	"github.com/AleutianAI/AleutianCloud/services/llm"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/observability"
	"github.com/AleutianAI/AleutianCloud/services/prompt"
)

var tracer = otel.Tracer("aleutian.cloud.pipeline")

// DefaultRetrievalLimit is how many citations feed the prompt per turn.
const DefaultRetrievalLimit = 5

// ConversationStore is the slice of the persistence layer the pipeline
// depends on.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, bot *datatypes.Bot, sessionID string) (*datatypes.Conversation, error)
	AppendExchange(ctx context.Context, conversationID string, messages []datatypes.StoredMessage) ([]datatypes.StoredMessage, bool, error)
	History(ctx context.Context, conversationID string, limit int) ([]datatypes.StoredMessage, error)
}

// Retriever finds grounding context. Implementations never fail; they
// degrade to an empty citation list.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string, bot *datatypes.Bot, limit int) []datatypes.Citation
}

// TitleScheduler enqueues out-of-band title generation.
type TitleScheduler interface {
	Schedule(bot *datatypes.Bot, conversationID string) bool
}

// Config wires a Pipeline together.
type Config struct {
	Guardrails *guardrail.Engine
	Retriever  Retriever
	Prompts    *prompt.Assembler
	Store      ConversationStore
	Titles     TitleScheduler

	// NewProvider constructs the LLM provider for a bot. Nil means
	// llm.NewProvider; tests inject fakes here.
	NewProvider func(cfg *datatypes.ProviderConfig) (llm.Provider, error)

	// RetrievalLimit is the citation count per turn. Zero means 5.
	RetrievalLimit int
}

// Pipeline handles chat turns for all bots. It is stateless; all
// conversation state lives in the store, so instances scale horizontally.
//
// # Thread Safety
//
// Safe for concurrent use.
type Pipeline struct {
	guardrails     *guardrail.Engine
	retriever      Retriever
	prompts        *prompt.Assembler
	store          ConversationStore
	titles         TitleScheduler
	newProvider    func(cfg *datatypes.ProviderConfig) (llm.Provider, error)
	retrievalLimit int
}

// New constructs a Pipeline, filling config defaults.
func New(cfg Config) *Pipeline {
	if cfg.NewProvider == nil {
		cfg.NewProvider = llm.NewProvider
	}
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = DefaultRetrievalLimit
	}
	return &Pipeline{
		guardrails:     cfg.Guardrails,
		retriever:      cfg.Retriever,
		prompts:        cfg.Prompts,
		store:          cfg.Store,
		titles:         cfg.Titles,
		newProvider:    cfg.NewProvider,
		retrievalLimit: cfg.RetrievalLimit,
	}
}

// Process handles a non-streaming chat turn.
//
// # Description
//
// The flow is:
//  1. Validate the request and resolve the conversation for the session.
//  2. Run the guardrail check; a blocked query short-circuits into a
//     persisted redirect answer with no citations and zero usage.
//  3. Retrieve context, assemble the system prompt, and generate.
//  4. Persist the exchange transactionally and, on the conversation's
//     first exchange, schedule title generation.
//
// Provider failures are the only errors surfaced to the caller; guardrail
// and retrieval failures degrade per their own contracts.
func (p *Pipeline) Process(ctx context.Context, bot *datatypes.Bot, req *datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Process")
	defer span.End()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}
	userMsg := req.LastUserMessage()
	if userMsg == nil {
		return nil, fmt.Errorf("request has no user message")
	}

	conv, err := p.store.GetOrCreate(ctx, bot, req.SessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	span.SetAttributes(
		attribute.String("bot.id", bot.ID),
		attribute.String("conversation.id", conv.ID),
	)

	if allowed, redirect := p.guardrails.ValidateQuery(ctx, bot, userMsg.Content); !allowed {
		span.SetAttributes(attribute.Bool("guardrail.blocked", true))
		return p.finishTurn(ctx, bot, conv, userMsg.Content, redirect, nil, datatypes.TokenUsage{}, req.Metadata)
	}

	citations := p.retriever.RetrieveContext(ctx, userMsg.Content, bot, p.retrievalLimit)
	span.SetAttributes(attribute.Int("retrieval.citations", len(citations)))

	provider, err := p.newProvider(bot.Provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider unavailable")
		return nil, err
	}

	wire := p.buildWireMessages(ctx, bot, conv.ID, req, citations)

	text, usage, err := provider.Complete(ctx, bot.Model, wire, generationParams(bot))
	if err != nil {
		slog.Error("Generation failed",
			"error", err, "bot_id", bot.ID, "conversation_id", conv.ID, "model", bot.Model)
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}

	return p.finishTurn(ctx, bot, conv, userMsg.Content, text, citations, usage, req.Metadata)
}

// finishTurn persists the exchange, schedules the title job on a first
// exchange, and builds the response. Shared by the normal and the
// guardrail-redirect paths.
func (p *Pipeline) finishTurn(ctx context.Context, bot *datatypes.Bot, conv *datatypes.Conversation, userContent, assistantContent string, citations []datatypes.Citation, usage datatypes.TokenUsage, metadata map[string]any) (*datatypes.ChatResponse, error) {
	_, first, err := p.store.AppendExchange(ctx, conv.ID, []datatypes.StoredMessage{
		{Role: "user", Content: userContent},
		{Role: "assistant", Content: assistantContent, Citations: citations, TokenUsage: &usage},
	})
	if err != nil {
		return nil, fmt.Errorf("persist exchange: %w", err)
	}

	if first && p.titles != nil {
		p.titles.Schedule(bot, conv.ID)
	}

	if m := observability.Default; m != nil && usage.TotalTokens > 0 {
		m.RecordTokens(usage.PromptTokens, usage.CompletionTokens, bot.Model)
	}

	resp := datatypes.NewChatResponse(conv.SessionID,
		datatypes.ChatMessage{Role: "assistant", Content: assistantContent},
		citations, usage, metadata)
	return &resp, nil
}

// buildWireMessages assembles the provider message list: optional system
// prompt, replayed history (efficient mode only), then the request
// messages. A history load failure degrades to the un-augmented request;
// the turn proceeds with the single incoming message.
//
// Clients that send more than one message are presumed to carry their own
// history; replaying stored history on top would duplicate turns.
func (p *Pipeline) buildWireMessages(ctx context.Context, bot *datatypes.Bot, conversationID string, req *datatypes.ChatRequest, citations []datatypes.Citation) []datatypes.ChatMessage {
	var wire []datatypes.ChatMessage

	if system := p.prompts.BuildSystemPrompt(bot, citations); system != "" {
		wire = append(wire, datatypes.ChatMessage{Role: "system", Content: system})
	}

	if len(req.Messages) == 1 && req.SessionID != "" {
		limit := p.guardrails.ConversationContextLimit(bot)
		if req.ContextLimit > limit {
			limit = req.ContextLimit
		}
		history, err := p.store.History(ctx, conversationID, limit*2)
		if err != nil {
			slog.Warn("Failed to load conversation history, continuing with single message",
				"error", err, "conversation_id", conversationID, "bot_id", bot.ID)
		}
		for _, msg := range history {
			wire = append(wire, datatypes.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	return append(wire, req.Messages...)
}

// generationParams maps bot settings to provider parameters. Unset bot
// fields fall through to provider defaults.
func generationParams(bot *datatypes.Bot) llm.GenerationParams {
	params := llm.GenerationParams{}
	if bot.Temperature != 0 {
		temp := bot.Temperature
		params.Temperature = &temp
	}
	maxTokens := bot.MaxTokens
	if maxTokens == 0 && bot.Provider != nil {
		maxTokens = bot.Provider.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = &maxTokens
	}
	return params
}
