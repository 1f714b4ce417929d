// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCloud/services/llm"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// StreamWriter receives the frames of a streaming chat turn in order:
// start, optional citations, repeated tokens, then exactly one of done or
// error. Transport specifics (SSE, WebSocket) live in the handler layer.
type StreamWriter interface {
	WriteStart(sessionID string) error
	WriteCitations(citations []datatypes.Citation) error
	WriteToken(content string) error
	WriteDone(usage datatypes.TokenUsage) error
	WriteError(message string) error
}

// ProcessStream handles a streaming chat turn.
//
// # Description
//
// Mirrors Process but emits tokens as they arrive. Deltas already written
// are never retracted: a mid-stream provider failure emits an error frame
// after them and nothing is persisted, so a broken stream leaves no partial
// message behind. Blocked queries stream the redirect text as a single
// token so the client-side rendering path is identical to a real answer.
func (p *Pipeline) ProcessStream(ctx context.Context, bot *datatypes.Bot, req *datatypes.ChatRequest, w StreamWriter) error {
	ctx, span := tracer.Start(ctx, "Pipeline.ProcessStream")
	defer span.End()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		_ = w.WriteError("invalid chat request")
		return err
	}
	userMsg := req.LastUserMessage()
	if userMsg == nil {
		_ = w.WriteError("invalid chat request")
		return fmt.Errorf("request has no user message")
	}

	conv, err := p.store.GetOrCreate(ctx, bot, req.SessionID)
	if err != nil {
		span.RecordError(err)
		_ = w.WriteError("failed to resolve conversation")
		return fmt.Errorf("resolve conversation: %w", err)
	}
	span.SetAttributes(
		attribute.String("bot.id", bot.ID),
		attribute.String("conversation.id", conv.ID),
	)

	if allowed, redirect := p.guardrails.ValidateQuery(ctx, bot, userMsg.Content); !allowed {
		span.SetAttributes(attribute.Bool("guardrail.blocked", true))
		return p.streamRedirect(ctx, bot, conv, userMsg.Content, redirect, req.Metadata, w)
	}

	citations := p.retriever.RetrieveContext(ctx, userMsg.Content, bot, p.retrievalLimit)
	span.SetAttributes(attribute.Int("retrieval.citations", len(citations)))

	provider, err := p.newProvider(bot.Provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider unavailable")
		_ = w.WriteError("bot provider is not supported")
		return err
	}

	wire := p.buildWireMessages(ctx, bot, conv.ID, req, citations)

	if err := w.WriteStart(conv.SessionID); err != nil {
		return err
	}
	if len(citations) > 0 {
		if err := w.WriteCitations(citations); err != nil {
			return err
		}
	}

	var (
		content strings.Builder
		usage   datatypes.TokenUsage
	)
	streamErr := provider.Stream(ctx, bot.Model, wire, generationParams(bot), func(chunk llm.StreamChunk) error {
		if chunk.Usage != nil {
			usage = *chunk.Usage
			return nil
		}
		content.WriteString(chunk.Content)
		return w.WriteToken(chunk.Content)
	})
	if streamErr != nil {
		slog.Error("Streaming generation failed",
			"error", streamErr, "bot_id", bot.ID, "conversation_id", conv.ID,
			"partial_bytes", content.Len())
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "generation failed")
		// Best effort; the connection may already be gone.
		_ = w.WriteError("generation failed")
		return streamErr
	}

	if _, err := p.finishTurn(ctx, bot, conv, userMsg.Content, content.String(), citations, usage, req.Metadata); err != nil {
		span.RecordError(err)
		_ = w.WriteError("failed to save conversation")
		return err
	}
	return w.WriteDone(usage)
}

// streamRedirect emits a guardrail redirect through the streaming frame
// sequence and persists it like a normal answer.
func (p *Pipeline) streamRedirect(ctx context.Context, bot *datatypes.Bot, conv *datatypes.Conversation, userContent, redirect string, metadata map[string]any, w StreamWriter) error {
	if err := w.WriteStart(conv.SessionID); err != nil {
		return err
	}
	if err := w.WriteToken(redirect); err != nil {
		return err
	}
	if _, err := p.finishTurn(ctx, bot, conv, userContent, redirect, nil, datatypes.TokenUsage{}, metadata); err != nil {
		_ = w.WriteError("failed to save conversation")
		return err
	}
	return w.WriteDone(datatypes.TokenUsage{})
}
