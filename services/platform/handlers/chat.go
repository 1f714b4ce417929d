// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the chat pipeline over HTTP: JSON, SSE
// streaming, and WebSocket transports share one pipeline instance.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCloud/services/llm"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/observability"
	"github.com/AleutianAI/AleutianCloud/services/platform/pipeline"
)

var chatTracer = otel.Tracer("aleutian.cloud.handlers")

// BotResolver looks up a bot with its scopes, datasets, and provider
// credential attached.
type BotResolver interface {
	Bot(ctx context.Context, id string) (*datatypes.Bot, error)
}

// HandleChat serves POST /v1/chat. Requests with stream=true are handed to
// the SSE path; everything else gets a single JSON response.
func HandleChat(p *pipeline.Pipeline, bots BotResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bad request body")
			slog.Error("Failed to parse chat request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		bot, ok := resolveBot(ctx, c, bots, req.BotID)
		if !ok {
			return
		}

		if req.Stream {
			streamChat(ctx, c, p, bot, &req)
			return
		}

		start := time.Now()
		resp, err := p.Process(ctx, bot, &req)
		recordTurn(observability.TransportJSON, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chat turn failed")
			writeChatError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// resolveBot loads the bot and enforces activity. Writes the error response
// itself and returns ok=false when the request cannot proceed.
func resolveBot(ctx context.Context, c *gin.Context, bots BotResolver, botID string) (*datatypes.Bot, bool) {
	if botID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bot_id is required"})
		return nil, false
	}
	bot, err := bots.Bot(ctx, botID)
	if err != nil {
		slog.Warn("Bot lookup failed", "bot_id", botID, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return nil, false
	}
	if !bot.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "bot is not active"})
		return nil, false
	}
	return bot, true
}

// recordTurn reports one completed turn to metrics.
func recordTurn(transport observability.Transport, start time.Time, err error) {
	if m := observability.Default; m != nil {
		m.RecordRequest(transport, err == nil)
		m.RecordTurnDuration(transport, time.Since(start).Seconds(), err == nil)
	}
}

// writeChatError maps pipeline errors to HTTP statuses. Provider problems
// are upstream failures, not client mistakes; validation errors are the
// client's to fix.
func writeChatError(c *gin.Context, err error) {
	switch {
	case llm.IsUnsupportedProvider(err):
		slog.Error("Bot references unimplemented provider", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "bot provider is not supported"})
	case llm.IsProviderUnavailable(err):
		slog.Error("LLM provider unavailable", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI provider is unavailable"})
	default:
		slog.Error("Chat turn failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
