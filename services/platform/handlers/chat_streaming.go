// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/observability"
	"github.com/AleutianAI/AleutianCloud/services/platform/pipeline"
)

// keepAliveInterval keeps SSE connections alive through load balancers
// with 60s idle timeouts.
const keepAliveInterval = 15 * time.Second

// streamChat runs a chat turn over SSE.
//
// A keepalive goroutine pings while retrieval and generation work; it stops
// the moment the pipeline returns. Client disconnects cancel the request
// context, which stops provider stream consumption; nothing is persisted
// for a turn that did not complete.
func streamChat(ctx context.Context, c *gin.Context, p *pipeline.Pipeline, bot *datatypes.Bot, req *datatypes.ChatRequest) {
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-keepAliveCtx.Done():
				return
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
			}
		}
	}()

	if m := observability.Default; m != nil {
		m.StreamStarted(observability.TransportSSE)
		defer m.StreamEnded(observability.TransportSSE)
	}

	start := time.Now()
	err = p.ProcessStream(ctx, bot, req, writer)
	recordTurn(observability.TransportSSE, start, err)
	if err != nil {
		// The pipeline already emitted an error frame where possible.
		slog.Error("Streaming chat turn failed",
			"error", err, "bot_id", bot.ID)
	}
	stopKeepAlive()
}
