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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/observability"
	"github.com/AleutianAI/AleutianCloud/services/platform/pipeline"
)

var upgrader = websocket.Upgrader{
	// Widget clients are embedded on arbitrary customer domains; origin
	// policy is enforced upstream per bot.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsStreamWriter adapts a WebSocket connection to the pipeline's stream
// contract. Frames are the same StreamEvent JSON the SSE path sends, so
// widget clients share one rendering path for both transports.
type wsStreamWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsStreamWriter) send(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	event.Id = datatypes.NewID()
	event.CreatedAt = time.Now().UnixMilli()
	return w.conn.WriteJSON(event)
}

func (w *wsStreamWriter) WriteStart(sessionID string) error {
	return w.send(datatypes.StreamEvent{Type: "start", SessionId: sessionID})
}

func (w *wsStreamWriter) WriteCitations(citations []datatypes.Citation) error {
	return w.send(datatypes.StreamEvent{Type: "citations", Citations: citations})
}

func (w *wsStreamWriter) WriteToken(content string) error {
	return w.send(datatypes.StreamEvent{Type: "token", Content: content})
}

func (w *wsStreamWriter) WriteDone(usage datatypes.TokenUsage) error {
	return w.send(datatypes.StreamEvent{Type: "done", Usage: &usage})
}

func (w *wsStreamWriter) WriteError(errMsg string) error {
	return w.send(datatypes.StreamEvent{Type: "error", Error: errMsg})
}

var _ pipeline.StreamWriter = (*wsStreamWriter)(nil)

// HandleChatWebSocket serves chat over a persistent WebSocket. Each inbound
// message is one ChatRequest; the response streams back as StreamEvent
// frames. The connection survives across turns so widgets avoid SSE
// reconnect overhead.
func HandleChatWebSocket(p *pipeline.Pipeline, bots BotResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected", "remote", c.Request.RemoteAddr)

		if m := observability.Default; m != nil {
			m.StreamStarted(observability.TransportWebSocket)
			defer m.StreamEnded(observability.TransportWebSocket)
		}

		writer := &wsStreamWriter{conn: ws}
		for {
			var req datatypes.ChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				return
			}

			ctx := c.Request.Context()
			bot, err := bots.Bot(ctx, req.BotID)
			if err != nil || !bot.IsActive {
				if err := writer.WriteError("bot not found or inactive"); err != nil {
					return
				}
				continue
			}

			start := time.Now()
			err = p.ProcessStream(ctx, bot, &req, writer)
			recordTurn(observability.TransportWebSocket, start, err)
			if err != nil {
				slog.Error("Websocket chat turn failed", "error", err, "bot_id", req.BotID)
			}
		}
	}
}
