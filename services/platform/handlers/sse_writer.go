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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/pipeline"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes chat stream frames to an HTTP response in SSE format.
//
// # Description
//
// Frames go out as "event: {type}\ndata: {json}\n\n" and flush immediately.
// Every event is stamped with a UUID, a millisecond timestamp, and a
// SHA-256 hash chained to the previous event so clients can verify that no
// frame was dropped or reordered in transit.
//
// SSEWriter is a superset of pipeline.StreamWriter: the pipeline drives the
// core frames, the handler adds status and keepalive traffic around them.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the keepalive ticker
// writes from its own goroutine.
type SSEWriter interface {
	pipeline.StreamWriter

	// WriteStatus emits a status frame ("Searching documents...") shown
	// while the turn is still working.
	WriteStatus(message string) error

	// WriteKeepAlive sends an SSE comment to keep idle load-balancer
	// connections open. Comments do not join the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements SSEWriter over http.ResponseWriter.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps a ResponseWriter. The caller must have applied
// SetSSEHeaders first. Fails when the writer cannot flush.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

var _ SSEWriter = (*sseWriter)(nil)

// writeEvent stamps metadata, extends the hash chain, and flushes one frame.
func (w *sseWriter) writeEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = datatypes.NewID()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes every content field, citations and usage
// included, so the chain covers the full payload and not just the token
// text.
func computeEventHash(event datatypes.StreamEvent) string {
	citationsJSON := ""
	if len(event.Citations) > 0 {
		if data, err := json.Marshal(event.Citations); err == nil {
			citationsJSON = string(data)
		}
	}
	usageJSON := ""
	if event.Usage != nil {
		if data, err := json.Marshal(event.Usage); err == nil {
			usageJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.SessionId,
		citationsJSON,
		usageJSON,
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteStart(sessionID string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:      "start",
		SessionId: sessionID,
	})
}

func (w *sseWriter) WriteCitations(citations []datatypes.Citation) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:      "citations",
		Citations: citations,
	})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:    "token",
		Content: content,
	})
}

func (w *sseWriter) WriteDone(usage datatypes.TokenUsage) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:  "done",
		Usage: &usage,
	})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:  "error",
		Error: errMsg,
	})
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type:    "status",
		Message: message,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for Server-Sent Events. Must run
// before the first body write. X-Accel-Buffering disables nginx buffering
// so tokens reach the client as they are produced.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
