// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// MaxMessageContentBytes bounds a single chat message body.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest bounds the replayed history a client may send.
	MaxMessagesPerRequest = 100

	// DefaultContextLimit is how many prior messages the server loads when a
	// client sends only its newest message with a session ID.
	DefaultContextLimit = 10
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// maxbytes validates byte length, not rune count. Multi-byte content
	// must not slip past a character-based limit.
	_ = validate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxMessageContentBytes
	})
}

// ChatMessage is a single turn in the wire format shared by requests,
// responses, and provider calls.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// ChatRequest is the inbound chat payload.
//
// Two usage modes are supported. Widget clients send the full message
// history. Efficient clients send only the newest message plus SessionID
// and let the server replay up to ContextLimit prior messages.
type ChatRequest struct {
	BotID        string         `json:"bot_id" validate:"required,uuid4"`
	Messages     []ChatMessage  `json:"messages" validate:"required,min=1,max=100,dive"`
	SessionID    string         `json:"session_id,omitempty" validate:"omitempty,uuid4"`
	ContextLimit int            `json:"context_limit,omitempty" validate:"omitempty,min=1,max=100"`
	Stream       bool           `json:"stream,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the request against its struct tags.
func (r *ChatRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}

// EnsureDefaults fills unset optional fields.
func (r *ChatRequest) EnsureDefaults() {
	if r.ContextLimit == 0 {
		r.ContextLimit = DefaultContextLimit
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
}

// LastUserMessage returns the most recent user-role message, or nil.
func (r *ChatRequest) LastUserMessage() *ChatMessage {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return &r.Messages[i]
		}
	}
	return nil
}

// Citation is a retrieved chunk plus its source metadata. Produced by the
// retrieval engine, injected into the system prompt, and stored denormalized
// on the assistant message.
type Citation struct {
	DocumentID    string            `json:"document_id"`
	DocumentTitle string            `json:"document_title"`
	ChunkID       string            `json:"chunk_id"`
	Content       string            `json:"content"`
	Score         float64           `json:"score"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TokenUsage mirrors the provider's token accounting for one generation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the non-streaming chat result.
type ChatResponse struct {
	SessionID string         `json:"session_id"`
	Message   ChatMessage    `json:"message"`
	Citations []Citation     `json:"citations"`
	Usage     TokenUsage     `json:"usage"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewChatResponse builds a response with non-nil citation slice so clients
// always see a JSON array.
func NewChatResponse(sessionID string, msg ChatMessage, citations []Citation, usage TokenUsage, metadata map[string]any) ChatResponse {
	if citations == nil {
		citations = []Citation{}
	}
	return ChatResponse{
		SessionID: sessionID,
		Message:   msg,
		Citations: citations,
		Usage:     usage,
		Metadata:  metadata,
	}
}

// NewID returns a fresh UUIDv4 string. Centralized so stores and handlers
// mint identifiers the same way.
func NewID() string {
	return uuid.New().String()
}

// StreamEvent is one frame of a streaming chat response.
//
// Frames are emitted in the order: start, optional citations, repeated
// token, final done. An error frame may replace done. Each event carries a
// SHA-256 hash chained to the previous event for integrity verification.
type StreamEvent struct {
	Id        string      `json:"id,omitempty"`
	Type      string      `json:"type"`
	CreatedAt int64       `json:"created_at,omitempty"`
	SessionId string      `json:"session_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	Citations []Citation  `json:"citations,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
	Hash      string      `json:"hash,omitempty"`
	PrevHash  string      `json:"prev_hash,omitempty"`
}
