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

import "time"

// =============================================================================
// Provider Configuration
// =============================================================================

// ProviderKind identifies which LLM provider backs a tenant credential.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGoogle    ProviderKind = "google"
)

// ProviderConfig is a tenant-owned credential record binding a bot to an
// LLM provider. APIKey is never logged; see pkg/secrets for handling.
type ProviderConfig struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Kind         ProviderKind `json:"provider_name"`
	APIKey       string       `json:"-"`
	BaseURL      string       `json:"base_url,omitempty"`
	Organization string       `json:"organization,omitempty"`
	// MaxTokens is the provider-level fallback when the bot sets none.
	MaxTokens int  `json:"max_tokens,omitempty"`
	IsActive  bool `json:"is_active"`
}

// =============================================================================
// Bot and Scope
// =============================================================================

// Strictness controls how aggressively a scope filters queries.
type Strictness string

const (
	StrictnessStrict   Strictness = "strict"
	StrictnessModerate Strictness = "moderate"
	StrictnessLenient  Strictness = "lenient"
)

// KnowledgeBoundaries bound what knowledge a bot may draw on.
type KnowledgeBoundaries struct {
	StrictMode     bool     `json:"strict_mode"`
	AllowedSources []string `json:"allowed_sources,omitempty"`
}

// ResponseGuidelines shape the tone and length of generated answers.
type ResponseGuidelines struct {
	MaxResponseLength    int  `json:"max_response_length,omitempty"`
	RequireCitations     bool `json:"require_citations"`
	MaintainFriendlyTone bool `json:"maintain_friendly_tone"`
}

// ContextSettings bound how much conversation history is replayed.
type ContextSettings struct {
	MaxConversationHistory int `json:"max_conversation_history,omitempty"`
}

// Guardrails is the per-scope enforcement policy.
//
// # Description
//
// A scope's guardrails decide whether a query is answered at all
// (AllowedTopics/ForbiddenTopics filtered by Strictness), what knowledge
// the model may use (KnowledgeBoundaries), and how the answer should look
// (ResponseGuidelines). RefusalMessage, when set, overrides the generated
// redirect for forbidden and off-topic blocks.
type Guardrails struct {
	Strictness          Strictness          `json:"strictness_level,omitempty"`
	AllowedTopics       []string            `json:"allowed_topics,omitempty"`
	ForbiddenTopics     []string            `json:"forbidden_topics,omitempty"`
	KnowledgeBoundaries KnowledgeBoundaries `json:"knowledge_boundaries,omitempty"`
	ResponseGuidelines  *ResponseGuidelines `json:"response_guidelines,omitempty"`
	ContextSettings     *ContextSettings    `json:"context_settings,omitempty"`
	RefusalMessage      string              `json:"refusal_message,omitempty"`
}

// DatasetFilter selects datasets by tag or metadata equality. Filters on a
// scope are OR'd together during retrieval dataset selection.
type DatasetFilter struct {
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Scope is a named restriction policy attached to a bot. Inactive scopes
// are never consulted.
type Scope struct {
	ID             string          `json:"id"`
	BotID          string          `json:"bot_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	DatasetFilters []DatasetFilter `json:"dataset_filters,omitempty"`
	Guardrails     Guardrails      `json:"guardrails"`
	IsActive       bool            `json:"is_active"`
}

// Bot is a configured chat agent owned by a tenant. The chat pipeline
// treats Bot as read-only; mutation belongs to the tenant CRUD layer.
type Bot struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Name         string          `json:"name"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Model        string          `json:"model"`
	Temperature  float32         `json:"temperature"`
	MaxTokens    int             `json:"max_tokens,omitempty"`
	IsActive     bool            `json:"is_active"`
	IsPublic     bool            `json:"is_public"`
	Provider     *ProviderConfig `json:"-"`
	Scopes       []Scope         `json:"scopes,omitempty"`
	// Datasets are the bot's explicit corpus bindings, ordered by priority.
	Datasets []Dataset `json:"datasets,omitempty"`
}

// ActiveScopes returns the bot's active scopes in declaration order.
func (b *Bot) ActiveScopes() []Scope {
	out := make([]Scope, 0, len(b.Scopes))
	for _, s := range b.Scopes {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// Corpus
// =============================================================================

// Dataset is a named, tagged collection of documents owned by a tenant.
// Inactive datasets are invisible to retrieval.
type Dataset struct {
	ID       string            `json:"id"`
	TenantID string            `json:"tenant_id"`
	Name     string            `json:"name"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	IsActive bool              `json:"is_active"`
	Priority int               `json:"priority,omitempty"`
}

// DocumentStatus tracks a document through the ingest pipeline.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is a unit of source material inside a dataset.
type Document struct {
	ID          string         `json:"id"`
	DatasetID   string         `json:"dataset_id"`
	Title       string         `json:"title"`
	Source      string         `json:"source,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Status      DocumentStatus `json:"status"`
	ContentHash string         `json:"content_hash,omitempty"`
}

// Chunk is an ordered slice of a document. Embedding is only present after
// the ingest pipeline has processed the parent document; retrieval ignores
// chunks without one.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"-"`
	TokenCount int               `json:"token_count"`
	ChunkIndex int               `json:"chunk_index"`
	StartChar  int               `json:"start_char"`
	EndChar    int               `json:"end_char"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// Conversation State
// =============================================================================

// Conversation is one chat session with a bot. Title is generated lazily
// after the first complete exchange.
//
// LastSequence is the highest message sequence number handed out so far.
// The store rewrites it inside every append transaction; it is the shared
// key that makes concurrent appends conflict instead of colliding.
type Conversation struct {
	ID           string         `json:"id"`
	BotID        string         `json:"bot_id"`
	SessionID    string         `json:"session_id,omitempty"`
	Title        string         `json:"title,omitempty"`
	IsActive     bool           `json:"is_active"`
	LastSequence int            `json:"last_sequence"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// StoredMessage is a persisted conversation message.
//
// SequenceNumber is strictly increasing and gapless within a conversation;
// assignment happens inside the store transaction that appends the message.
type StoredMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           string      `json:"role"`
	Content        string      `json:"content"`
	Citations      []Citation  `json:"citations,omitempty"`
	TokenUsage     *TokenUsage `json:"token_usage,omitempty"`
	SequenceNumber int         `json:"sequence_number"`
	CreatedAt      time.Time   `json:"created_at"`
}
