// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval finds grounding context for a chat turn. It selects the
// datasets a bot may read, embeds the query, searches the chunk store, and
// returns ranked citations. Retrieval failure never aborts a chat turn; the
// engine degrades to keyword search and finally to an empty citation list.
package retrieval

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianCloud/services/llm"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/observability"
)

var tracer = otel.Tracer("aleutian.cloud.retrieval")

const (
	// DefaultLimit is the citation count when the caller passes none.
	DefaultLimit = 5

	// defaultEmbedTimeout bounds the provider embedding call. A slow
	// embedding endpoint degrades to keyword search instead of stalling
	// the turn.
	defaultEmbedTimeout = 10 * time.Second

	// Vector scores are certainty clamped away from the extremes so that
	// downstream consumers can treat 1.0 as "impossible" and 0.0 as
	// "absent". Keyword hits carry no certainty and get a fixed mid score.
	minVectorScore = 0.1
	maxVectorScore = 0.95
	keywordScore   = 0.5
)

// DatasetCatalog resolves which datasets a tenant owns. The engine needs it
// for the scope-filter and tenant-wide fallback branches of dataset
// selection; explicitly assigned bot datasets bypass it.
type DatasetCatalog interface {
	// ActiveDatasets returns the tenant's active datasets.
	ActiveDatasets(ctx context.Context, tenantID string) ([]datatypes.Dataset, error)
}

// EmbedFunc produces a query embedding using the bot's provider.
type EmbedFunc func(ctx context.Context, bot *datatypes.Bot, text string) ([]float32, error)

// ProviderEmbed returns an EmbedFunc backed by the bot's own LLM provider.
func ProviderEmbed() EmbedFunc {
	return func(ctx context.Context, bot *datatypes.Bot, text string) ([]float32, error) {
		provider, err := llm.NewProvider(bot.Provider)
		if err != nil {
			return nil, err
		}
		return provider.Embed(ctx, "", text)
	}
}

// Config configures a retrieval Engine.
type Config struct {
	Searcher ChunkSearcher
	Catalog  DatasetCatalog

	// Embed produces query embeddings. Nil means ProviderEmbed().
	Embed EmbedFunc

	// EmbedTimeout bounds each embedding call. Zero means 10s.
	EmbedTimeout time.Duration
}

// Engine retrieves citation-bearing context chunks for a query.
//
// # Thread Safety
//
// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	searcher     ChunkSearcher
	catalog      DatasetCatalog
	embed        EmbedFunc
	embedTimeout time.Duration
}

// NewEngine constructs an Engine, filling config defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.Embed == nil {
		cfg.Embed = ProviderEmbed()
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = defaultEmbedTimeout
	}
	return &Engine{
		searcher:     cfg.Searcher,
		catalog:      cfg.Catalog,
		embed:        cfg.Embed,
		embedTimeout: cfg.EmbedTimeout,
	}
}

// RetrieveContext returns up to limit citations for the query, best match
// first.
//
// # Description
//
// Dataset selection precedence, first non-empty wins:
//
//  1. The bot's explicitly assigned datasets.
//  2. Datasets matching the active scopes' dataset filters, OR'd together.
//  3. All active datasets owned by the tenant.
//
// Only chunks of completed documents with a stored embedding are candidates.
// Vector search ranks by certainty; when embedding or vector search fails
// the engine falls back to keyword matching, and when that fails too it
// returns an empty slice. This method never returns an error.
func (e *Engine) RetrieveContext(ctx context.Context, query string, bot *datatypes.Bot, limit int) []datatypes.Citation {
	ctx, span := tracer.Start(ctx, "RetrieveContext")
	defer span.End()

	if limit <= 0 {
		limit = DefaultLimit
	}

	datasetIDs := e.selectDatasets(ctx, bot)
	if len(datasetIDs) == 0 {
		slog.Info("No datasets available for retrieval", "bot_id", bot.ID, "tenant_id", bot.TenantID)
		return []datatypes.Citation{}
	}

	start := time.Now()
	if results, ok := e.vectorSearch(ctx, query, bot, datasetIDs, limit); ok {
		citations := resultsToCitations(results, false)
		recordRetrieval("vector", time.Since(start), len(citations))
		return citations
	}

	results, err := e.searcher.SearchKeyword(ctx, bot.TenantID, datasetIDs, query, limit)
	if err != nil {
		slog.Error("Keyword fallback search failed, returning no context",
			"error", err, "bot_id", bot.ID)
		return []datatypes.Citation{}
	}
	citations := resultsToCitations(results, true)
	recordRetrieval("keyword", time.Since(start), len(citations))
	return citations
}

// selectDatasets applies the precedence rules and returns the dataset IDs in
// play for this bot. An empty result means retrieval has nothing to search.
func (e *Engine) selectDatasets(ctx context.Context, bot *datatypes.Bot) []string {
	// 1. Explicit assignment wins outright; scope filters never widen it.
	var explicit []string
	for _, d := range bot.Datasets {
		if d.IsActive {
			explicit = append(explicit, d.ID)
		}
	}
	if len(explicit) > 0 {
		return explicit
	}

	active, err := e.catalog.ActiveDatasets(ctx, bot.TenantID)
	if err != nil {
		slog.Error("Failed to list tenant datasets", "error", err, "tenant_id", bot.TenantID)
		return nil
	}

	// 2. Scope filters, OR'd across all active scopes.
	var filters []datatypes.DatasetFilter
	for _, scope := range bot.ActiveScopes() {
		filters = append(filters, scope.DatasetFilters...)
	}
	if len(filters) > 0 {
		var matched []string
		for _, d := range active {
			if datasetMatchesAny(d, filters) {
				matched = append(matched, d.ID)
			}
		}
		return matched
	}

	// 3. Tenant-wide fallback.
	ids := make([]string, 0, len(active))
	for _, d := range active {
		ids = append(ids, d.ID)
	}
	return ids
}

// datasetMatchesAny reports whether the dataset satisfies at least one
// filter. Within a filter, any tag match or any metadata equality counts.
func datasetMatchesAny(d datatypes.Dataset, fs []datatypes.DatasetFilter) bool {
	for _, f := range fs {
		for _, tag := range f.Tags {
			for _, have := range d.Tags {
				if tag == have {
					return true
				}
			}
		}
		for k, v := range f.Metadata {
			if d.Metadata[k] == v {
				return true
			}
		}
	}
	return false
}

// vectorSearch embeds the query and runs nearest-neighbor search. The bool
// return is false when this path failed and keyword fallback should run.
func (e *Engine) vectorSearch(ctx context.Context, query string, bot *datatypes.Bot, datasetIDs []string, limit int) ([]datatypes.ChunkResult, bool) {
	embedCtx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()

	vector, err := e.embed(embedCtx, bot, query)
	if err != nil {
		slog.Warn("Query embedding failed, falling back to keyword search",
			"error", err, "bot_id", bot.ID)
		return nil, false
	}

	results, err := e.searcher.SearchNearVector(ctx, bot.TenantID, datasetIDs, vector, limit)
	if err != nil {
		slog.Warn("Vector search failed, falling back to keyword search",
			"error", err, "bot_id", bot.ID)
		return nil, false
	}
	return results, true
}

// resultsToCitations converts store rows into citations. Vector results use
// certainty clamped to [0.1, 0.95] as the score; keyword results get the
// fixed mid score.
func resultsToCitations(results []datatypes.ChunkResult, keyword bool) []datatypes.Citation {
	citations := make([]datatypes.Citation, 0, len(results))
	for _, r := range results {
		score := keywordScore
		if !keyword {
			score = minVectorScore
			if r.Additional.Certainty != nil {
				score = clampScore(float64(*r.Additional.Certainty))
			}
		}

		metadata := map[string]string{
			"dataset_id":   r.DatasetID,
			"dataset_name": r.DatasetName,
		}
		if r.DocumentSource != "" {
			metadata["document_source"] = r.DocumentSource
		}
		if r.DocumentTags != "" {
			metadata["document_tags"] = r.DocumentTags
		}
		if r.ChunkIndex != nil {
			metadata["chunk_index"] = strconv.Itoa(*r.ChunkIndex)
		}

		citations = append(citations, datatypes.Citation{
			DocumentID:    r.DocumentID,
			DocumentTitle: r.DocumentTitle,
			ChunkID:       r.Additional.ID,
			Content:       r.Content,
			Score:         score,
			Metadata:      metadata,
		})
	}
	return citations
}

func recordRetrieval(source string, elapsed time.Duration, citations int) {
	if m := observability.Default; m != nil {
		m.RecordRetrieval(source, elapsed.Seconds(), citations)
	}
}

func clampScore(s float64) float64 {
	if s < minVectorScore {
		return minVectorScore
	}
	if s > maxVectorScore {
		return maxVectorScore
	}
	return s
}
