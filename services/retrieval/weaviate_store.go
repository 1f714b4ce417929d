// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// chunkClassName is the Weaviate class holding ingested document chunks.
const chunkClassName = "Chunk"

// ChunkSearcher abstracts the chunk store so the engine can be tested
// without a live Weaviate instance.
type ChunkSearcher interface {
	// SearchNearVector returns the chunks nearest to the query vector within
	// the given tenant and datasets, best match first.
	SearchNearVector(ctx context.Context, tenantID string, datasetIDs []string, vector []float32, limit int) ([]datatypes.ChunkResult, error)

	// SearchKeyword returns chunks whose text matches words of the query,
	// within the given tenant and datasets. Used when embedding is
	// unavailable; results carry no certainty.
	SearchKeyword(ctx context.Context, tenantID string, datasetIDs []string, query string, limit int) ([]datatypes.ChunkResult, error)
}

// WeaviateChunkSearcher implements ChunkSearcher against the Chunk class.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying Weaviate client handles
// connection pooling.
type WeaviateChunkSearcher struct {
	client *weaviate.Client
}

// NewWeaviateChunkSearcher wraps a connected Weaviate client.
func NewWeaviateChunkSearcher(client *weaviate.Client) *WeaviateChunkSearcher {
	return &WeaviateChunkSearcher{client: client}
}

var _ ChunkSearcher = (*WeaviateChunkSearcher)(nil)

// chunkBaseFilter restricts a query to embedded chunks of completed
// documents within the tenant's selected datasets.
func chunkBaseFilter(tenantID string, datasetIDs []string) *filters.WhereBuilder {
	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"tenant_id"}).
			WithOperator(filters.Equal).
			WithValueString(tenantID),
		filters.Where().
			WithPath([]string{"dataset_id"}).
			WithOperator(filters.ContainsAny).
			WithValueString(datasetIDs...),
		filters.Where().
			WithPath([]string{"document_status"}).
			WithOperator(filters.Equal).
			WithValueString(string(datatypes.DocumentCompleted)),
		filters.Where().
			WithPath([]string{"has_embedding"}).
			WithOperator(filters.Equal).
			WithValueBoolean(true),
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)
}

// chunkFields is the field set retrieved for every chunk query. Certainty is
// requested instead of distance so scores are always [0,1] regardless of the
// configured distance metric.
func chunkFields() []graphql.Field {
	return []graphql.Field{
		{Name: "content"},
		{Name: "tenant_id"},
		{Name: "dataset_id"},
		{Name: "dataset_name"},
		{Name: "document_id"},
		{Name: "document_title"},
		{Name: "document_source"},
		{Name: "chunk_index"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}
}

func (s *WeaviateChunkSearcher) SearchNearVector(ctx context.Context, tenantID string, datasetIDs []string, vector []float32, limit int) ([]datatypes.ChunkResult, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(chunkClassName).
		WithFields(chunkFields()...).
		WithWhere(chunkBaseFilter(tenantID, datasetIDs)).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate vector search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vector search results: %w", err)
	}
	return parsed.Get.Chunk, nil
}

func (s *WeaviateChunkSearcher) SearchKeyword(ctx context.Context, tenantID string, datasetIDs []string, query string, limit int) ([]datatypes.ChunkResult, error) {
	words := keywordTerms(query)
	if len(words) == 0 {
		return nil, nil
	}

	wordFilters := make([]*filters.WhereBuilder, 0, len(words))
	for _, w := range words {
		wordFilters = append(wordFilters, filters.Where().
			WithPath([]string{"content"}).
			WithOperator(filters.Like).
			WithValueString("*"+w+"*"))
	}
	contentFilter := wordFilters[0]
	if len(wordFilters) > 1 {
		contentFilter = filters.Where().
			WithOperator(filters.Or).
			WithOperands(wordFilters)
	}

	combined := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{chunkBaseFilter(tenantID, datasetIDs), contentFilter})

	result, err := s.client.GraphQL().Get().
		WithClassName(chunkClassName).
		WithFields(chunkFields()...).
		WithWhere(combined).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate keyword search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse keyword search results: %w", err)
	}
	return parsed.Get.Chunk, nil
}

// keywordTerms extracts search terms from a query, dropping words too short
// to carry signal. Capped so a long message cannot explode the filter tree.
func keywordTerms(query string) []string {
	const maxTerms = 8

	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) < 3 {
			continue
		}
		terms = append(terms, w)
		if len(terms) == maxTerms {
			break
		}
	}
	if len(terms) == 0 {
		slog.Debug("No usable keyword terms in query", "query_len", len(query))
	}
	return terms
}
