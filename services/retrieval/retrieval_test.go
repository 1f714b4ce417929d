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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

type fakeSearcher struct {
	vectorResults  []datatypes.ChunkResult
	vectorErr      error
	keywordResults []datatypes.ChunkResult
	keywordErr     error

	vectorDatasets  []string
	keywordDatasets []string
	vectorCalls     int
	keywordCalls    int
}

func (f *fakeSearcher) SearchNearVector(_ context.Context, _ string, datasetIDs []string, _ []float32, _ int) ([]datatypes.ChunkResult, error) {
	f.vectorCalls++
	f.vectorDatasets = datasetIDs
	return f.vectorResults, f.vectorErr
}

func (f *fakeSearcher) SearchKeyword(_ context.Context, _ string, datasetIDs []string, _ string, _ int) ([]datatypes.ChunkResult, error) {
	f.keywordCalls++
	f.keywordDatasets = datasetIDs
	return f.keywordResults, f.keywordErr
}

type fakeCatalog struct {
	datasets []datatypes.Dataset
	err      error
}

func (f *fakeCatalog) ActiveDatasets(context.Context, string) ([]datatypes.Dataset, error) {
	return f.datasets, f.err
}

func okEmbed(context.Context, *datatypes.Bot, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func failEmbed(context.Context, *datatypes.Bot, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding endpoint unreachable")
}

func chunkResult(docID, title, content string, certainty float32) datatypes.ChunkResult {
	r := datatypes.ChunkResult{
		Content:       content,
		DatasetID:     "ds-1",
		DatasetName:   "handbook",
		DocumentID:    docID,
		DocumentTitle: title,
	}
	r.Additional.ID = "chunk-" + docID
	r.Additional.Certainty = &certainty
	return r
}

func TestRetrieveContext_ExplicitDatasetsWinOverScopeFilters(t *testing.T) {
	searcher := &fakeSearcher{
		vectorResults: []datatypes.ChunkResult{chunkResult("doc-1", "Handbook", "refund policy", 0.9)},
	}
	catalog := &fakeCatalog{datasets: []datatypes.Dataset{
		{ID: "d2", IsActive: true, Tags: []string{"support"}},
	}}
	e := NewEngine(Config{Searcher: searcher, Catalog: catalog, Embed: okEmbed})

	bot := &datatypes.Bot{
		ID:       "bot-1",
		TenantID: "t-1",
		Datasets: []datatypes.Dataset{{ID: "d1", IsActive: true}},
		Scopes: []datatypes.Scope{{
			IsActive:       true,
			DatasetFilters: []datatypes.DatasetFilter{{Tags: []string{"support"}}},
		}},
	}

	citations := e.RetrieveContext(context.Background(), "how do refunds work", bot, 5)
	require.Len(t, citations, 1)
	assert.Equal(t, []string{"d1"}, searcher.vectorDatasets)
}

func TestRetrieveContext_ScopeFiltersSelectByTag(t *testing.T) {
	searcher := &fakeSearcher{}
	catalog := &fakeCatalog{datasets: []datatypes.Dataset{
		{ID: "d1", IsActive: true, Tags: []string{"billing"}},
		{ID: "d2", IsActive: true, Tags: []string{"support"}},
		{ID: "d3", IsActive: true, Tags: []string{"internal"}},
	}}
	e := NewEngine(Config{Searcher: searcher, Catalog: catalog, Embed: okEmbed})

	bot := &datatypes.Bot{
		ID:       "bot-1",
		TenantID: "t-1",
		Scopes: []datatypes.Scope{{
			IsActive: true,
			DatasetFilters: []datatypes.DatasetFilter{
				{Tags: []string{"billing"}},
				{Tags: []string{"support"}},
			},
		}},
	}

	e.RetrieveContext(context.Background(), "billing question", bot, 5)
	assert.Equal(t, []string{"d1", "d2"}, searcher.vectorDatasets)
}

func TestRetrieveContext_ScopeFiltersSelectByMetadata(t *testing.T) {
	searcher := &fakeSearcher{}
	catalog := &fakeCatalog{datasets: []datatypes.Dataset{
		{ID: "d1", IsActive: true, Metadata: map[string]string{"region": "eu"}},
		{ID: "d2", IsActive: true, Metadata: map[string]string{"region": "us"}},
	}}
	e := NewEngine(Config{Searcher: searcher, Catalog: catalog, Embed: okEmbed})

	bot := &datatypes.Bot{
		TenantID: "t-1",
		Scopes: []datatypes.Scope{{
			IsActive:       true,
			DatasetFilters: []datatypes.DatasetFilter{{Metadata: map[string]string{"region": "eu"}}},
		}},
	}

	e.RetrieveContext(context.Background(), "question", bot, 5)
	assert.Equal(t, []string{"d1"}, searcher.vectorDatasets)
}

func TestRetrieveContext_TenantWideFallback(t *testing.T) {
	searcher := &fakeSearcher{}
	catalog := &fakeCatalog{datasets: []datatypes.Dataset{
		{ID: "d1", IsActive: true},
		{ID: "d2", IsActive: true},
	}}
	e := NewEngine(Config{Searcher: searcher, Catalog: catalog, Embed: okEmbed})

	bot := &datatypes.Bot{TenantID: "t-1"}
	e.RetrieveContext(context.Background(), "anything", bot, 5)
	assert.Equal(t, []string{"d1", "d2"}, searcher.vectorDatasets)
}

func TestRetrieveContext_EmptyWhenNoDatasets(t *testing.T) {
	searcher := &fakeSearcher{}
	e := NewEngine(Config{Searcher: searcher, Catalog: &fakeCatalog{}, Embed: okEmbed})

	citations := e.RetrieveContext(context.Background(), "anything", &datatypes.Bot{TenantID: "t-1"}, 5)
	assert.NotNil(t, citations)
	assert.Empty(t, citations)
	assert.Zero(t, searcher.vectorCalls)
	assert.Zero(t, searcher.keywordCalls)
}

func TestRetrieveContext_EmbedFailureFallsBackToKeyword(t *testing.T) {
	searcher := &fakeSearcher{
		keywordResults: []datatypes.ChunkResult{chunkResult("doc-1", "Handbook", "reset instructions", 0)},
	}
	catalog := &fakeCatalog{datasets: []datatypes.Dataset{{ID: "d1", IsActive: true}}}
	e := NewEngine(Config{Searcher: searcher, Catalog: catalog, Embed: failEmbed})

	citations := e.RetrieveContext(context.Background(), "password reset", &datatypes.Bot{TenantID: "t-1"}, 5)
	require.Len(t, citations, 1)
	assert.Zero(t, searcher.vectorCalls)
	assert.Equal(t, 1, searcher.keywordCalls)
	assert.Equal(t, 0.5, citations[0].Score)
}

func TestRetrieveContext_VectorErrorFallsBackToKeyword(t *testing.T) {
	searcher := &fakeSearcher{
		vectorErr:      fmt.Errorf("weaviate down"),
		keywordResults: []datatypes.ChunkResult{chunkResult("doc-1", "Handbook", "text", 0)},
	}
	catalog := &fakeCatalog{datasets: []datatypes.Dataset{{ID: "d1", IsActive: true}}}
	e := NewEngine(Config{Searcher: searcher, Catalog: catalog, Embed: okEmbed})

	citations := e.RetrieveContext(context.Background(), "question", &datatypes.Bot{TenantID: "t-1"}, 5)
	require.Len(t, citations, 1)
	assert.Equal(t, 1, searcher.vectorCalls)
	assert.Equal(t, 1, searcher.keywordCalls)
}

func TestRetrieveContext_EmptyWhenEverythingFails(t *testing.T) {
	searcher := &fakeSearcher{
		vectorErr:  fmt.Errorf("weaviate down"),
		keywordErr: fmt.Errorf("still down"),
	}
	catalog := &fakeCatalog{datasets: []datatypes.Dataset{{ID: "d1", IsActive: true}}}
	e := NewEngine(Config{Searcher: searcher, Catalog: catalog, Embed: okEmbed})

	citations := e.RetrieveContext(context.Background(), "question", &datatypes.Bot{TenantID: "t-1"}, 5)
	assert.NotNil(t, citations)
	assert.Empty(t, citations)
}

func TestRetrieveContext_ScoresClampedAndMetadataPopulated(t *testing.T) {
	tagged := chunkResult("doc-1", "Handbook", "a", 0.99)
	tagged.DocumentSource = "handbook.md"
	tagged.DocumentTags = "policies,refunds"
	idx := 4
	tagged.ChunkIndex = &idx

	searcher := &fakeSearcher{
		vectorResults: []datatypes.ChunkResult{
			tagged,
			chunkResult("doc-2", "FAQ", "b", 0.02),
			chunkResult("doc-3", "Guide", "c", 0.7),
		},
	}
	catalog := &fakeCatalog{datasets: []datatypes.Dataset{{ID: "d1", IsActive: true}}}
	e := NewEngine(Config{Searcher: searcher, Catalog: catalog, Embed: okEmbed})

	citations := e.RetrieveContext(context.Background(), "question", &datatypes.Bot{TenantID: "t-1"}, 5)
	require.Len(t, citations, 3)
	assert.Equal(t, 0.95, citations[0].Score)
	assert.Equal(t, 0.1, citations[1].Score)
	assert.InDelta(t, 0.7, citations[2].Score, 1e-6)
	assert.Equal(t, "handbook", citations[0].Metadata["dataset_name"])
	assert.Equal(t, "handbook.md", citations[0].Metadata["document_source"])
	assert.Equal(t, "policies,refunds", citations[0].Metadata["document_tags"])
	assert.Equal(t, "4", citations[0].Metadata["chunk_index"])
	assert.Equal(t, "chunk-doc-1", citations[0].ChunkID)

	// Untagged chunks carry no empty placeholder keys.
	assert.NotContains(t, citations[1].Metadata, "document_tags")
}

func TestKeywordTerms(t *testing.T) {
	terms := keywordTerms("How do I reset my password?")
	assert.Equal(t, []string{"how", "reset", "password"}, terms)

	assert.Empty(t, keywordTerms("a b c"))
}
