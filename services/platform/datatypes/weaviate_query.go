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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern needed to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must carry json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if the response is nil or parsing fails.
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// ChunkQueryResponse is the shape of a Chunk-class retrieval query.
type ChunkQueryResponse struct {
	Get struct {
		Chunk []ChunkResult `json:"Chunk"`
	} `json:"Get"`
}

// ChunkResult is a single chunk row from a retrieval query.
type ChunkResult struct {
	Content        string `json:"content"`
	TenantID       string `json:"tenant_id"`
	DatasetID      string `json:"dataset_id"`
	DatasetName    string `json:"dataset_name"`
	DocumentID     string `json:"document_id"`
	DocumentTitle  string `json:"document_title"`
	DocumentSource string `json:"document_source"`
	DocumentStatus string `json:"document_status"`
	DocumentTags   string `json:"document_tags"`
	ChunkIndex     *int   `json:"chunk_index"`
	TokenCount     *int   `json:"token_count"`
	HasEmbedding   *bool  `json:"has_embedding"`
	Additional     struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// ChunkProperties is the property set for creating a Chunk object.
//
// DocumentTags is a comma-joined string because the retrieval filters only
// ever match whole documents; tag predicates are resolved against the
// relational dataset records before the vector query runs.
type ChunkProperties struct {
	Content        string `json:"content"`
	TenantID       string `json:"tenant_id"`
	DatasetID      string `json:"dataset_id"`
	DatasetName    string `json:"dataset_name"`
	DocumentID     string `json:"document_id"`
	DocumentTitle  string `json:"document_title"`
	DocumentSource string `json:"document_source"`
	DocumentStatus string `json:"document_status"`
	DocumentTags   string `json:"document_tags"`
	ChunkIndex     int    `json:"chunk_index"`
	TokenCount     int    `json:"token_count"`
	StartChar      int    `json:"start_char"`
	EndChar        int    `json:"end_char"`
	HasEmbedding   bool   `json:"has_embedding"`
}

// ToMap converts ChunkProperties to the map format required by the Weaviate
// client's WithProperties() method.
func (p *ChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":         p.Content,
		"tenant_id":       p.TenantID,
		"dataset_id":      p.DatasetID,
		"dataset_name":    p.DatasetName,
		"document_id":     p.DocumentID,
		"document_title":  p.DocumentTitle,
		"document_source": p.DocumentSource,
		"document_status": p.DocumentStatus,
		"document_tags":   p.DocumentTags,
		"chunk_index":     p.ChunkIndex,
		"token_count":     p.TokenCount,
		"start_char":      p.StartChar,
		"end_char":        p.EndChar,
		"has_embedding":   p.HasEmbedding,
	}
}
