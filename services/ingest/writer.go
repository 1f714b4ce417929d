// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

const chunkClassName = "Chunk"

// Batch carries the document and dataset context every chunk in one write
// shares.
type Batch struct {
	TenantID string
	Dataset  datatypes.Dataset
	Document datatypes.Document
}

// ChunkWriter persists embedded chunks to the vector store.
type ChunkWriter interface {
	// WriteChunks stores chunks with their vectors and returns how many
	// were accepted. vectors[i] belongs to chunks[i].
	WriteChunks(ctx context.Context, batch Batch, chunks []datatypes.Chunk, vectors [][]float32) (int, error)
}

// WeaviateChunkWriter writes chunks as Chunk objects with the properties
// the retrieval layer filters and reads.
type WeaviateChunkWriter struct {
	client *weaviate.Client
}

// NewWeaviateChunkWriter wraps a connected Weaviate client.
func NewWeaviateChunkWriter(client *weaviate.Client) *WeaviateChunkWriter {
	return &WeaviateChunkWriter{client: client}
}

var _ ChunkWriter = (*WeaviateChunkWriter)(nil)

func (w *WeaviateChunkWriter) WriteChunks(ctx context.Context, batch Batch, chunks []datatypes.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("chunk count %d does not match vector count %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class:  chunkClassName,
			ID:     strfmt.UUID(chunkObjectID(batch.Document.ID, chunk.ChunkIndex)),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":         chunk.Content,
				"tenant_id":       batch.TenantID,
				"dataset_id":      batch.Dataset.ID,
				"dataset_name":    batch.Dataset.Name,
				"document_id":     batch.Document.ID,
				"document_title":  batch.Document.Title,
				"document_source": batch.Document.Source,
				"document_tags":   batch.Document.Tags,
				"document_status": string(datatypes.DocumentCompleted),
				"has_embedding":   true,
				"chunk_index":     chunk.ChunkIndex,
				"token_count":     chunk.TokenCount,
				"start_char":      chunk.StartChar,
				"end_char":        chunk.EndChar,
				"ingested_at":     now,
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import to weaviate: %w", err)
	}

	written := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			written++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Weaviate batch item failed",
					"document_id", batch.Document.ID, "error", e.Message)
			}
		}
	}
	return written, nil
}

// chunkObjectID derives a stable UUID from the document and chunk ordinal
// so re-ingesting a document overwrites its chunks instead of duplicating
// them.
func chunkObjectID(documentID string, chunkIndex int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", documentID, chunkIndex)))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}
