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
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCloud/services/ingest"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// DatasetResolver lists a tenant's active datasets.
type DatasetResolver interface {
	ActiveDatasets(ctx context.Context, tenantID string) ([]datatypes.Dataset, error)
}

// IngestQueue accepts background document ingestion work.
type IngestQueue interface {
	Enqueue(task ingest.Task) bool
}

// IngestDocumentRequest uploads one document into a dataset.
type IngestDocumentRequest struct {
	BotID     string   `json:"bot_id"`
	DatasetID string   `json:"dataset_id"`
	Title     string   `json:"title"`
	Source    string   `json:"source"`
	Tags      []string `json:"tags,omitempty"`
	Content   string   `json:"content"`
}

// HandleIngestDocument serves POST /v1/documents. Ingestion runs in the
// background; the response carries the document id to poll for status.
func HandleIngestDocument(queue IngestQueue, bots BotResolver, datasets DatasetResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}

		ctx := c.Request.Context()
		bot, ok := resolveBot(ctx, c, bots, req.BotID)
		if !ok {
			return
		}

		dataset, ok := findDataset(ctx, c, datasets, bot.TenantID, req.DatasetID)
		if !ok {
			return
		}

		hash := sha256.Sum256([]byte(req.Content))
		doc := datatypes.Document{
			ID:          datatypes.NewID(),
			DatasetID:   dataset.ID,
			Title:       req.Title,
			Source:      req.Source,
			Tags:        req.Tags,
			Status:      datatypes.DocumentPending,
			ContentHash: hex.EncodeToString(hash[:]),
		}

		accepted := queue.Enqueue(ingest.Task{
			Bot:      bot,
			Dataset:  dataset,
			Document: doc,
			Content:  req.Content,
		})
		if !accepted {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest queue is full"})
			return
		}

		slog.Info("Document accepted for ingestion",
			"document_id", doc.ID, "dataset_id", dataset.ID, "source", doc.Source)
		c.JSON(http.StatusAccepted, gin.H{
			"document_id": doc.ID,
			"status":      string(datatypes.DocumentPending),
		})
	}
}

// HandleDocumentStatus serves GET /v1/documents/:id/status.
func HandleDocumentStatus(tracker *ingest.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		status, errMsg := tracker.Status(id)

		body := gin.H{"document_id": id, "status": string(status)}
		if errMsg != "" {
			body["error"] = errMsg
		}
		c.JSON(http.StatusOK, body)
	}
}

func findDataset(ctx context.Context, c *gin.Context, datasets DatasetResolver, tenantID, datasetID string) (datatypes.Dataset, bool) {
	if datasetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dataset_id is required"})
		return datatypes.Dataset{}, false
	}
	active, err := datasets.ActiveDatasets(ctx, tenantID)
	if err != nil {
		slog.Error("Dataset lookup failed", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve dataset"})
		return datatypes.Dataset{}, false
	}
	for _, ds := range active {
		if ds.ID == datasetID {
			return ds, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "dataset not found or inactive"})
	return datatypes.Dataset{}, false
}
