// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns raw documents into embedded, retrievable chunks.
//
// A document moves pending -> processing -> completed or failed. Chunking
// and chunk metadata happen locally; embedding calls the bot's provider
// under a rate limiter so large documents cannot exhaust the tenant's API
// quota in one burst.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianCloud/services/llm"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

var tracer = otel.Tracer("aleutian.cloud.ingest")

const (
	defaultEmbedWorkers = 4
	// defaultEmbedRate caps embedding calls per second per service.
	defaultEmbedRate  = rate.Limit(10)
	defaultEmbedBurst = 10
)

// EmbedFunc produces an embedding vector for one chunk using the bot's
// provider credential.
type EmbedFunc func(ctx context.Context, bot *datatypes.Bot, text string) ([]float32, error)

// ProviderEmbed embeds through the bot's configured LLM provider.
func ProviderEmbed() EmbedFunc {
	return func(ctx context.Context, bot *datatypes.Bot, text string) ([]float32, error) {
		provider, err := llm.NewProvider(bot.Provider)
		if err != nil {
			return nil, err
		}
		return provider.Embed(ctx, "", text)
	}
}

// Tracker records document ingest status in memory.
//
// # Thread Safety
//
// Tracker is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]datatypes.DocumentStatus
	errors   map[string]string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		statuses: make(map[string]datatypes.DocumentStatus),
		errors:   make(map[string]string),
	}
}

// Set records a document's status, replacing any previous one.
func (t *Tracker) Set(documentID string, status datatypes.DocumentStatus, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[documentID] = status
	if errMsg == "" {
		delete(t.errors, documentID)
	} else {
		t.errors[documentID] = errMsg
	}
}

// Status returns a document's status. Unknown documents report pending.
func (t *Tracker) Status(documentID string) (datatypes.DocumentStatus, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.statuses[documentID]
	if !ok {
		return datatypes.DocumentPending, ""
	}
	return status, t.errors[documentID]
}

// Config assembles an ingest Service.
type Config struct {
	Writer ChunkWriter
	Embed  EmbedFunc

	// EmbedRate and EmbedBurst bound provider embedding calls. Zero
	// values take the defaults.
	EmbedRate  rate.Limit
	EmbedBurst int

	// Workers is the embedding concurrency per document.
	Workers int

	ChunkSize    int
	ChunkOverlap int
}

// Service chunks, embeds, and stores documents.
type Service struct {
	writer       ChunkWriter
	embed        EmbedFunc
	limiter      *rate.Limiter
	workers      int
	chunkSize    int
	chunkOverlap int
	tracker      *Tracker
}

// NewService builds a Service from cfg.
func NewService(cfg Config) *Service {
	if cfg.EmbedRate == 0 {
		cfg.EmbedRate = defaultEmbedRate
	}
	if cfg.EmbedBurst == 0 {
		cfg.EmbedBurst = defaultEmbedBurst
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultEmbedWorkers
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	return &Service{
		writer:       cfg.Writer,
		embed:        cfg.Embed,
		limiter:      rate.NewLimiter(cfg.EmbedRate, cfg.EmbedBurst),
		workers:      cfg.Workers,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		tracker:      NewTracker(),
	}
}

// Tracker exposes document status lookups.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// IngestDocument processes one document end to end and returns how many
// chunks were stored.
func (s *Service) IngestDocument(ctx context.Context, bot *datatypes.Bot, dataset datatypes.Dataset, doc datatypes.Document, content string) (int, error) {
	ctx, span := tracer.Start(ctx, "Ingest.IngestDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("dataset.id", dataset.ID),
	)

	s.tracker.Set(doc.ID, datatypes.DocumentProcessing, "")

	written, err := s.process(ctx, bot, dataset, doc, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		s.tracker.Set(doc.ID, datatypes.DocumentFailed, err.Error())
		return 0, err
	}

	s.tracker.Set(doc.ID, datatypes.DocumentCompleted, "")
	slog.Info("Document ingested",
		"document_id", doc.ID, "dataset_id", dataset.ID, "chunks", written)
	return written, nil
}

func (s *Service) process(ctx context.Context, bot *datatypes.Bot, dataset datatypes.Dataset, doc datatypes.Document, content string) (int, error) {
	chunks, err := splitDocument(&doc, content, s.chunkSize, s.chunkOverlap)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		slog.Warn("Document produced no chunks", "document_id", doc.ID)
		return 0, nil
	}

	vectors, err := s.embedAll(ctx, bot, chunks)
	if err != nil {
		return 0, err
	}

	batch := Batch{TenantID: bot.TenantID, Dataset: dataset, Document: doc}
	written, err := s.writer.WriteChunks(ctx, batch, chunks, vectors)
	if err != nil {
		return 0, err
	}
	if written < len(chunks) {
		return written, fmt.Errorf("stored %d of %d chunks for document %s", written, len(chunks), doc.ID)
	}
	return written, nil
}

// embedAll embeds every chunk, in order, with bounded concurrency. The
// rate limiter is shared service-wide so concurrent documents compete for
// the same provider budget.
func (s *Service) embedAll(ctx context.Context, bot *datatypes.Bot, chunks []datatypes.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range chunks {
		g.Go(func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			vec, err := s.embed(ctx, bot, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", chunks[i].ChunkIndex, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
