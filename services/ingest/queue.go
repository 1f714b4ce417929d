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
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

const (
	defaultQueueWorkers = 2
	defaultQueueBuffer  = 32
)

// Task is one document waiting to be ingested.
type Task struct {
	Bot      *datatypes.Bot
	Dataset  datatypes.Dataset
	Document datatypes.Document
	Content  string
}

// QueueConfig tunes the background ingest queue.
type QueueConfig struct {
	Workers int
	Buffer  int
}

// Queue runs document ingestion in the background.
//
// # Description
//
// Enqueue is non-blocking: a full queue drops the task and reports false
// so upload handlers never stall on ingest backpressure. A document
// already queued is not queued twice; it becomes eligible again once its
// run finishes.
type Queue struct {
	svc     *Service
	jobs    chan Task
	workers int

	mu     sync.Mutex
	queued map[string]bool

	g      *errgroup.Group
	cancel context.CancelFunc
}

// NewQueue creates a stopped queue; call Start before Enqueue.
func NewQueue(svc *Service, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultQueueWorkers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultQueueBuffer
	}
	return &Queue{
		svc:     svc,
		jobs:    make(chan Task, cfg.Buffer),
		workers: cfg.Workers,
		queued:  make(map[string]bool),
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	q.g = g
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.run(ctx)
			return nil
		})
	}
}

// Enqueue queues a document for ingestion. Returns false when the queue
// is full or the document is already queued.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	if q.queued[task.Document.ID] {
		q.mu.Unlock()
		return false
	}
	q.queued[task.Document.ID] = true
	q.mu.Unlock()

	q.svc.Tracker().Set(task.Document.ID, datatypes.DocumentPending, "")
	select {
	case q.jobs <- task:
		return true
	default:
		q.release(task.Document.ID)
		slog.Warn("Ingest queue full, dropping document",
			"document_id", task.Document.ID)
		return false
	}
}

// Close stops accepting tasks, drains the queue, and waits for workers.
func (q *Queue) Close() {
	close(q.jobs)
	if q.g != nil {
		_ = q.g.Wait()
	}
	if q.cancel != nil {
		q.cancel()
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.jobs:
			if !ok {
				return
			}
			q.process(ctx, task)
		}
	}
}

func (q *Queue) process(ctx context.Context, task Task) {
	defer q.release(task.Document.ID)

	if _, err := q.svc.IngestDocument(ctx, task.Bot, task.Dataset, task.Document, task.Content); err != nil {
		slog.Error("Background ingest failed",
			"document_id", task.Document.ID, "error", err)
	}
}

func (q *Queue) release(documentID string) {
	q.mu.Lock()
	delete(q.queued, documentID)
	q.mu.Unlock()
}
