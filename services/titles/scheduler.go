// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package titles

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/observability"
)

const (
	defaultWorkers = 2
	defaultBuffer  = 64

	// defaultDelay lets the appending transaction and any read replicas
	// settle before the title job reads the conversation back.
	defaultDelay = 2 * time.Second
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Workers is the number of concurrent title jobs. Zero means 2.
	Workers int

	// Buffer is the job queue depth. When full, Schedule drops the job
	// rather than block a chat turn. Zero means 64.
	Buffer int

	// Delay is how long a job waits before reading the conversation.
	// Negative disables the delay (tests); zero means 2s.
	Delay time.Duration
}

type titleJob struct {
	bot            *datatypes.Bot
	conversationID string
}

// Scheduler runs title generation out-of-band from chat turns.
//
// # Description
//
// Schedule is at-most-once per conversation: repeat calls for the same
// conversation ID are ignored while its job is queued or running, and the
// store refuses a second title afterwards, so only the first completed
// exchange of a conversation ever produces a title. Completed jobs drop
// their dedup entry so the map does not grow with process age. Job
// failures are logged and swallowed.
//
// # Thread Safety
//
// Safe for concurrent use after Start.
type Scheduler struct {
	gen     *Generator
	jobs    chan titleJob
	workers int
	delay   time.Duration

	mu        sync.Mutex
	scheduled map[string]bool
	closed    bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewScheduler constructs a stopped Scheduler; call Start before Schedule.
func NewScheduler(gen *Generator, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	switch {
	case cfg.Delay < 0:
		cfg.Delay = 0
	case cfg.Delay == 0:
		cfg.Delay = defaultDelay
	}

	return &Scheduler{
		gen:       gen,
		jobs:      make(chan titleJob, cfg.Buffer),
		workers:   cfg.Workers,
		delay:     cfg.Delay,
		scheduled: make(map[string]bool),
	}
}

// Start launches the worker pool. Workers exit when the context is
// cancelled or Close is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < s.workers; i++ {
		s.group.Go(func() error {
			s.run(ctx)
			return nil
		})
	}
}

// Schedule enqueues a title job for the conversation. Returns false when
// the scheduler is closed, the conversation is already in flight, or the
// queue is full. The send happens under the mutex so Close can never
// close the channel between the check and the send.
func (s *Scheduler) Schedule(bot *datatypes.Bot, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.scheduled[conversationID] {
		return false
	}
	select {
	case s.jobs <- titleJob{bot: bot, conversationID: conversationID}:
		s.scheduled[conversationID] = true
		return true
	default:
		slog.Warn("Title queue full, dropping job", "conversation_id", conversationID)
		return false
	}
}

// Close stops accepting jobs, drains in-flight workers, and returns once
// they exit. Safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	if s.group == nil {
		return nil
	}
	err := s.group.Wait()
	s.cancel()
	return err
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			s.process(ctx, job)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, job titleJob) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}

	title, err := s.gen.Generate(ctx, job.bot, job.conversationID)
	switch {
	case err != nil:
		slog.Error("Background title generation failed",
			"conversation_id", job.conversationID, "error", err)
		recordTitle("failed")
		// A failed conversation keeps its dedup entry; the title stays
		// unset and the job must not loop.
		return
	case title != "":
		slog.Info("Generated conversation title",
			"conversation_id", job.conversationID, "title", title)
		recordTitle("generated")
	default:
		recordTitle("skipped")
	}

	// The store refuses a second title, so the entry is safe to drop once
	// the job has run.
	s.mu.Lock()
	delete(s.scheduled, job.conversationID)
	s.mu.Unlock()
}

func recordTitle(status string) {
	if m := observability.Default; m != nil {
		m.RecordTitle(status)
	}
}
