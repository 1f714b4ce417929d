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
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

type fakeSource struct {
	mu      sync.Mutex
	history []datatypes.StoredMessage
	titles  map[string]string
}

func newFakeSource(history ...datatypes.StoredMessage) *fakeSource {
	return &fakeSource{history: history, titles: make(map[string]string)}
}

func (f *fakeSource) History(context.Context, string, int) ([]datatypes.StoredMessage, error) {
	return f.history, nil
}

func (f *fakeSource) SetTitleOnce(_ context.Context, id, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titles[id] != "" {
		return false, nil
	}
	f.titles[id] = title
	return true, nil
}

func (f *fakeSource) title(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titles[id]
}

func exchange() []datatypes.StoredMessage {
	return []datatypes.StoredMessage{
		{Role: "user", Content: "How do I reset my password?", SequenceNumber: 1},
		{Role: "assistant", Content: "Use the forgot-password link.", SequenceNumber: 2},
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Password Reset Help", "Password Reset Help"},
		{"double quotes", `"Password Reset Help"`, "Password Reset Help"},
		{"single quotes", "'Password Reset Help'", "Password Reset Help"},
		{"title prefix", "Title: Password Reset Help", "Password Reset Help"},
		{"topic prefix", "TOPIC: Billing Questions", "Billing Questions"},
		{"whitespace", "  Billing Questions \n", "Billing Questions"},
		{"too short", "Hi", ""},
		{"too long", strings.Repeat("x", 101), ""},
		{"generic", "Conversation", ""},
		{"generic mixed case", "  CHAT  ", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanTitle(tt.raw))
		})
	}
}

func TestGenerate_StoresCleanedTitle(t *testing.T) {
	source := newFakeSource(exchange()...)
	var gotPrompt string
	gen := NewGenerator(source, func(_ context.Context, _ *datatypes.Bot, messages []datatypes.ChatMessage) (string, error) {
		require.Len(t, messages, 2)
		gotPrompt = messages[1].Content
		return `"Password Reset Help"`, nil
	})

	title, err := gen.Generate(context.Background(), &datatypes.Bot{ID: "b"}, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Password Reset Help", title)
	assert.Equal(t, "Password Reset Help", source.title("conv-1"))
	assert.Contains(t, gotPrompt, "User: How do I reset my password?")
	assert.Contains(t, gotPrompt, "Assistant: Use the forgot-password link.")
}

func TestGenerate_SkipsShortConversation(t *testing.T) {
	source := newFakeSource(datatypes.StoredMessage{Role: "user", Content: "hello"})
	called := false
	gen := NewGenerator(source, func(context.Context, *datatypes.Bot, []datatypes.ChatMessage) (string, error) {
		called = true
		return "Some Title", nil
	})

	title, err := gen.Generate(context.Background(), &datatypes.Bot{}, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, title)
	assert.False(t, called)
}

func TestGenerate_RejectsInvalidTitle(t *testing.T) {
	source := newFakeSource(exchange()...)
	gen := NewGenerator(source, func(context.Context, *datatypes.Bot, []datatypes.ChatMessage) (string, error) {
		return "chat", nil
	})

	title, err := gen.Generate(context.Background(), &datatypes.Bot{}, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, title)
	assert.Empty(t, source.title("conv-1"))
}

func TestGenerate_TitleSetOnlyOnce(t *testing.T) {
	source := newFakeSource(exchange()...)
	source.titles["conv-1"] = "Existing Title"
	gen := NewGenerator(source, func(context.Context, *datatypes.Bot, []datatypes.ChatMessage) (string, error) {
		return "New Title", nil
	})

	title, err := gen.Generate(context.Background(), &datatypes.Bot{}, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, title)
	assert.Equal(t, "Existing Title", source.title("conv-1"))
}

func TestGenerate_CompletionError(t *testing.T) {
	source := newFakeSource(exchange()...)
	gen := NewGenerator(source, func(context.Context, *datatypes.Bot, []datatypes.ChatMessage) (string, error) {
		return "", fmt.Errorf("provider down")
	})

	_, err := gen.Generate(context.Background(), &datatypes.Bot{}, "conv-1")
	assert.Error(t, err)
	assert.Empty(t, source.title("conv-1"))
}

func TestScheduler_AtMostOncePerConversation(t *testing.T) {
	source := newFakeSource(exchange()...)
	release := make(chan struct{})
	done := make(chan struct{}, 4)
	gen := NewGenerator(source, func(context.Context, *datatypes.Bot, []datatypes.ChatMessage) (string, error) {
		done <- struct{}{}
		<-release
		return "Password Reset Help", nil
	})

	s := NewScheduler(gen, SchedulerConfig{Workers: 1, Delay: -1})
	s.Start(context.Background())

	bot := &datatypes.Bot{ID: "b"}
	assert.True(t, s.Schedule(bot, "conv-1"))
	assert.False(t, s.Schedule(bot, "conv-1"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("title job never ran")
	}

	// Still in flight; the dedup entry holds until the job finishes.
	assert.False(t, s.Schedule(bot, "conv-1"))
	close(release)

	require.NoError(t, s.Close())
	assert.Equal(t, "Password Reset Help", source.title("conv-1"))

	// Only the first Schedule enqueued work.
	assert.Len(t, done, 0)
}

func TestScheduler_CompletedJobFreesDedupEntry(t *testing.T) {
	source := newFakeSource(exchange()...)
	done := make(chan struct{}, 4)
	gen := NewGenerator(source, func(context.Context, *datatypes.Bot, []datatypes.ChatMessage) (string, error) {
		done <- struct{}{}
		return "Password Reset Help", nil
	})

	s := NewScheduler(gen, SchedulerConfig{Workers: 1, Delay: -1})
	s.Start(context.Background())

	bot := &datatypes.Bot{ID: "b"}
	require.True(t, s.Schedule(bot, "conv-1"))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("title job never ran")
	}

	// Once the job finishes its entry is dropped; a re-schedule is
	// accepted but the store keeps the original title.
	require.Eventually(t, func() bool {
		return s.Schedule(bot, "conv-1")
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rescheduled job never ran")
	}

	require.NoError(t, s.Close())
	assert.Equal(t, "Password Reset Help", source.title("conv-1"))
}

func TestScheduler_ScheduleAfterCloseIsRejected(t *testing.T) {
	source := newFakeSource(exchange()...)
	gen := NewGenerator(source, func(context.Context, *datatypes.Bot, []datatypes.ChatMessage) (string, error) {
		return "Password Reset Help", nil
	})

	s := NewScheduler(gen, SchedulerConfig{Workers: 1, Delay: -1})
	s.Start(context.Background())
	require.NoError(t, s.Close())

	assert.False(t, s.Schedule(&datatypes.Bot{ID: "b"}, "conv-1"))
	require.NoError(t, s.Close())
	assert.Empty(t, source.title("conv-1"))
}

func TestScheduler_FailuresAreSwallowed(t *testing.T) {
	source := newFakeSource(exchange()...)
	done := make(chan struct{}, 1)
	gen := NewGenerator(source, func(context.Context, *datatypes.Bot, []datatypes.ChatMessage) (string, error) {
		done <- struct{}{}
		return "", fmt.Errorf("provider down")
	})

	s := NewScheduler(gen, SchedulerConfig{Workers: 1, Delay: -1})
	s.Start(context.Background())

	assert.True(t, s.Schedule(&datatypes.Bot{}, "conv-1"))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("title job never ran")
	}
	require.NoError(t, s.Close())
	assert.Empty(t, source.title("conv-1"))
}
