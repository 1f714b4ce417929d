// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCloud/services/guardrail"
	"github.com/AleutianAI/AleutianCloud/services/llm"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/store"
	"github.com/AleutianAI/AleutianCloud/services/prompt"
)

// fakeProvider scripts LLM behavior for pipeline tests.
type fakeProvider struct {
	completeText string
	completeErr  error
	streamTokens []string
	streamErr    error
	usage        datatypes.TokenUsage

	mu           sync.Mutex
	completeCall int
	lastMessages []datatypes.ChatMessage
}

func (f *fakeProvider) Complete(_ context.Context, _ string, messages []datatypes.ChatMessage, _ llm.GenerationParams) (string, datatypes.TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCall++
	f.lastMessages = messages
	if f.completeErr != nil {
		return "", datatypes.TokenUsage{}, f.completeErr
	}
	return f.completeText, f.usage, nil
}

func (f *fakeProvider) Stream(_ context.Context, _ string, messages []datatypes.ChatMessage, _ llm.GenerationParams, fn func(llm.StreamChunk) error) error {
	f.mu.Lock()
	f.lastMessages = messages
	f.mu.Unlock()
	for _, tok := range f.streamTokens {
		if err := fn(llm.StreamChunk{Content: tok}); err != nil {
			return err
		}
	}
	if f.streamErr != nil {
		return f.streamErr
	}
	usage := f.usage
	return fn(llm.StreamChunk{Usage: &usage})
}

func (f *fakeProvider) Embed(context.Context, string, string) ([]float32, error) {
	return nil, fmt.Errorf("not used")
}

type fakeRetriever struct {
	citations []datatypes.Citation
	calls     int
}

func (f *fakeRetriever) RetrieveContext(context.Context, string, *datatypes.Bot, int) []datatypes.Citation {
	f.calls++
	if f.citations == nil {
		return []datatypes.Citation{}
	}
	return f.citations
}

type fakeTitles struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTitles) Schedule(_ *datatypes.Bot, conversationID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, conversationID)
	return true
}

// recordingWriter captures stream frames in order.
type recordingWriter struct {
	frames []string
	tokens []string
	usage  datatypes.TokenUsage
}

func (w *recordingWriter) WriteStart(string) error { w.frames = append(w.frames, "start"); return nil }

func (w *recordingWriter) WriteCitations([]datatypes.Citation) error {
	w.frames = append(w.frames, "citations")
	return nil
}

func (w *recordingWriter) WriteToken(content string) error {
	w.frames = append(w.frames, "token")
	w.tokens = append(w.tokens, content)
	return nil
}

func (w *recordingWriter) WriteDone(usage datatypes.TokenUsage) error {
	w.frames = append(w.frames, "done")
	w.usage = usage
	return nil
}

func (w *recordingWriter) WriteError(string) error {
	w.frames = append(w.frames, "error")
	return nil
}

type fixture struct {
	pipeline  *Pipeline
	store     *store.ConversationStore
	provider  *fakeProvider
	retriever *fakeRetriever
	titles    *fakeTitles
}

func newFixture(t *testing.T, provider *fakeProvider, retriever *fakeRetriever) *fixture {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	convStore := store.NewConversationStore(db)
	engine := guardrail.NewEngine(guardrail.Config{Sampler: guardrail.FixedSampler{}})
	titles := &fakeTitles{}

	p := New(Config{
		Guardrails: engine,
		Retriever:  retriever,
		Prompts:    prompt.NewAssembler(engine),
		Store:      convStore,
		Titles:     titles,
		NewProvider: func(*datatypes.ProviderConfig) (llm.Provider, error) {
			return provider, nil
		},
	})
	return &fixture{pipeline: p, store: convStore, provider: provider, retriever: retriever, titles: titles}
}

func testBot() *datatypes.Bot {
	return &datatypes.Bot{
		ID:           datatypes.NewID(),
		TenantID:     datatypes.NewID(),
		Name:         "Support Bot",
		SystemPrompt: "You are a helpful support assistant.",
		Model:        "gpt-4o-mini",
		IsActive:     true,
	}
}

func chatRequest(bot *datatypes.Bot, content string) *datatypes.ChatRequest {
	return &datatypes.ChatRequest{
		BotID:    bot.ID,
		Messages: []datatypes.ChatMessage{{Role: "user", Content: content}},
	}
}

func TestProcess_HappyPath(t *testing.T) {
	provider := &fakeProvider{
		completeText: "Refunds take 5 business days.",
		usage:        datatypes.TokenUsage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30},
	}
	retriever := &fakeRetriever{citations: []datatypes.Citation{
		{DocumentID: "doc-1", DocumentTitle: "Handbook", Content: "refund policy", Score: 0.9},
	}}
	f := newFixture(t, provider, retriever)
	bot := testBot()

	resp, err := f.pipeline.Process(context.Background(), bot, chatRequest(bot, "How long do refunds take?"))
	require.NoError(t, err)
	assert.Equal(t, "Refunds take 5 business days.", resp.Message.Content)
	assert.Equal(t, "assistant", resp.Message.Role)
	assert.Len(t, resp.Citations, 1)
	assert.Equal(t, 30, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.SessionID)

	// The system prompt includes the retrieved context.
	require.Equal(t, "system", provider.lastMessages[0].Role)
	assert.Contains(t, provider.lastMessages[0].Content, "Source 1: Handbook")

	// Exchange persisted and title scheduled exactly once.
	assert.Len(t, f.titles.calls, 1)
}

func TestProcess_BlockedQueryShortCircuits(t *testing.T) {
	provider := &fakeProvider{completeText: "should never run"}
	f := newFixture(t, provider, &fakeRetriever{})
	bot := testBot()
	bot.Scopes = []datatypes.Scope{{
		Name:     "support",
		IsActive: true,
		Guardrails: datatypes.Guardrails{
			Strictness:    datatypes.StrictnessModerate,
			AllowedTopics: []string{"billing", "support"},
		},
	}}

	resp, err := f.pipeline.Process(context.Background(), bot, chatRequest(bot, "What's the weather today?"))
	require.NoError(t, err)

	// Looks like a normal answer: redirect content, empty citations, zero usage.
	assert.NotEmpty(t, resp.Message.Content)
	assert.NotEqual(t, "should never run", resp.Message.Content)
	assert.NotNil(t, resp.Citations)
	assert.Empty(t, resp.Citations)
	assert.Zero(t, resp.Usage.TotalTokens)

	assert.Zero(t, provider.completeCall)
	assert.Zero(t, f.retriever.calls)

	// The redirect exchange is persisted and still counts as first exchange.
	assert.Len(t, f.titles.calls, 1)
}

func TestProcess_TitleScheduledOnlyOnFirstExchange(t *testing.T) {
	provider := &fakeProvider{completeText: "answer"}
	f := newFixture(t, provider, &fakeRetriever{})
	bot := testBot()

	first, err := f.pipeline.Process(context.Background(), bot, chatRequest(bot, "hello"))
	require.NoError(t, err)

	req := chatRequest(bot, "follow up")
	req.SessionID = first.SessionID
	_, err = f.pipeline.Process(context.Background(), bot, req)
	require.NoError(t, err)

	assert.Len(t, f.titles.calls, 1)
}

func TestProcess_EfficientModeReplaysHistory(t *testing.T) {
	provider := &fakeProvider{completeText: "second answer"}
	f := newFixture(t, provider, &fakeRetriever{})
	bot := testBot()

	first, err := f.pipeline.Process(context.Background(), bot, chatRequest(bot, "first question"))
	require.NoError(t, err)

	req := chatRequest(bot, "second question")
	req.SessionID = first.SessionID
	_, err = f.pipeline.Process(context.Background(), bot, req)
	require.NoError(t, err)

	// system + replayed (user, assistant) + new user message.
	contents := make([]string, 0, len(provider.lastMessages))
	for _, m := range provider.lastMessages {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "first question")
	assert.Contains(t, contents, "answer")
	assert.Equal(t, "second question", contents[len(contents)-1])
}

// historyFailingStore is a real store whose history reads always fail.
type historyFailingStore struct {
	*store.ConversationStore
}

func (s *historyFailingStore) History(context.Context, string, int) ([]datatypes.StoredMessage, error) {
	return nil, fmt.Errorf("history read failed")
}

func TestProcess_HistoryFailureDegradesToSingleMessage(t *testing.T) {
	provider := &fakeProvider{completeText: "second answer"}
	f := newFixture(t, provider, &fakeRetriever{})
	bot := testBot()

	first, err := f.pipeline.Process(context.Background(), bot, chatRequest(bot, "first question"))
	require.NoError(t, err)

	f.pipeline.store = &historyFailingStore{ConversationStore: f.store}

	req := chatRequest(bot, "second question")
	req.SessionID = first.SessionID
	resp, err := f.pipeline.Process(context.Background(), bot, req)
	require.NoError(t, err)
	assert.Equal(t, "second answer", resp.Message.Content)

	// System prompt plus only the incoming message; nothing replayed.
	require.Len(t, provider.lastMessages, 2)
	assert.Equal(t, "second question", provider.lastMessages[1].Content)
}

func TestProcess_WidgetModeDoesNotReplayHistory(t *testing.T) {
	provider := &fakeProvider{completeText: "answer"}
	f := newFixture(t, provider, &fakeRetriever{})
	bot := testBot()

	first, err := f.pipeline.Process(context.Background(), bot, chatRequest(bot, "first question"))
	require.NoError(t, err)

	req := &datatypes.ChatRequest{
		BotID:     bot.ID,
		SessionID: first.SessionID,
		Messages: []datatypes.ChatMessage{
			{Role: "user", Content: "first question"},
			{Role: "assistant", Content: "answer"},
			{Role: "user", Content: "second question"},
		},
	}
	_, err = f.pipeline.Process(context.Background(), bot, req)
	require.NoError(t, err)

	// system + the 3 client-supplied messages, nothing replayed on top.
	require.Len(t, provider.lastMessages, 4)
}

func TestProcess_ProviderErrorSurfacesAndPersistsNothing(t *testing.T) {
	provider := &fakeProvider{
		completeErr: &llm.ProviderUnavailableError{Provider: "openai", Op: "complete", Err: fmt.Errorf("rate limited")},
	}
	f := newFixture(t, provider, &fakeRetriever{})
	bot := testBot()

	req := chatRequest(bot, "hello")
	_, err := f.pipeline.Process(context.Background(), bot, req)
	require.Error(t, err)
	assert.True(t, llm.IsProviderUnavailable(err))
	assert.Empty(t, f.titles.calls)
}

func TestProcess_RejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, &fakeRetriever{})
	bot := testBot()

	_, err := f.pipeline.Process(context.Background(), bot, &datatypes.ChatRequest{BotID: bot.ID})
	assert.Error(t, err)
}

func TestProcessStream_FrameOrder(t *testing.T) {
	provider := &fakeProvider{
		streamTokens: []string{"Refunds ", "take ", "5 days."},
		usage:        datatypes.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	retriever := &fakeRetriever{citations: []datatypes.Citation{
		{DocumentID: "doc-1", DocumentTitle: "Handbook", Content: "refund policy", Score: 0.9},
	}}
	f := newFixture(t, provider, retriever)
	bot := testBot()

	w := &recordingWriter{}
	err := f.pipeline.ProcessStream(context.Background(), bot, chatRequest(bot, "How long do refunds take?"), w)
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "citations", "token", "token", "token", "done"}, w.frames)
	assert.Equal(t, []string{"Refunds ", "take ", "5 days."}, w.tokens)
	assert.Equal(t, 15, w.usage.TotalTokens)
	assert.Len(t, f.titles.calls, 1)
}

func TestProcessStream_BlockedQueryStreamsRedirect(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, &fakeRetriever{})
	bot := testBot()
	bot.Scopes = []datatypes.Scope{{
		Name:     "support",
		IsActive: true,
		Guardrails: datatypes.Guardrails{
			Strictness:    datatypes.StrictnessModerate,
			AllowedTopics: []string{"billing"},
		},
	}}

	w := &recordingWriter{}
	err := f.pipeline.ProcessStream(context.Background(), bot, chatRequest(bot, "What's the weather today?"), w)
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "token", "done"}, w.frames)
	assert.Zero(t, w.usage.TotalTokens)
}

func TestProcessStream_MidStreamErrorPersistsNothing(t *testing.T) {
	provider := &fakeProvider{
		streamTokens: []string{"partial "},
		streamErr:    &llm.ProviderUnavailableError{Provider: "openai", Op: "stream", Err: fmt.Errorf("connection reset")},
	}
	f := newFixture(t, provider, &fakeRetriever{})
	bot := testBot()

	w := &recordingWriter{}
	err := f.pipeline.ProcessStream(context.Background(), bot, chatRequest(bot, "hello"), w)
	require.Error(t, err)

	// The delta already written stays written; an error frame follows it.
	assert.Equal(t, []string{"start", "token", "error"}, w.frames)
	assert.Empty(t, f.titles.calls)
}
