// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package titles generates short conversation titles out-of-band after the
// first complete exchange. Title generation is best-effort: failures are
// logged and never affect the chat turn that scheduled them.
package titles

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianCloud/services/llm"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

const (
	// titleContextMessages is how many leading messages feed the title
	// prompt; two exchanges are plenty to name a conversation.
	titleContextMessages = 4

	// historyFetchLimit bounds how much history is loaded to build that
	// context.
	historyFetchLimit = 6

	minTitleLen = 3
	maxTitleLen = 100
)

const titleSystemPrompt = `You are a helpful assistant that generates concise, descriptive titles for conversations.

Your task is to analyze the conversation and create a short, meaningful title that captures the main topic or question being discussed.

Guidelines:
- Keep titles between 3-8 words
- Make titles descriptive and specific
- Avoid generic titles like "Chat" or "Conversation"
- Focus on the main topic, question, or problem being discussed
- Use title case (capitalize important words)
- Don't use quotes around the title
- If it's a question, you can include "About" or similar prepositions

Examples:
- "Python List Comprehension Help"
- "Database Query Optimization Tips"
- "React Component State Management"
- "Travel Recommendations for Tokyo"
- "Recipe for Chocolate Cake"
- "Investment Portfolio Advice"

Respond with ONLY the title, nothing else.`

// ConversationSource is the slice of the conversation store the generator
// needs.
type ConversationSource interface {
	History(ctx context.Context, conversationID string, limit int) ([]datatypes.StoredMessage, error)
	SetTitleOnce(ctx context.Context, conversationID, title string) (bool, error)
}

// CompleteFunc produces a completion for the title prompt.
type CompleteFunc func(ctx context.Context, bot *datatypes.Bot, messages []datatypes.ChatMessage) (string, error)

// ProviderComplete returns a CompleteFunc backed by the bot's own provider.
func ProviderComplete() CompleteFunc {
	return func(ctx context.Context, bot *datatypes.Bot, messages []datatypes.ChatMessage) (string, error) {
		provider, err := llm.NewProvider(bot.Provider)
		if err != nil {
			return "", err
		}
		temp := bot.Temperature
		text, _, err := provider.Complete(ctx, bot.Model, messages, llm.GenerationParams{
			Temperature: &temp,
		})
		return text, err
	}
}

// Generator produces conversation titles from the opening exchange.
type Generator struct {
	source   ConversationSource
	complete CompleteFunc
}

// NewGenerator constructs a Generator. A nil complete falls back to the
// bot's provider.
func NewGenerator(source ConversationSource, complete CompleteFunc) *Generator {
	if complete == nil {
		complete = ProviderComplete()
	}
	return &Generator{source: source, complete: complete}
}

// Generate creates and stores a title for the conversation.
//
// Returns the stored title, or "" when the conversation is too short, the
// model output fails validation, or another writer already set a title.
// Only transport-level failures return an error.
func (g *Generator) Generate(ctx context.Context, bot *datatypes.Bot, conversationID string) (string, error) {
	history, err := g.source.History(ctx, conversationID, 0)
	if err != nil {
		return "", fmt.Errorf("load history for title: %w", err)
	}
	if len(history) > historyFetchLimit {
		history = history[:historyFetchLimit]
	}
	if len(history) < 2 {
		return "", nil
	}

	transcript := buildTitleContext(history)
	raw, err := g.complete(ctx, bot, []datatypes.ChatMessage{
		{Role: "system", Content: titleSystemPrompt},
		{Role: "user", Content: "Conversation to summarize:\n\n" + transcript},
	})
	if err != nil {
		return "", fmt.Errorf("title completion failed: %w", err)
	}

	title := CleanTitle(raw)
	if title == "" {
		return "", nil
	}

	set, err := g.source.SetTitleOnce(ctx, conversationID, title)
	if err != nil {
		return "", fmt.Errorf("store title: %w", err)
	}
	if !set {
		return "", nil
	}
	return title, nil
}

// buildTitleContext renders the opening messages as a transcript.
func buildTitleContext(history []datatypes.StoredMessage) string {
	var lines []string
	for _, msg := range history {
		if len(lines) == titleContextMessages {
			break
		}
		switch msg.Role {
		case "user":
			lines = append(lines, "User: "+msg.Content)
		case "assistant":
			lines = append(lines, "Assistant: "+msg.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// titlePrefixes are boilerplate lead-ins models add despite being told not
// to.
var titlePrefixes = []string{
	"Title: ", "TITLE: ", "title: ",
	"Generated title: ", "Conversation title: ",
	"Chat title: ", "Topic: ", "TOPIC: ",
}

// genericTitles are rejected outright; a title that vague is worse than
// none.
var genericTitles = map[string]bool{
	"conversation": true,
	"chat":         true,
	"discussion":   true,
	"talk":         true,
	"question":     true,
	"help":         true,
	"assistance":   true,
	"support":      true,
}

// CleanTitle normalizes raw model output into a usable title, or "" when
// the output fails validation.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)

	if len(title) >= 2 && title[0] == '"' && title[len(title)-1] == '"' {
		title = title[1 : len(title)-1]
	}
	if len(title) >= 2 && title[0] == '\'' && title[len(title)-1] == '\'' {
		title = title[1 : len(title)-1]
	}

	for _, prefix := range titlePrefixes {
		if strings.HasPrefix(title, prefix) {
			title = strings.TrimSpace(title[len(prefix):])
			break
		}
	}

	if len(title) < minTitleLen || len(title) > maxTitleLen {
		return ""
	}
	if genericTitles[strings.ToLower(strings.TrimSpace(title))] {
		return ""
	}
	return title
}
