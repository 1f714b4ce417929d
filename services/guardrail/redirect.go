// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianCloud/services/llm"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

// redirectModel phrases redirect messages. Cheap and fast beats clever here;
// the text is discarded conversational filler.
const redirectModel = "gpt-3.5-turbo"

// =============================================================================
// Topic Sampling
// =============================================================================

// TopicSampler picks example topics for redirect messages. Isolated as an
// interface so tests can pin the selection.
type TopicSampler interface {
	// Sample returns between min and max topics from the list, fewer if the
	// list is shorter. Order of the result is unspecified.
	Sample(topics []string, min, max int) []string
}

type randSampler struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandSampler returns a seeded TopicSampler.
func NewRandSampler(seed int64) TopicSampler {
	return &randSampler{r: rand.New(rand.NewSource(seed))}
}

func (s *randSampler) Sample(topics []string, min, max int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(topics) == 0 {
		return nil
	}
	if min > max {
		min = max
	}
	n := min
	if max > min {
		n = min + s.r.Intn(max-min+1)
	}
	if n > len(topics) {
		n = len(topics)
	}

	shuffled := make([]string, len(topics))
	copy(shuffled, topics)
	s.r.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

// FixedSampler always returns the first min topics, for deterministic tests.
type FixedSampler struct{}

func (FixedSampler) Sample(topics []string, min, max int) []string {
	if min > len(topics) {
		min = len(topics)
	}
	return topics[:min]
}

// =============================================================================
// LLM Phrasing
// =============================================================================

// PhraseRequest carries everything an LLM needs to phrase a redirect.
type PhraseRequest struct {
	Bot           *datatypes.Bot
	Query         string
	ScopeName     string
	Reason        BlockReason
	AllowedTopics []string
	CustomMessage string
}

// PhraseFunc phrases a redirect message with an LLM. Errors trigger the
// deterministic fallback; implementations should not fall back themselves.
type PhraseFunc func(ctx context.Context, req PhraseRequest) (string, error)

// ProviderPhrase returns a PhraseFunc backed by the bot's own provider.
func ProviderPhrase() PhraseFunc {
	return func(ctx context.Context, req PhraseRequest) (string, error) {
		if req.Bot == nil || req.Bot.Provider == nil {
			return "", fmt.Errorf("bot has no provider for redirect phrasing")
		}
		provider, err := llm.NewProvider(req.Bot.Provider)
		if err != nil {
			return "", err
		}

		temp := float32(0.7)
		maxTokens := 150
		text, _, err := provider.Complete(ctx, redirectModel,
			[]datatypes.ChatMessage{{Role: "user", Content: buildPhrasePrompt(req)}},
			llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	}
}

func buildPhrasePrompt(req PhraseRequest) string {
	var contextParts []string
	if req.Bot != nil {
		contextParts = append(contextParts, fmt.Sprintf("Bot: %s", req.Bot.Name))
		if req.Bot.SystemPrompt != "" {
			role := req.Bot.SystemPrompt
			if len(role) > 150 {
				role = role[:150]
			}
			contextParts = append(contextParts, fmt.Sprintf("Role: %s", role))
		}
	}
	contextParts = append(contextParts, fmt.Sprintf("Scope: %s", req.ScopeName))
	if len(req.AllowedTopics) > 0 {
		contextParts = append(contextParts, fmt.Sprintf("Allowed topics: %s", strings.Join(req.AllowedTopics, ", ")))
	}

	var instruction string
	switch req.Reason {
	case ReasonForbidden:
		instruction = "This query asks about a forbidden topic. Generate a firm but polite refusal that redirects to allowed topics."
	case ReasonOffTopic:
		instruction = "This query is off-topic. Generate a friendly explanation of what you can help with instead."
	case ReasonRedirect:
		instruction = "This query needs gentle redirection. Acknowledge the question but guide toward your expertise areas."
	case ReasonGentleRedirect:
		instruction = "Provide a soft redirect while showing understanding of the user's interest."
	default:
		instruction = "Generate a helpful response that guides the user to your areas of expertise."
	}

	guidance := ""
	if req.CustomMessage != "" {
		guidance = fmt.Sprintf("\n- Consider this guidance: %s", req.CustomMessage)
	}

	return fmt.Sprintf(`Context: %s

User asked: %q

%s

Requirements:
- Keep response under 100 words
- Be conversational and helpful
- Clearly explain what you CAN help with
- Include a question to encourage proper engagement
- Don't be robotic or overly formal%s

Generate response:`, strings.Join(contextParts, " | "), req.Query, instruction, guidance)
}

// =============================================================================
// Redirect Assembly
// =============================================================================

// redirectMessage produces the assistant text for a blocked query.
//
// Tries the LLM phraser first under a bounded context; any failure falls
// back to the custom refusal message (forbidden/off-topic only) or the
// deterministic templates. This path never fails.
func (e *Engine) redirectMessage(ctx context.Context, bot *datatypes.Bot, scope datatypes.Scope, query string, reason BlockReason) string {
	g := scope.Guardrails

	if e.phrase != nil {
		phraseCtx, cancel := context.WithTimeout(ctx, e.phraseTimeout)
		defer cancel()

		msg, err := e.phrase(phraseCtx, PhraseRequest{
			Bot:           bot,
			Query:         query,
			ScopeName:     scope.Name,
			Reason:        reason,
			AllowedTopics: g.AllowedTopics,
			CustomMessage: g.RefusalMessage,
		})
		if err == nil && msg != "" {
			return msg
		}
		slog.Error("Failed to generate AI guardrail response", "error", err,
			"bot_id", bot.ID, "scope", scope.Name, "reason", string(reason))
	}

	if g.RefusalMessage != "" && (reason == ReasonForbidden || reason == ReasonOffTopic) {
		return e.enhanceRefusalMessage(g.RefusalMessage, g.AllowedTopics)
	}
	return e.fallbackResponse(g.AllowedTopics, reason)
}

// enhanceRefusalMessage appends sampled topic suggestions to a custom
// refusal message.
func (e *Engine) enhanceRefusalMessage(base string, allowedTopics []string) string {
	if len(allowedTopics) == 0 {
		return base
	}
	n := 3
	if len(allowedTopics) < n {
		n = len(allowedTopics)
	}
	suggestions := e.sampler.Sample(allowedTopics, n, n)
	return fmt.Sprintf("%s I can help with %s. How can I assist?", base, formatTopicList(suggestions))
}

// fallbackTemplates are the canned redirect texts used when LLM phrasing
// fails. The %s slot takes the sampled topic list.
var fallbackTemplates = map[BlockReason][]string{
	ReasonForbidden: {
		"I can't discuss that topic. I can help with %s. What would you like to know?",
		"That's not something I can talk about. My expertise covers %s. What can I answer for you?",
		"I have to decline that one. Ask me about %s instead.",
	},
	ReasonOffTopic: {
		"That's outside my expertise. I specialize in %s. How can I help?",
		"I'm not the right assistant for that, but I know %s well. What would you like to ask?",
		"That falls outside what I cover. My areas are %s. How can I help you today?",
	},
	ReasonRedirect: {
		"I focus on %s. Could you ask about one of these areas instead?",
		"My knowledge centers on %s. Is there something in those areas I can help with?",
		"Let's keep to %s. What would you like to know?",
	},
	ReasonGentleRedirect: {
		"While that's interesting, I'm best at %s. What can I help you with?",
		"Good question, though my strength is really %s. Anything there I can answer?",
		"I'd love to help where I'm strongest: %s. What can I do for you?",
	},
}

// fallbackResponse builds a deterministic-template redirect. Both the
// template and the example topics go through the engine's sampler, so a
// fixed sampler pins the output for tests while the default sampler
// varies it between refusals.
func (e *Engine) fallbackResponse(allowedTopics []string, reason BlockReason) string {
	templates := fallbackTemplates[reason]
	if len(templates) == 0 || len(allowedTopics) == 0 {
		return "I can help with my specialized areas. What questions do you have?"
	}
	template := e.sampler.Sample(templates, 1, 1)[0]
	topics := e.sampler.Sample(allowedTopics, 2, 4)
	return fmt.Sprintf(template, formatTopicList(topics))
}

func formatTopicList(topics []string) string {
	switch len(topics) {
	case 0:
		return "my specialized areas"
	case 1:
		return topics[0]
	case 2:
		return fmt.Sprintf("%s and %s", topics[0], topics[1])
	default:
		return fmt.Sprintf("%s, and %s", strings.Join(topics[:len(topics)-1], ", "), topics[len(topics)-1])
	}
}
