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
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
	"github.com/AleutianAI/AleutianCloud/services/platform/observability"
)

var tracer = otel.Tracer("aleutian.cloud.guardrail")

// BlockReason classifies why a query was blocked.
type BlockReason string

const (
	ReasonForbidden      BlockReason = "forbidden"
	ReasonOffTopic       BlockReason = "off_topic"
	ReasonRedirect       BlockReason = "redirect"
	ReasonGentleRedirect BlockReason = "gentle_redirect"
)

// DefaultContextLimit is the conversation-history window when no scope
// raises it.
const DefaultContextLimit = 10

// defaultPhraseTimeout bounds the LLM call that phrases a redirect. The
// deterministic fallback covers a timeout like any other failure.
const defaultPhraseTimeout = 5 * time.Second

// =============================================================================
// Engine
// =============================================================================

// Config configures a guardrail Engine.
type Config struct {
	// Thresholds override the strictness cutoffs. Zero value means defaults.
	Thresholds Thresholds

	// Sampler picks example topics for redirect messages. Nil means a
	// time-seeded sampler; tests inject a fixed one.
	Sampler TopicSampler

	// Phrase, when set, is called to phrase a redirect message with an LLM.
	// Any error or timeout falls back to the deterministic templates.
	Phrase PhraseFunc

	// PhraseTimeout bounds each Phrase call. Zero means 5s.
	PhraseTimeout time.Duration
}

// Engine evaluates queries against a bot's active scopes.
//
// # Description
//
// Scopes are evaluated in declaration order and the first decisive result
// wins: forbidden topics block first, then allowed-topic strength is tested
// against the scope's strictness cutoff. A bot with no scopes allows
// everything.
//
// # Thread Safety
//
// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	thresholds    Thresholds
	sampler       TopicSampler
	phrase        PhraseFunc
	phraseTimeout time.Duration
}

// NewEngine constructs an Engine, filling config defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Sampler == nil {
		cfg.Sampler = NewRandSampler(time.Now().UnixNano())
	}
	if cfg.PhraseTimeout == 0 {
		cfg.PhraseTimeout = defaultPhraseTimeout
	}
	return &Engine{
		thresholds:    cfg.Thresholds,
		sampler:       cfg.Sampler,
		phrase:        cfg.Phrase,
		phraseTimeout: cfg.PhraseTimeout,
	}
}

// ValidateQuery decides whether a query is within the bot's allowed scope.
//
// # Description
//
// Returns (true, "") when the query is allowed. When blocked, the second
// return is the redirect message to send in place of a real answer. Redirect
// generation never fails: LLM phrasing errors fall back to deterministic
// templates internally.
//
// # Inputs
//
//   - ctx: Bounds the optional LLM phrasing call.
//   - bot: The bot whose active scopes are enforced.
//   - query: The inbound user message content.
func (e *Engine) ValidateQuery(ctx context.Context, bot *datatypes.Bot, query string) (bool, string) {
	ctx, span := tracer.Start(ctx, "ValidateQuery")
	defer span.End()

	if len(bot.Scopes) == 0 {
		return true, ""
	}

	for _, scope := range bot.Scopes {
		if !scope.IsActive {
			continue
		}

		g := scope.Guardrails
		strictness := g.Strictness
		if strictness == "" {
			strictness = datatypes.StrictnessModerate
		}

		// Forbidden topics block regardless of strictness.
		if len(g.ForbiddenTopics) > 0 {
			if MatchStrength(query, g.ForbiddenTopics) > e.thresholds.ForbiddenBlock {
				slog.Info("Query blocked by forbidden topics",
					"bot_id", bot.ID, "scope", scope.Name,
					"strictness", strictness, "query_preview", preview(query))
				recordBlocked(bot.ID, ReasonForbidden)
				return false, e.redirectMessage(ctx, bot, scope, query, ReasonForbidden)
			}
		}

		if len(g.AllowedTopics) == 0 {
			continue
		}
		strength := MatchStrength(query, g.AllowedTopics)

		switch strictness {
		case datatypes.StrictnessStrict:
			if strength < e.thresholds.StrictAllow {
				slog.Info("Query blocked by strict topic restrictions",
					"bot_id", bot.ID, "scope", scope.Name,
					"match_strength", strength, "query_preview", preview(query))
				recordBlocked(bot.ID, ReasonOffTopic)
				return false, e.redirectMessage(ctx, bot, scope, query, ReasonOffTopic)
			}

		case datatypes.StrictnessModerate:
			if strength < e.thresholds.ModerateBlock {
				slog.Info("Query redirected by moderate topic restrictions",
					"bot_id", bot.ID, "scope", scope.Name,
					"match_strength", strength, "query_preview", preview(query))
				recordBlocked(bot.ID, ReasonRedirect)
				return false, e.redirectMessage(ctx, bot, scope, query, ReasonRedirect)
			}
			// The [ModerateBlock, ModerateGuided) band passes through and
			// relies on the system-prompt restriction summary for steering.

		case datatypes.StrictnessLenient:
			if strength < e.thresholds.LenientBlock {
				slog.Info("Query gently redirected by lenient restrictions",
					"bot_id", bot.ID, "scope", scope.Name,
					"match_strength", strength, "query_preview", preview(query))
				recordBlocked(bot.ID, ReasonGentleRedirect)
				return false, e.redirectMessage(ctx, bot, scope, query, ReasonGentleRedirect)
			}
		}
	}

	return true, ""
}

// BuildKnowledgeRestrictionPrompt summarizes all active scopes' restrictions
// for injection into the system prompt.
//
// Pure function of bot/scope state: identical input yields identical output,
// with no LLM involvement.
func (e *Engine) BuildKnowledgeRestrictionPrompt(bot *datatypes.Bot) string {
	if len(bot.Scopes) == 0 {
		return ""
	}

	var restrictions []string
	for _, scope := range bot.Scopes {
		if !scope.IsActive {
			continue
		}

		g := scope.Guardrails
		strictness := g.Strictness
		if strictness == "" {
			strictness = datatypes.StrictnessModerate
		}

		if g.KnowledgeBoundaries.StrictMode {
			restrictions = append(restrictions,
				"IMPORTANT: You must ONLY use information from the provided context and knowledge base. "+
					"Do not use your general training knowledge for answers.")
		}
		if len(g.KnowledgeBoundaries.AllowedSources) > 0 {
			restrictions = append(restrictions,
				fmt.Sprintf("Only reference information from these sources: %s",
					strings.Join(g.KnowledgeBoundaries.AllowedSources, ", ")))
		}

		if len(g.AllowedTopics) > 0 {
			topics := strings.Join(g.AllowedTopics, ", ")
			switch strictness {
			case datatypes.StrictnessStrict:
				restrictions = append(restrictions,
					fmt.Sprintf("You ONLY answer questions directly related to: %s. "+
						"Refuse any questions outside these exact topics.", topics))
			case datatypes.StrictnessModerate:
				restrictions = append(restrictions,
					fmt.Sprintf("You specialize in: %s. "+
						"For questions somewhat related to these topics, provide helpful guidance. "+
						"For unrelated questions, politely redirect to your areas of expertise.", topics))
			case datatypes.StrictnessLenient:
				restrictions = append(restrictions,
					fmt.Sprintf("Your primary expertise is in: %s. "+
						"Try to be helpful while gently guiding conversations toward these topics when appropriate.", topics))
			}
		}

		if len(g.ForbiddenTopics) > 0 {
			restrictions = append(restrictions,
				fmt.Sprintf("Never discuss or provide information about: %s. "+
					"Always decline such requests politely.", strings.Join(g.ForbiddenTopics, ", ")))
		}

		if rg := g.ResponseGuidelines; rg != nil {
			if rg.MaxResponseLength > 0 {
				restrictions = append(restrictions,
					fmt.Sprintf("Keep responses under %d words.", rg.MaxResponseLength))
			}
			if rg.RequireCitations {
				restrictions = append(restrictions,
					"Always cite your sources when using information from the context.")
			}
			if rg.MaintainFriendlyTone {
				restrictions = append(restrictions,
					"Always maintain a helpful and friendly tone, even when redirecting topics.")
			}
		}
	}

	if len(restrictions) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nKNOWLEDGE AND SCOPE RESTRICTIONS:\n")
	for i, r := range restrictions {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(r)
	}
	return b.String()
}

// ShouldUseContextOnly reports whether any active scope demands answers be
// grounded exclusively in retrieved context.
func (e *Engine) ShouldUseContextOnly(bot *datatypes.Bot) bool {
	for _, scope := range bot.Scopes {
		if scope.IsActive && scope.Guardrails.KnowledgeBoundaries.StrictMode {
			return true
		}
	}
	return false
}

// ConversationContextLimit returns how many prior messages to replay for
// this bot. Scopes can raise the window, never lower it below the default.
func (e *Engine) ConversationContextLimit(bot *datatypes.Bot) int {
	limit := DefaultContextLimit
	for _, scope := range bot.Scopes {
		if !scope.IsActive || scope.Guardrails.ContextSettings == nil {
			continue
		}
		if n := scope.Guardrails.ContextSettings.MaxConversationHistory; n > limit {
			limit = n
		}
	}
	return limit
}

// recordBlocked reports a refusal to metrics. Everything short of a
// forbidden-topic hit counts as off-topic for dashboard purposes.
func recordBlocked(botID string, reason BlockReason) {
	m := observability.Default
	if m == nil {
		return
	}
	label := observability.BlockReasonOffTopic
	if reason == ReasonForbidden {
		label = observability.BlockReasonForbidden
	}
	m.RecordBlocked(botID, label)
}

func preview(s string) string {
	if len(s) > 100 {
		return s[:100]
	}
	return s
}
