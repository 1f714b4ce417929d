// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt assembles the system prompt for a chat turn from the bot's
// base instructions, scope restrictions, and retrieved citations.
package prompt

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianCloud/services/guardrail"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

const (
	contextHeader = "Here is relevant context to help answer the user's question:"

	contextOnlyDirective = "IMPORTANT: Base your answer ONLY on the information provided above. " +
		"If the context doesn't contain enough information to answer the question, " +
		"say so explicitly. Do not use your general knowledge."

	citeSourcesDirective = "Please use this context to provide accurate and helpful responses. " +
		"Always cite your sources when using information from the context."
)

// Assembler builds system prompts. It owns no state beyond the guardrail
// engine it consults for restriction summaries.
type Assembler struct {
	guardrails *guardrail.Engine
}

// NewAssembler creates an Assembler backed by the given guardrail engine.
func NewAssembler(engine *guardrail.Engine) *Assembler {
	return &Assembler{guardrails: engine}
}

// BuildSystemPrompt concatenates, with blank-line separation: the bot's base
// system prompt, the scope restriction summary, and a source block per
// citation followed by the appropriate usage directive. Empty sections are
// omitted; with nothing to say it returns "", and callers must then send no
// system message at all.
func (a *Assembler) BuildSystemPrompt(bot *datatypes.Bot, citations []datatypes.Citation) string {
	var parts []string

	if bot.SystemPrompt != "" {
		parts = append(parts, bot.SystemPrompt)
	}

	if restrictions := a.guardrails.BuildKnowledgeRestrictionPrompt(bot); restrictions != "" {
		parts = append(parts, restrictions)
	}

	if len(citations) > 0 {
		contextParts := []string{contextHeader, ""}
		for i, c := range citations {
			contextParts = append(contextParts,
				fmt.Sprintf("Source %d: %s", i+1, c.DocumentTitle),
				c.Content,
				"")
		}

		if a.guardrails.ShouldUseContextOnly(bot) {
			contextParts = append(contextParts, contextOnlyDirective)
		} else {
			contextParts = append(contextParts, citeSourcesDirective)
		}

		parts = append(parts, strings.Join(contextParts, "\n"))
	}

	return strings.Join(parts, "\n\n")
}
