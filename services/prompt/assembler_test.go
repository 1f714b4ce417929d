// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCloud/services/guardrail"
	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

func testAssembler() *Assembler {
	return NewAssembler(guardrail.NewEngine(guardrail.Config{Sampler: guardrail.FixedSampler{}}))
}

func TestBuildSystemPrompt_Empty(t *testing.T) {
	got := testAssembler().BuildSystemPrompt(&datatypes.Bot{}, nil)
	assert.Empty(t, got)
}

func TestBuildSystemPrompt_BaseOnly(t *testing.T) {
	bot := &datatypes.Bot{SystemPrompt: "You are a helpful billing assistant."}
	got := testAssembler().BuildSystemPrompt(bot, nil)
	assert.Equal(t, "You are a helpful billing assistant.", got)
}

func TestBuildSystemPrompt_CitationsNumberedInOrder(t *testing.T) {
	bot := &datatypes.Bot{SystemPrompt: "Base prompt."}
	citations := []datatypes.Citation{
		{DocumentTitle: "Handbook", Content: "Refunds take 5 days."},
		{DocumentTitle: "FAQ", Content: "Invoices are emailed monthly."},
	}

	got := testAssembler().BuildSystemPrompt(bot, citations)

	require.Contains(t, got, "Here is relevant context to help answer the user's question:")
	assert.Contains(t, got, "Source 1: Handbook")
	assert.Contains(t, got, "Refunds take 5 days.")
	assert.Contains(t, got, "Source 2: FAQ")
	assert.Less(t,
		strings.Index(got, "Source 1: Handbook"),
		strings.Index(got, "Source 2: FAQ"))
}

func TestBuildSystemPrompt_CiteDirectiveByDefault(t *testing.T) {
	bot := &datatypes.Bot{SystemPrompt: "Base prompt."}
	got := testAssembler().BuildSystemPrompt(bot, []datatypes.Citation{
		{DocumentTitle: "Handbook", Content: "text"},
	})

	assert.Contains(t, got, "Always cite your sources when using information from the context.")
	assert.NotContains(t, got, "ONLY on the information provided above")
}

func TestBuildSystemPrompt_ContextOnlyDirectiveInStrictMode(t *testing.T) {
	bot := &datatypes.Bot{
		SystemPrompt: "Base prompt.",
		Scopes: []datatypes.Scope{{
			Name:     "strict",
			IsActive: true,
			Guardrails: datatypes.Guardrails{
				KnowledgeBoundaries: datatypes.KnowledgeBoundaries{StrictMode: true},
			},
		}},
	}
	got := testAssembler().BuildSystemPrompt(bot, []datatypes.Citation{
		{DocumentTitle: "Handbook", Content: "text"},
	})

	assert.Contains(t, got, "IMPORTANT: Base your answer ONLY on the information provided above.")
	assert.NotContains(t, got, "Always cite your sources when using information from the context.")
}

func TestBuildSystemPrompt_IncludesRestrictions(t *testing.T) {
	bot := &datatypes.Bot{
		SystemPrompt: "Base prompt.",
		Scopes: []datatypes.Scope{{
			Name:     "billing",
			IsActive: true,
			Guardrails: datatypes.Guardrails{
				Strictness:    datatypes.StrictnessStrict,
				AllowedTopics: []string{"billing"},
			},
		}},
	}
	got := testAssembler().BuildSystemPrompt(bot, nil)

	assert.True(t, strings.HasPrefix(got, "Base prompt."))
	assert.Contains(t, got, "KNOWLEDGE AND SCOPE RESTRICTIONS:")
	assert.Contains(t, got, "You ONLY answer questions directly related to: billing.")
}

func TestBuildSystemPrompt_NoCitationsNoContextBlock(t *testing.T) {
	bot := &datatypes.Bot{SystemPrompt: "Base prompt."}
	got := testAssembler().BuildSystemPrompt(bot, []datatypes.Citation{})
	assert.NotContains(t, got, "Here is relevant context")
}
