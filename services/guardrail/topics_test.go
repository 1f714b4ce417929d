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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchStrength_Verbatim(t *testing.T) {
	got := MatchStrength("Tell me about billing options", []string{"billing"})
	assert.Equal(t, 1.0, got)
}

func TestMatchStrength_CaseInsensitive(t *testing.T) {
	got := MatchStrength("Tell me about BILLING options", []string{"Billing"})
	assert.Equal(t, 1.0, got)
}

func TestMatchStrength_NoMatch(t *testing.T) {
	got := MatchStrength("What is the capital of France?", []string{"mathematics"})
	assert.Less(t, got, 0.1)
}

func TestMatchStrength_WordOverlap(t *testing.T) {
	// One of two topic words appears as a whole word: 0.6 * 1/2.
	got := MatchStrength("I need help with my machine", []string{"machine learning"})
	assert.InDelta(t, 0.3, got, 1e-9)
}

func TestMatchStrength_MathSymbols(t *testing.T) {
	got := MatchStrength("Solve x^2+5x+6=0", []string{"mathematics"})
	assert.GreaterOrEqual(t, got, 0.7)
}

func TestMatchStrength_MathVocabulary(t *testing.T) {
	tests := []struct {
		name  string
		query string
		min   float64
	}{
		{"two indicators", "find the derivative of this function", 0.8},
		{"one indicator", "what is a polynomial", 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchStrength(tt.query, []string{"calculus"})
			assert.GreaterOrEqual(t, got, tt.min)
		})
	}
}

func TestMatchStrength_SupportQueries(t *testing.T) {
	// The support bonus fires on account-style vocabulary even when no
	// topic word appears in the query.
	got := MatchStrength("How do I reset my password?", []string{"billing", "support"})
	assert.GreaterOrEqual(t, got, 0.8)
}

func TestMatchStrength_SupportDomain(t *testing.T) {
	got := MatchStrength("my payment is broken and I want a refund", []string{"customer support"})
	assert.GreaterOrEqual(t, got, 0.7)
}

func TestMatchStrength_ClampedToOne(t *testing.T) {
	got := MatchStrength("help help help support account login password", []string{"support", "help"})
	assert.Equal(t, 1.0, got)
}

func TestMatchStrength_EmptyTopics(t *testing.T) {
	assert.Equal(t, 0.0, MatchStrength("anything at all", nil))
}

func TestMatchStrength_MaxAcrossTopics(t *testing.T) {
	// The strongest topic wins; weak topics do not drag the score down.
	weak := MatchStrength("tell me about gardening", []string{"finance"})
	both := MatchStrength("tell me about gardening", []string{"finance", "gardening"})
	assert.Less(t, weak, 0.1)
	assert.Equal(t, 1.0, both)
}
