// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrail enforces bot scope restrictions: it scores how strongly
// a query matches named topics, decides allow/block per scope strictness,
// and produces redirect messages and system-prompt restriction summaries.
package guardrail

import "strings"

// =============================================================================
// Thresholds
// =============================================================================

// Thresholds are the match-strength cutoffs used by scope evaluation.
//
// The values are empirically tuned; behavior parity depends on them, so they
// are configuration rather than derivation. DefaultThresholds returns the
// production set.
type Thresholds struct {
	// ForbiddenBlock blocks when forbidden-topic strength exceeds it.
	ForbiddenBlock float64

	// StrictAllow is the minimum strength a strict scope accepts.
	StrictAllow float64

	// ModerateBlock is the minimum strength a moderate scope accepts.
	ModerateBlock float64

	// ModerateGuided marks the moderate band [ModerateBlock, ModerateGuided)
	// that is allowed but relies on system-prompt guidance.
	ModerateGuided float64

	// LenientBlock is the minimum strength a lenient scope accepts.
	LenientBlock float64
}

// DefaultThresholds returns the standard cutoff set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ForbiddenBlock: 0.3,
		StrictAllow:    0.7,
		ModerateBlock:  0.3,
		ModerateGuided: 0.5,
		LenientBlock:   0.1,
	}
}

// Domain bonus strengths. Like the thresholds, these are tuned constants.
const (
	verbatimStrength     = 1.0
	wordOverlapWeight    = 0.6
	mathStrongStrength   = 0.8
	mathWeakStrength     = 0.6
	supportDomainStrong  = 0.7
	supportDomainWeak    = 0.5
	supportQueryStrength = 0.8
)

// =============================================================================
// Domain Vocabularies
// =============================================================================

var mathClusterTopics = map[string]bool{
	"math": true, "mathematics": true, "algebra": true, "calculus": true, "geometry": true,
}

var mathIndicators = []string{
	"derivative", "integral", "limit", "theorem", "proof", "equation", "formula",
	"solve", "calculate", "compute", "factor", "expand", "simplify", "graph",
	"function", "variable", "coefficient", "polynomial", "quadratic", "linear",
	"trigonometry", "sine", "cosine", "tangent", "logarithm", "exponential",
	"matrix", "vector", "angle", "triangle", "circle", "radius", "diameter",
	"area", "volume", "perimeter", "pythagorean", "hypotenuse", "adjacent",
	"probability", "statistics", "mean", "median", "mode", "standard deviation",
	"fraction", "decimal", "percentage", "ratio", "proportion", "number",
}

var mathSymbols = []string{"+", "-", "*", "/", "=", "<", ">", "≤", "≥", "²", "³", "x^", "y="}

var supportClusterTopics = map[string]bool{
	"support": true, "customer support": true, "technical support": true, "help": true,
}

var supportDomainIndicators = []string{
	"help", "issue", "problem", "bug", "error", "fix", "broken", "not working",
	"account", "login", "password", "billing", "payment", "subscription",
	"refund", "cancel", "upgrade", "downgrade", "feature", "how to", "tutorial",
}

// supportQueryTopics widen the support bonus to account-style topic lists.
var supportQueryTopics = map[string]bool{
	"support": true, "help": true, "account": true, "login": true, "technical": true,
}

var supportQueryIndicators = []string{
	"password", "reset", "login", "account", "profile", "username",
	"recover", "access", "issue", "problem", "help", "support",
}

// =============================================================================
// Matching
// =============================================================================

// MatchStrength scores how strongly free text matches a set of named topics.
//
// # Description
//
// For each topic the score is the maximum of three signals: a verbatim
// case-insensitive substring match (1.0), weighted word overlap
// (0.6 × overlapping words / topic words), and a domain cluster bonus for
// math and support vocabularies. The overall strength is the maximum across
// topics, clamped to [0, 1].
//
// This is a deliberate heuristic, not a statistical classifier: the three
// signals and their cutoffs are the contract.
func MatchStrength(content string, topics []string) float64 {
	contentLower := strings.ToLower(content)
	maxStrength := 0.0

	domainBonus := domainStrength(contentLower, topics)
	supportBonus := supportQueryBonus(contentLower, topics)

	for _, topic := range topics {
		topicLower := strings.ToLower(topic)
		strength := 0.0

		// Verbatim topic mention beats everything.
		if strings.Contains(contentLower, topicLower) {
			strength = verbatimStrength
		}

		// Weighted whole-word overlap.
		if overlap := wordOverlap(contentLower, topicLower); overlap > strength {
			strength = overlap
		}

		if domainBonus > strength {
			strength = domainBonus
		}
		if supportBonus > strength {
			strength = supportBonus
		}

		if strength > maxStrength {
			maxStrength = strength
		}
	}

	if maxStrength > 1.0 {
		return 1.0
	}
	return maxStrength
}

// wordOverlap computes 0.6 × (shared words / topic words).
func wordOverlap(contentLower, topicLower string) float64 {
	topicWords := strings.Fields(topicLower)
	if len(topicWords) == 0 {
		return 0
	}

	contentWords := map[string]bool{}
	for _, w := range strings.Fields(contentLower) {
		contentWords[w] = true
	}

	shared := map[string]bool{}
	for _, w := range topicWords {
		if contentWords[w] {
			shared[w] = true
		}
	}
	if len(shared) == 0 {
		return 0
	}
	return wordOverlapWeight * float64(len(shared)) / float64(len(topicWords))
}

// domainStrength returns the math or support cluster bonus for the query.
func domainStrength(contentLower string, topics []string) float64 {
	if topicsIntersect(topics, mathClusterTopics) {
		wordHits := countContains(contentLower, mathIndicators)
		symbolHits := countContains(contentLower, mathSymbols)
		if wordHits >= 2 || symbolHits >= 1 {
			return mathStrongStrength
		}
		if wordHits == 1 {
			return mathWeakStrength
		}
	}

	if topicsIntersect(topics, supportClusterTopics) {
		hits := countContains(contentLower, supportDomainIndicators)
		if hits >= 2 {
			return supportDomainStrong
		}
		if hits == 1 {
			return supportDomainWeak
		}
	}

	return 0
}

// supportQueryBonus applies the high-confidence bonus for account/support
// style queries against support-shaped topic lists.
func supportQueryBonus(contentLower string, topics []string) float64 {
	if !topicsIntersect(topics, supportQueryTopics) {
		return 0
	}
	for _, ind := range supportQueryIndicators {
		if strings.Contains(contentLower, ind) {
			return supportQueryStrength
		}
	}
	return 0
}

func topicsIntersect(topics []string, cluster map[string]bool) bool {
	for _, t := range topics {
		if cluster[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

func countContains(content string, needles []string) int {
	n := 0
	for _, needle := range needles {
		if strings.Contains(content, needle) {
			n++
		}
	}
	return n
}
