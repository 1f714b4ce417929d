// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/AleutianCloud/services/platform/datatypes"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is 10% of the chunk size.
	DefaultChunkOverlap = DefaultChunkSize / 10
)

var (
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
	pythonSeparators  = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	cStyleSeparators  = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// splitterForSource picks separators appropriate to the document type so
// chunks break on structural boundaries instead of mid-sentence.
func splitterForSource(source string, chunkSize, chunkOverlap int) textsplitter.TextSplitter {
	separators := defaultSeparators
	switch filepath.Ext(source) {
	case ".md":
		separators = markdownSeparators
	case ".py":
		separators = pythonSeparators
	case ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go":
		separators = cStyleSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}

// splitDocument chunks content and fills the per-chunk bookkeeping the
// retrieval layer depends on: ordinal index, character offsets into the
// original document, and an approximate token count.
func splitDocument(doc *datatypes.Document, content string, chunkSize, chunkOverlap int) ([]datatypes.Chunk, error) {
	splitter := splitterForSource(doc.Source, chunkSize, chunkOverlap)
	pieces, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("split document %s: %w", doc.ID, err)
	}

	chunks := make([]datatypes.Chunk, 0, len(pieces))
	searchFrom := 0
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}

		// Overlapping chunks mean each piece starts at or after the
		// previous piece's start, never before it.
		start := strings.Index(content[searchFrom:], piece)
		if start >= 0 {
			start += searchFrom
			searchFrom = start + 1
		} else {
			start = searchFrom
		}

		chunks = append(chunks, datatypes.Chunk{
			ID:         datatypes.NewID(),
			DocumentID: doc.ID,
			Content:    piece,
			TokenCount: estimateTokens(piece),
			ChunkIndex: len(chunks),
			StartChar:  start,
			EndChar:    start + len(piece),
		})
	}
	return chunks, nil
}

// estimateTokens approximates the token count at 4 characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
