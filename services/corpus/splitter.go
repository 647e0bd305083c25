// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package corpus

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/lanternai/lantern/services/datatypes"
)

// =============================================================================
// Chunking
// =============================================================================

const (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10
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

// splitterForFile picks language-aware separators by extension so
// chunks tend to break on declaration boundaries instead of mid-symbol.
func splitterForFile(filename string) textsplitter.TextSplitter {
	switch filepath.Ext(filename) {
	case ".md":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		)
	case ".py":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(pythonSeparators),
		)
	case ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(cStyleSeparators),
		)
	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		)
	}
}

// fileType is the lowercase extension without the dot.
func fileType(filePath string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
}

// chunkID derives a deterministic UUID from the chunk content and its
// position, so re-indexing an unchanged corpus produces identical IDs.
func chunkID(filePath string, part int, content string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", filePath, part, content)))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

// SplitDocument chunks one raw file into embedded-ready documents. The
// embeddings are left empty; the index builder fills them in.
func SplitDocument(raw RawDocument) ([]datatypes.Document, error) {
	chunks, err := splitterForFile(raw.Path).SplitText(raw.Content)
	if err != nil {
		return nil, fmt.Errorf("splitting %s: %w", raw.Path, err)
	}

	docs := make([]datatypes.Document, 0, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		docs = append(docs, datatypes.Document{
			ID:      chunkID(raw.Path, i, chunk),
			Content: chunk,
			Metadata: datatypes.DocumentMeta{
				FilePath: raw.Path,
				FileType: fileType(raw.Path),
			},
		})
	}
	return docs, nil
}
