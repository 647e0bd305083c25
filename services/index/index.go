// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package index provides vector storage and similarity search over
// embedded document chunks. Two implementations exist: LocalIndex, an
// in-memory store with JSON persistence, and WeaviateIndex, backed by a
// remote Weaviate instance.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lanternai/lantern/services/datatypes"
)

var tracer = otel.Tracer("lantern.index")

// =============================================================================
// Store Interface
// =============================================================================

// Store is the vector-index contract the retriever depends on.
type Store interface {
	// Add inserts documents. Documents whose embedding dimension does
	// not match the index dimension are skipped, not fatal; the count
	// of accepted documents is returned.
	Add(ctx context.Context, docs []datatypes.Document) (int, error)

	// Search returns the topK most similar documents by cosine
	// similarity, ordered descending. Ties keep insertion order. An
	// empty index returns an empty slice.
	Search(ctx context.Context, embedding []float32, topK int) ([]datatypes.ScoredDocument, error)

	// Len reports the number of stored documents.
	Len(ctx context.Context) (int, error)
}

// IndexError reports a vector-store failure.
type IndexError struct {
	Op      string
	Message string
	Err     error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s: %s", e.Op, e.Message)
}

func (e *IndexError) Unwrap() error { return e.Err }

// =============================================================================
// LocalIndex
// =============================================================================

// LocalIndex is an in-memory vector index with a fixed embedding
// dimension.
//
// # Thread Safety
//
// Safe for concurrent use. Reads take a shared lock; Add copies the
// slice before swapping so in-flight searches never observe a partial
// insert.
type LocalIndex struct {
	mu        sync.RWMutex
	dimension int
	docs      []datatypes.Document
	norms     []float64
}

var _ Store = (*LocalIndex)(nil)

// NewLocalIndex creates an empty index for embeddings of the given
// dimension.
func NewLocalIndex(dimension int) (*LocalIndex, error) {
	if dimension <= 0 {
		return nil, &IndexError{Op: "create", Message: fmt.Sprintf("dimension must be positive, got %d", dimension)}
	}
	return &LocalIndex{dimension: dimension}, nil
}

// Dimension returns the fixed embedding dimension.
func (ix *LocalIndex) Dimension() int { return ix.dimension }

// Add implements Store. Mismatched-dimension documents are skipped with
// a warning; the insert is otherwise atomic with respect to Search.
func (ix *LocalIndex) Add(ctx context.Context, docs []datatypes.Document) (int, error) {
	_, span := tracer.Start(ctx, "LocalIndex.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("index.batch_size", len(docs)))

	accepted := make([]datatypes.Document, 0, len(docs))
	norms := make([]float64, 0, len(docs))
	for _, doc := range docs {
		if doc.Dimension() != ix.dimension {
			slog.Warn("Skipping document with mismatched embedding dimension",
				"doc_id", doc.ID,
				"got", doc.Dimension(),
				"want", ix.dimension,
			)
			continue
		}
		accepted = append(accepted, doc)
		norms = append(norms, vectorNorm(doc.Embedding))
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	ix.mu.Lock()
	next := make([]datatypes.Document, 0, len(ix.docs)+len(accepted))
	next = append(next, ix.docs...)
	next = append(next, accepted...)
	nextNorms := make([]float64, 0, len(ix.norms)+len(norms))
	nextNorms = append(nextNorms, ix.norms...)
	nextNorms = append(nextNorms, norms...)
	ix.docs = next
	ix.norms = nextNorms
	ix.mu.Unlock()

	span.SetAttributes(attribute.Int("index.accepted", len(accepted)))
	return len(accepted), nil
}

// Search implements Store.
func (ix *LocalIndex) Search(ctx context.Context, embedding []float32, topK int) ([]datatypes.ScoredDocument, error) {
	_, span := tracer.Start(ctx, "LocalIndex.Search")
	defer span.End()

	if len(embedding) != ix.dimension {
		return nil, &IndexError{
			Op:      "search",
			Message: fmt.Sprintf("query dimension %d does not match index dimension %d", len(embedding), ix.dimension),
		}
	}
	if topK <= 0 {
		return []datatypes.ScoredDocument{}, nil
	}

	ix.mu.RLock()
	docs := ix.docs
	norms := ix.norms
	ix.mu.RUnlock()

	if len(docs) == 0 {
		return []datatypes.ScoredDocument{}, nil
	}

	queryNorm := vectorNorm(embedding)
	if queryNorm == 0 {
		return []datatypes.ScoredDocument{}, nil
	}

	type candidate struct {
		pos   int
		score float64
	}
	candidates := make([]candidate, 0, len(docs))
	for i := range docs {
		if norms[i] == 0 {
			continue
		}
		score := dotProduct(embedding, docs[i].Embedding) / (queryNorm * norms[i])
		candidates = append(candidates, candidate{pos: i, score: score})
	}

	// Stable on insertion position for equal scores.
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	results := make([]datatypes.ScoredDocument, 0, topK)
	for _, c := range candidates[:topK] {
		results = append(results, datatypes.ScoredDocument{
			Document: docs[c.pos],
			Score:    c.score,
		})
	}
	span.SetAttributes(attribute.Int("index.results", len(results)))
	return results, nil
}

// Len implements Store.
func (ix *LocalIndex) Len(ctx context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs), nil
}

// snapshot returns a copy of the stored documents for persistence.
func (ix *LocalIndex) snapshot() []datatypes.Document {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]datatypes.Document, len(ix.docs))
	copy(out, ix.docs)
	return out
}

// =============================================================================
// Vector Math
// =============================================================================

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
