// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/services/datatypes"
)

func testDoc(id string, embedding []float32) datatypes.Document {
	return datatypes.Document{
		ID:        id,
		Content:   "content of " + id,
		Metadata:  datatypes.DocumentMeta{FilePath: id + ".go", FileType: "go"},
		Embedding: embedding,
	}
}

func TestNewLocalIndex_RejectsBadDimension(t *testing.T) {
	_, err := NewLocalIndex(0)
	require.Error(t, err)
	_, err = NewLocalIndex(-3)
	require.Error(t, err)
}

func TestLocalIndex_AddSkipsMismatchedDimensions(t *testing.T) {
	ix, err := NewLocalIndex(3)
	require.NoError(t, err)

	accepted, err := ix.Add(context.Background(), []datatypes.Document{
		testDoc("a", []float32{1, 0, 0}),
		testDoc("bad", []float32{1, 0}), // wrong dimension
		testDoc("b", []float32{0, 1, 0}),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, accepted)

	n, err := ix.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLocalIndex_SearchOrdersByCosineDescending(t *testing.T) {
	ix, err := NewLocalIndex(2)
	require.NoError(t, err)

	_, err = ix.Add(context.Background(), []datatypes.Document{
		testDoc("orthogonal", []float32{0, 1}),
		testDoc("exact", []float32{1, 0}),
		testDoc("diagonal", []float32{1, 1}),
	})
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "exact", results[0].Document.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "diagonal", results[1].Document.ID)
	assert.Equal(t, "orthogonal", results[2].Document.ID)
	assert.InDelta(t, 0.0, results[2].Score, 1e-9)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestLocalIndex_SearchTiesKeepInsertionOrder(t *testing.T) {
	ix, err := NewLocalIndex(2)
	require.NoError(t, err)

	// Identical embeddings score identically against any query.
	_, err = ix.Add(context.Background(), []datatypes.Document{
		testDoc("first", []float32{1, 1}),
		testDoc("second", []float32{1, 1}),
		testDoc("third", []float32{1, 1}),
	})
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Document.ID)
	assert.Equal(t, "second", results[1].Document.ID)
	assert.Equal(t, "third", results[2].Document.ID)
}

func TestLocalIndex_SearchEmptyIndex(t *testing.T) {
	ix, err := NewLocalIndex(4)
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLocalIndex_SearchRejectsMismatchedQuery(t *testing.T) {
	ix, err := NewLocalIndex(3)
	require.NoError(t, err)

	_, err = ix.Search(context.Background(), []float32{1, 0}, 5)
	require.Error(t, err)

	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "search", ie.Op)
}

func TestLocalIndex_TopKBounds(t *testing.T) {
	ix, err := NewLocalIndex(2)
	require.NoError(t, err)
	_, err = ix.Add(context.Background(), []datatypes.Document{
		testDoc("a", []float32{1, 0}),
		testDoc("b", []float32{0, 1}),
	})
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = ix.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLocalIndex_ConcurrentAddAndSearch(t *testing.T) {
	ix, err := NewLocalIndex(2)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, _ = ix.Add(context.Background(), []datatypes.Document{
				testDoc(fmt.Sprintf("doc-%d", i), []float32{1, float32(i)}),
			})
		}
	}()
	for i := 0; i < 50; i++ {
		_, err := ix.Search(context.Background(), []float32{1, 0}, 5)
		require.NoError(t, err)
	}
	<-done
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ix, err := NewLocalIndex(2)
	require.NoError(t, err)
	_, err = ix.Add(context.Background(), []datatypes.Document{
		testDoc("first", []float32{1, 1}),
		testDoc("second", []float32{1, 1}),
		testDoc("third", []float32{0, 1}),
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cache", "index.json")
	require.NoError(t, ix.Save(path))

	loaded, err := LoadLocalIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Dimension())

	n, err := loaded.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Tie-breaking order must survive persistence.
	before, err := ix.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	after, err := loaded.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].Document.ID, after[i].Document.ID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-9)
	}
}

func TestLoadLocalIndex_MissingFile(t *testing.T) {
	_, err := LoadLocalIndex(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
