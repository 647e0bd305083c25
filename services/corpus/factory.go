// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package corpus

import (
	"context"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/retriever"
)

// RetrieverFactory yields per-repository retrievers backed by the
// builder's cached indexes. It satisfies the pipeline's retriever
// factory contract.
type RetrieverFactory struct {
	builder  *Builder
	embedder retriever.EmbeddingProvider
}

// NewRetrieverFactory wires a factory over a builder. The embedder is
// used for query embedding and must match the one the builder indexed
// with, or fingerprints will never hit the cache.
func NewRetrieverFactory(builder *Builder, embedder retriever.EmbeddingProvider) *RetrieverFactory {
	return &RetrieverFactory{builder: builder, embedder: embedder}
}

// ForRepo builds or loads the repository's index and binds a retriever
// to it.
func (f *RetrieverFactory) ForRepo(ctx context.Context, repo datatypes.RepositoryContext) (*retriever.Retriever, error) {
	ix, err := f.builder.BuildOrLoad(ctx, repo)
	if err != nil {
		return nil, err
	}
	return retriever.New(repo, ix, f.embedder), nil
}
