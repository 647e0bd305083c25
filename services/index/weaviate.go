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
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lanternai/lantern/services/datatypes"
)

// =============================================================================
// Weaviate-Backed Store
// =============================================================================

// WeaviateIndex implements Store against a remote Weaviate instance.
// Each repository index maps to its own Weaviate class, so multi-repo
// deployments stay isolated without per-object filtering.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
	dimension int
}

var _ Store = (*WeaviateIndex)(nil)

// NewWeaviateIndex connects to host ("localhost:8080") over scheme and
// binds to the class named for the repository fingerprint. The class
// name must start with an uppercase letter per Weaviate's rules;
// callers pass a fingerprint and the "Lantern" prefix is applied here.
func NewWeaviateIndex(host, scheme, fingerprint string, dimension int) (*WeaviateIndex, error) {
	if dimension <= 0 {
		return nil, &IndexError{Op: "create", Message: fmt.Sprintf("dimension must be positive, got %d", dimension)}
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, &IndexError{Op: "create", Message: "creating weaviate client", Err: err}
	}
	className := "Lantern" + strings.ToUpper(fingerprint[:1]) + fingerprint[1:]
	slog.Info("Weaviate index ready", "host", host, "class", className)
	return &WeaviateIndex{
		client:    client,
		className: className,
		dimension: dimension,
	}, nil
}

// Add implements Store via a single batch import. Mismatched-dimension
// documents are skipped with a warning, matching LocalIndex.
func (w *WeaviateIndex) Add(ctx context.Context, docs []datatypes.Document) (int, error) {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("index.batch_size", len(docs)))

	objects := make([]*models.Object, 0, len(docs))
	for _, doc := range docs {
		if doc.Dimension() != w.dimension {
			slog.Warn("Skipping document with mismatched embedding dimension",
				"doc_id", doc.ID,
				"got", doc.Dimension(),
				"want", w.dimension,
			)
			continue
		}
		objects = append(objects, &models.Object{
			Class:  w.className,
			ID:     strfmt.UUID(doc.ID),
			Vector: doc.Embedding,
			Properties: map[string]interface{}{
				"content":   doc.Content,
				"file_path": doc.Metadata.FilePath,
				"file_type": doc.Metadata.FileType,
			},
		})
	}
	if len(objects) == 0 {
		return 0, nil
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, &IndexError{Op: "add", Message: "batch import failed", Err: err}
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return 0, &IndexError{
				Op:      "add",
				Message: fmt.Sprintf("object %s rejected: %s", obj.ID, obj.Result.Errors.Error[0].Message),
			}
		}
	}
	span.SetAttributes(attribute.Int("index.accepted", len(objects)))
	return len(objects), nil
}

// Search implements Store via a nearVector GraphQL query. Weaviate
// reports certainty in [0,1]; it is mapped back onto cosine similarity
// so both Store implementations score on the same scale.
func (w *WeaviateIndex) Search(ctx context.Context, embedding []float32, topK int) ([]datatypes.ScoredDocument, error) {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Search")
	defer span.End()

	if len(embedding) != w.dimension {
		return nil, &IndexError{
			Op:      "search",
			Message: fmt.Sprintf("query dimension %d does not match index dimension %d", len(embedding), w.dimension),
		}
	}
	if topK <= 0 {
		return []datatypes.ScoredDocument{}, nil
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(embedding)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "file_path"},
		{Name: "file_type"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, &IndexError{Op: "search", Message: "graphql query failed", Err: err}
	}
	if len(result.Errors) > 0 {
		return nil, &IndexError{Op: "search", Message: result.Errors[0].Message}
	}

	return w.parseSearchResults(result.Data), nil
}

func (w *WeaviateIndex) parseSearchResults(data map[string]models.JSONObject) []datatypes.ScoredDocument {
	results := []datatypes.ScoredDocument{}

	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return results
	}
	rows, ok := get[w.className].([]interface{})
	if !ok {
		return results
	}

	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		doc := datatypes.Document{}
		if v, ok := obj["content"].(string); ok {
			doc.Content = v
		}
		if v, ok := obj["file_path"].(string); ok {
			doc.Metadata.FilePath = v
		}
		if v, ok := obj["file_type"].(string); ok {
			doc.Metadata.FileType = v
		}

		score := 0.0
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				doc.ID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				// certainty = (1 + cosine) / 2
				score = certainty*2 - 1
			}
		}
		results = append(results, datatypes.ScoredDocument{Document: doc, Score: score})
	}
	return results
}

// Len implements Store via an aggregate meta count.
func (w *WeaviateIndex) Len(ctx context.Context) (int, error) {
	result, err := w.client.GraphQL().Aggregate().
		WithClassName(w.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, &IndexError{Op: "len", Message: "aggregate query failed", Err: err}
	}
	if len(result.Errors) > 0 {
		// A missing class means an empty index, not a failure.
		if strings.Contains(result.Errors[0].Message, "Cannot query field") {
			return 0, nil
		}
		return 0, &IndexError{Op: "len", Message: result.Errors[0].Message}
	}

	agg, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[w.className].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	obj, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := obj["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, ok := meta["count"].(float64)
	if !ok {
		return 0, nil
	}
	return int(count), nil
}
