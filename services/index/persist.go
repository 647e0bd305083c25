// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lanternai/lantern/services/datatypes"
)

// indexFileVersion guards the on-disk format. Bump on incompatible
// changes; load rejects mismatches so a stale cache rebuilds instead of
// half-parsing.
const indexFileVersion = 1

type indexFile struct {
	Version   int                  `json:"version"`
	Dimension int                  `json:"dimension"`
	Documents []datatypes.Document `json:"documents"`
}

// Save writes the index to path atomically (temp file + rename).
// Document order is preserved so tie-breaking survives a round trip.
func (ix *LocalIndex) Save(path string) error {
	docs := ix.snapshot()
	payload := indexFile{
		Version:   indexFileVersion,
		Dimension: ix.dimension,
		Documents: docs,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &IndexError{Op: "save", Message: "marshaling index", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &IndexError{Op: "save", Message: "creating cache dir", Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &IndexError{Op: "save", Message: "writing temp file", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &IndexError{Op: "save", Message: "renaming temp file", Err: err}
	}
	slog.Info("Index saved", "path", path, "documents", len(docs))
	return nil
}

// LoadLocalIndex reads an index previously written by Save.
func LoadLocalIndex(path string) (*LocalIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IndexError{Op: "load", Message: "reading " + path, Err: err}
	}
	var payload indexFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &IndexError{Op: "load", Message: "parsing " + path, Err: err}
	}
	if payload.Version != indexFileVersion {
		return nil, &IndexError{
			Op:      "load",
			Message: fmt.Sprintf("unsupported index version %d (want %d)", payload.Version, indexFileVersion),
		}
	}

	ix, err := NewLocalIndex(payload.Dimension)
	if err != nil {
		return nil, err
	}
	accepted, err := ix.Add(context.Background(), payload.Documents)
	if err != nil {
		return nil, err
	}
	slog.Info("Index loaded", "path", path, "documents", accepted)
	return ix, nil
}
