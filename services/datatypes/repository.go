// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// =============================================================================
// Repository Context
// =============================================================================

// RepositoryContext identifies one repository whose corpus can be indexed
// and queried. The auth token itself is never stored here; TokenRef names
// an entry in the AuthTokenStore and is only dereferenced by the corpus
// loader.
type RepositoryContext struct {
	Owner    string `json:"owner" validate:"required"`
	Repo     string `json:"repo" validate:"required"`
	URL      string `json:"url,omitempty"`
	Platform string `json:"platform,omitempty"` // github, gitlab, bitbucket, local

	// LocalPath points at an already-materialized working tree. Cloning
	// and raw file download are external collaborators; the engine only
	// reads what is already on disk.
	LocalPath string `json:"local_path,omitempty"`

	// TokenRef is an opaque key into the AuthTokenStore.
	TokenRef string `json:"token_ref,omitempty"`
}

// Slug returns the "owner/repo" form used in logs and result sections.
func (r RepositoryContext) Slug() string {
	return r.Owner + "/" + r.Repo
}

// Fingerprint derives the stable cache key for this repository's vector
// index. The key covers repository identity and the embedding model, so
// switching embedding models never reuses a stale index.
func (r RepositoryContext) Fingerprint(embeddingModel string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		strings.ToLower(r.Platform),
		strings.ToLower(r.Owner),
		strings.ToLower(r.Repo),
		embeddingModel,
	)
	return hex.EncodeToString(h.Sum(nil))[:32]
}
