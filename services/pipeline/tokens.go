// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/lanternai/lantern/services/datatypes"
)

// =============================================================================
// Token Estimation
// =============================================================================

// perMessageOverhead approximates the per-message framing tokens chat
// protocols add around content.
const perMessageOverhead = 4

// Estimator counts prompt tokens for budget decisions.
//
// # Description
//
// The cl100k_base encoding is loaded lazily on first use; tiktoken may
// fetch the vocabulary over the network, so failures fall back to a
// chars/4 heuristic and the estimator keeps working offline. Counts are
// estimates either way; the provider remains the authority on overflow.
//
// # Thread Safety
//
// Safe for concurrent use.
type Estimator struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewEstimator returns an estimator. The encoding is not loaded until
// the first count.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) init() {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			slog.Warn("Token encoding unavailable, using heuristic estimates", "error", err)
			return
		}
		e.encoding = enc
	})
}

// Count estimates the tokens in one text.
func (e *Estimator) Count(text string) int {
	e.init()
	if e.encoding != nil {
		return len(e.encoding.Encode(text, nil, nil))
	}
	// Heuristic: roughly 4 characters per token for English and code.
	return (len(text) + 3) / 4
}

// CountMessages estimates the tokens in an assembled message list,
// including per-message framing overhead.
func (e *Estimator) CountMessages(messages []datatypes.Message) int {
	total := 0
	for _, m := range messages {
		total += e.Count(m.Content) + perMessageOverhead
	}
	return total
}
