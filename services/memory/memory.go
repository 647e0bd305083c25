// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory stores per-session conversation history. Sessions are
// bounded FIFO buffers: appending past the cap evicts the oldest turns.
package memory

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lanternai/lantern/services/datatypes"
)

// DefaultMaxTurns bounds a session's history when no cap is configured.
const DefaultMaxTurns = 50

// Store keeps conversation history for many sessions.
//
// # Description
//
// Each session holds an ordered list of turns, oldest first. Appends
// past MaxTurns evict from the front. Histories returned to callers are
// copies; mutating them never affects the store.
//
// # Thread Safety
//
// Safe for concurrent use. Appends to the same session are serialized,
// so two concurrent appends can interleave in either order but never
// corrupt the sequence.
type Store struct {
	mu       sync.RWMutex
	maxTurns int
	sessions map[string][]datatypes.ConversationTurn

	// persister, when set, is notified after every mutation.
	persister *Persister
}

// NewStore creates a Store. maxTurns <= 0 uses DefaultMaxTurns.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		maxTurns: maxTurns,
		sessions: make(map[string][]datatypes.ConversationTurn),
	}
}

// MaxTurns returns the per-session cap.
func (s *Store) MaxTurns() int { return s.maxTurns }

// Append adds a turn to the session, evicting the oldest turn when the
// cap is exceeded.
func (s *Store) Append(sessionID string, turn datatypes.ConversationTurn) error {
	if sessionID == "" {
		return fmt.Errorf("memory append: empty session id")
	}

	s.mu.Lock()
	turns := append(s.sessions[sessionID], turn)
	if len(turns) > s.maxTurns {
		evicted := len(turns) - s.maxTurns
		turns = turns[evicted:]
		slog.Debug("Evicted oldest conversation turns",
			"session_id", sessionID,
			"evicted", evicted,
		)
	}
	s.sessions[sessionID] = turns
	snapshot := make([]datatypes.ConversationTurn, len(turns))
	copy(snapshot, turns)
	persister := s.persister
	s.mu.Unlock()

	if persister != nil {
		if err := persister.save(sessionID, snapshot); err != nil {
			// Persistence is best-effort; the in-memory state is
			// already updated.
			slog.Warn("Failed to persist session history", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// History returns up to limit most recent turns, oldest first. A limit
// <= 0 returns the full history. An unknown session returns an empty
// slice.
func (s *Store) History(sessionID string, limit int) []datatypes.ConversationTurn {
	s.mu.RLock()
	turns := s.sessions[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]datatypes.ConversationTurn, len(turns))
	copy(out, turns)
	s.mu.RUnlock()
	return out
}

// Len reports the number of turns stored for a session.
func (s *Store) Len(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID])
}

// Clear removes a session's history. Clearing an unknown session is a
// no-op.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	persister := s.persister
	s.mu.Unlock()

	if persister != nil {
		if err := persister.remove(sessionID); err != nil {
			slog.Warn("Failed to remove persisted session", "session_id", sessionID, "error", err)
		}
	}
}

// Sessions returns the known session IDs.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
