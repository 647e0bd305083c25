// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lanternai/lantern/services/datatypes"
)

// Persister writes session histories as one JSON file per session so
// conversations survive restarts.
type Persister struct {
	dir string
}

// NewPersister creates the directory if needed.
func NewPersister(dir string) (*Persister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir %s: %w", dir, err)
	}
	return &Persister{dir: dir}, nil
}

// WithPersistence attaches a persister and restores any sessions found
// on disk. Restored sessions are trimmed to the store's cap.
func (s *Store) WithPersistence(p *Persister) (*Store, error) {
	restored, err := p.loadAll()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for id, turns := range restored {
		if len(turns) > s.maxTurns {
			turns = turns[len(turns)-s.maxTurns:]
		}
		s.sessions[id] = turns
	}
	s.persister = p
	s.mu.Unlock()

	if len(restored) > 0 {
		slog.Info("Restored persisted sessions", "count", len(restored))
	}
	return s, nil
}

// sessionPath sanitizes the session ID into a file name.
func (p *Persister) sessionPath(sessionID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return filepath.Join(p.dir, safe+".json")
}

func (p *Persister) save(sessionID string, turns []datatypes.ConversationTurn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", sessionID, err)
	}
	path := p.sessionPath(sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing session %s: %w", sessionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming session %s: %w", sessionID, err)
	}
	return nil
}

func (p *Persister) remove(sessionID string) error {
	err := os.Remove(p.sessionPath(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (p *Persister) loadAll() (map[string][]datatypes.ConversationTurn, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("reading session dir %s: %w", p.dir, err)
	}

	sessions := make(map[string][]datatypes.ConversationTurn)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, entry.Name()))
		if err != nil {
			slog.Warn("Skipping unreadable session file", "file", entry.Name(), "error", err)
			continue
		}
		var turns []datatypes.ConversationTurn
		if err := json.Unmarshal(data, &turns); err != nil {
			slog.Warn("Skipping corrupt session file", "file", entry.Name(), "error", err)
			continue
		}
		sessionID := strings.TrimSuffix(entry.Name(), ".json")
		sessions[sessionID] = turns
	}
	return sessions, nil
}
