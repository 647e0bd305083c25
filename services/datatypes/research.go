// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Deep Research State
// =============================================================================

// ResearchStage is the lifecycle stage of a deep-research session.
type ResearchStage string

const (
	ResearchIdle        ResearchStage = "idle"
	ResearchResearching ResearchStage = "researching"
	ResearchConcluded   ResearchStage = "concluded"
	ResearchAbandoned   ResearchStage = "abandoned"
)

// ResearchState tracks one deep-research session across iterations.
//
// Iteration is monotonic and never exceeds MaxIterations; the controller
// owning this state enforces the cap.
type ResearchState struct {
	SessionId string        `json:"session_id"`
	Stage     ResearchStage `json:"stage"`
	Iteration int           `json:"iteration"`

	// MaxIterations is the configured iteration cap for this session.
	MaxIterations int `json:"max_iterations"`

	// Findings accumulates the partial findings emitted per iteration,
	// in iteration order.
	Findings []string `json:"findings"`

	// Truncated is set when the session was force-concluded because the
	// iteration cap was reached while the model still signaled
	// continuation.
	Truncated bool `json:"truncated"`
}

// Active reports whether the session still accepts research turns.
func (s *ResearchState) Active() bool {
	return s.Stage == ResearchResearching
}
