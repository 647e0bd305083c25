// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Pipeline Events
// =============================================================================

// EventType identifies one kind of PipelineEvent.
type EventType string

const (
	// EventProgress reports a human-readable pipeline status change
	// ("retrieving context", "answering without retrieved context", ...).
	EventProgress EventType = "progress"

	// EventSources carries the retrieved sources before generation starts.
	EventSources EventType = "sources"

	// EventDelta carries one streamed text fragment from the generator.
	EventDelta EventType = "delta"

	// EventFallback signals that a token-limit retry trimmed the prompt.
	// Emitted once, before the retried generation's deltas.
	EventFallback EventType = "fallback"

	// EventDone terminates the stream. The event carries the session id
	// and final usage counters.
	EventDone EventType = "done"

	// EventError terminates the stream with a caller-renderable error.
	EventError EventType = "error"
)

// PipelineEvent is the structured event a pipeline emits to its caller.
//
// The core is transport-agnostic: the server layer serializes events to
// SSE, a CLI may print them, tests collect them in a slice.
type PipelineEvent struct {
	// Id is a UUID v4 assigned by the emitting writer, used for ordering
	// and deduplication on the wire. Empty until written.
	Id string `json:"id,omitempty"`

	Type EventType `json:"type"`

	// Content holds the text fragment for delta events.
	Content string `json:"content,omitempty"`

	// Message holds the status text for progress/fallback events and the
	// detail text for error events.
	Message string `json:"message,omitempty"`

	// Sources is populated on sources events.
	Sources []SourceInfo `json:"sources,omitempty"`

	// SessionId is populated on done events.
	SessionId string `json:"session_id,omitempty"`

	// Usage is populated on done events when the provider reported it.
	Usage *TokenUsage `json:"usage,omitempty"`

	Error string `json:"error,omitempty"`

	// CreatedAt is a Unix-millisecond timestamp set by the writer.
	CreatedAt int64 `json:"created_at,omitempty"`
}

// EventSink receives pipeline events in emission order. Returning an
// error aborts the pipeline run (client disconnect).
type EventSink func(event PipelineEvent) error
