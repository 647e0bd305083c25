// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanternai/lantern/services/datatypes"
)

// =============================================================================
// SSE Writer
// =============================================================================

// SSEWriter serializes pipeline events to the SSE wire format:
//
//	event: {type}
//	data: {json}
//
// Each event gets a UUID id and a Unix-millisecond timestamp before it
// is written, then the response is flushed so tokens reach the client
// immediately.
//
// # Thread Safety
//
// Safe for concurrent use. Pipeline deltas and keepalive pings may come
// from different goroutines.
type SSEWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps a ResponseWriter for SSE output. The caller must
// set SSE headers first via SetSSEHeaders. Fails when the writer does
// not support flushing.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &SSEWriter{writer: w, flusher: flusher}, nil
}

// SetSSEHeaders configures the response headers for an event stream.
// Must run before the first write. X-Accel-Buffering disables proxy
// buffering so deltas are not batched.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent stamps and writes one event, flushing immediately.
func (w *SSEWriter) WriteEvent(event datatypes.PipelineEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.NewString()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteError writes a terminal error event with a sanitized message.
func (w *SSEWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.PipelineEvent{
		Type:  datatypes.EventError,
		Error: errMsg,
	})
}

// WriteKeepAlive writes an SSE comment to hold the connection open
// through load-balancer idle timeouts. Comments are invisible to SSE
// clients and carry no event metadata.
func (w *SSEWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// Sink adapts the writer to the pipeline's event callback.
func (w *SSEWriter) Sink() datatypes.EventSink {
	return w.WriteEvent
}
