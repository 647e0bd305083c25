// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/pipeline"
)

// =============================================================================
// Streaming Chat
// =============================================================================

// handleChatStream answers one conversational turn over SSE. Requests
// carrying the deep-research flag or marker run the full research loop
// instead of a single turn.
func (s *Server) handleChatStream(c *gin.Context) {
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	// Keepalive pings cover long retrieval and generation stretches.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if kerr := writer.WriteKeepAlive(); kerr != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	ctx := c.Request.Context()
	if s.research != nil && pipeline.IsResearchRequest(&req) {
		if _, rerr := s.research.Run(ctx, &req, writer.Sink()); rerr != nil {
			slog.Warn("Research session failed", "error", rerr)
		}
		return
	}

	// The pipeline emits its own terminal done or error event.
	if _, perr := s.chat.Run(ctx, &req, writer.Sink()); perr != nil {
		slog.Warn("Chat turn failed", "error", perr)
	}
}

// =============================================================================
// Single-Shot RAG
// =============================================================================

func (s *Server) handleRag(c *gin.Context) {
	var req datatypes.RagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := s.rag.Run(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Multi-Repository Fan-Out
// =============================================================================

func (s *Server) handleMultiRepo(c *gin.Context) {
	var req datatypes.MultiRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	merged, err := s.multi.Run(c.Request.Context(), &req, nil)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, merged)
}

// =============================================================================
// Providers
// =============================================================================

func (s *Server) handleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default":   s.providers.DefaultProvider(),
		"providers": s.providers.Names(),
	})
}

// =============================================================================
// Session Administration
// =============================================================================

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.memory.Sessions()})
}

func (s *Server) handleSessionHistory(c *gin.Context) {
	sessionID := c.Param("sessionId")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	turns := s.memory.History(sessionID, limit)
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	s.memory.Clear(sessionID)
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "deleted": true})
}

// =============================================================================
// Error Mapping
// =============================================================================

// statusForError maps pipeline error categories to HTTP status codes.
func statusForError(err error) int {
	switch {
	case pipeline.IsValidationError(err):
		return http.StatusBadRequest
	case pipeline.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	case pipeline.IsGenerationError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
