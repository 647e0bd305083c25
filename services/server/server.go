// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes the answer pipelines over HTTP: a streaming
// chat endpoint (SSE), single-shot RAG, multi-repository fan-out, and
// session administration.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lanternai/lantern/services/memory"
	"github.com/lanternai/lantern/services/multirepo"
	"github.com/lanternai/lantern/services/pipeline"
	"github.com/lanternai/lantern/services/research"
)

// serviceName labels traces emitted by the HTTP layer.
const serviceName = "lantern-server"

// defaultKeepAliveInterval paces SSE comment pings during long
// retrieval or generation stretches.
const defaultKeepAliveInterval = 15 * time.Second

// ProviderLister exposes the configured generator providers. Satisfied
// by *llm.Registry.
type ProviderLister interface {
	Names() []string
	DefaultProvider() string
}

// Server wires the pipelines behind the HTTP surface.
type Server struct {
	chat      *pipeline.ChatPipeline
	rag       *pipeline.RagPipeline
	research  *research.Controller
	multi     *multirepo.Coordinator
	memory    *memory.Store
	providers ProviderLister

	keepAliveInterval time.Duration
}

// New assembles a server. research and multi may be nil when those
// endpoints are not exposed.
func New(chat *pipeline.ChatPipeline, rag *pipeline.RagPipeline, rc *research.Controller, multi *multirepo.Coordinator, mem *memory.Store, providers ProviderLister) *Server {
	return &Server{
		chat:              chat,
		rag:               rag,
		research:          rc,
		multi:             multi,
		memory:            mem,
		providers:         providers,
		keepAliveInterval: defaultKeepAliveInterval,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/health", s.handleHealth)
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", s.handleChatStream)
		v1.POST("/rag", s.handleRag)
		v1.POST("/multirepo", s.handleMultiRepo)
		v1.GET("/providers", s.handleProviders)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", s.handleListSessions)
			sessions.GET("/:sessionId/history", s.handleSessionHistory)
			sessions.DELETE("/:sessionId", s.handleDeleteSession)
		}
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
