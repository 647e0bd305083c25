// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lanternai/lantern/services/multirepo"
	"github.com/lanternai/lantern/services/observability"
	"github.com/lanternai/lantern/services/research"
	"github.com/lanternai/lantern/services/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cleanup, err := server.InitTracer(ctx)
	if err != nil {
		slog.Warn("Tracing disabled, OTLP exporter unavailable", "error", err)
	} else {
		defer cleanup(context.Background())
	}

	metrics := observability.NewPipelineMetrics(nil)
	eng, err := buildEngine(metrics)
	if err != nil {
		return err
	}

	rc := research.NewController(eng.chat, envInt("LANTERN_RESEARCH_MAX_ITERATIONS", research.DefaultMaxIterations))
	multi := multirepo.NewCoordinator(eng.rag, multirepo.Config{
		MaxConcurrency: envInt("LANTERN_MULTIREPO_CONCURRENCY", 0),
	})

	srv := server.New(eng.chat, eng.rag, rc, multi, eng.memory, eng.registry)

	port := envStr("LANTERN_PORT", "8080")
	slog.Info("Starting lantern server", "port", port)
	return srv.Router().Run(":" + port)
}
