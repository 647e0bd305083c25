// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/lanternai/lantern/pkg/logging"
)

// --- Global Command Variables ---
var (
	logLevel     string
	logDir       string
	providerFile string
	cacheDir     string

	repoOwner string
	repoName  string
	repoPath  string

	providerName string
	modelName    string
	deepResearch bool
	sessionID    string
	watchTree    bool

	rootCmd = &cobra.Command{
		Use:   "lantern",
		Short: "Ask questions about code repositories with retrieval-augmented generation",
		Long: `Lantern indexes repository working trees into vector indexes and
answers natural-language questions about them, streaming responses
from a configurable LLM provider.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logging.New(logging.Config{
				Level:   logging.ParseLevel(logLevel),
				LogDir:  logDir,
				Service: "lantern",
				JSON:    cmd.Name() == "serve",
			})
			logger.Install()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server exposing chat, RAG, and multi-repo endpoints",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Build (or rebuild) the vector index for a repository working tree",
		RunE:  runIndex, // Defined in cmd_index.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a repository and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk, // Defined in cmd_ask.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envStr("LANTERN_LOG_LEVEL", "info"), "minimum log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", envStr("LANTERN_LOG_DIR", ""), "directory for JSON log files (empty disables)")
	rootCmd.PersistentFlags().StringVar(&providerFile, "providers", envStr("LANTERN_PROVIDERS_FILE", ""), "YAML provider registry (empty uses a single Ollama provider from env)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", envStr("LANTERN_CACHE_DIR", "~/.lantern/cache"), "index cache directory")

	for _, cmd := range []*cobra.Command{indexCmd, askCmd} {
		cmd.Flags().StringVar(&repoOwner, "owner", "local", "repository owner")
		cmd.Flags().StringVar(&repoName, "repo", "", "repository name (required)")
		cmd.Flags().StringVar(&repoPath, "path", ".", "repository working tree")
		_ = cmd.MarkFlagRequired("repo")
	}
	indexCmd.Flags().BoolVar(&watchTree, "watch", false, "keep running and rebuild the index on file changes")

	askCmd.Flags().StringVar(&providerName, "provider", "", "generator provider (empty uses the registry default)")
	askCmd.Flags().StringVar(&modelName, "model", "", "model override")
	askCmd.Flags().BoolVar(&deepResearch, "research", false, "run a multi-iteration deep-research session")
	askCmd.Flags().StringVar(&sessionID, "session", "", "conversation session id for multi-turn context")

	rootCmd.AddCommand(serveCmd, indexCmd, askCmd)
}
