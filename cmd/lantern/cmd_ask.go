// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lanternai/lantern/services/datatypes"
	"github.com/lanternai/lantern/services/research"
)

func runAsk(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine(nil)
	if err != nil {
		return err
	}
	repo, err := resolveRepo()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := &datatypes.ChatRequest{
		SessionId:    sessionID,
		Repo:         repo,
		Messages:     []datatypes.Message{{Role: datatypes.RoleUser, Content: strings.Join(args, " ")}},
		Provider:     providerName,
		Model:        modelName,
		DeepResearch: deepResearch,
	}

	sink := func(event datatypes.PipelineEvent) error {
		switch event.Type {
		case datatypes.EventDelta:
			fmt.Print(event.Content)
		case datatypes.EventProgress, datatypes.EventFallback:
			fmt.Fprintf(os.Stderr, "· %s\n", event.Message)
		case datatypes.EventSources:
			for _, src := range event.Sources {
				fmt.Fprintf(os.Stderr, "· source %s (%.3f)\n", src.FilePath, src.Score)
			}
		case datatypes.EventDone:
			fmt.Println()
			if event.SessionId != "" {
				fmt.Fprintf(os.Stderr, "· session %s\n", event.SessionId)
			}
		}
		return nil
	}

	if deepResearch {
		rc := research.NewController(eng.chat, envInt("LANTERN_RESEARCH_MAX_ITERATIONS", research.DefaultMaxIterations))
		outcome, rerr := rc.Run(ctx, req, sink)
		if rerr != nil {
			return rerr
		}
		if outcome.State.Truncated {
			fmt.Fprintln(os.Stderr, "· research stopped at the iteration cap")
		}
		return nil
	}

	_, err = eng.chat.Run(ctx, req, sink)
	return err
}
