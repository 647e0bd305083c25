// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/lanternai/lantern/services/datatypes"
)

// =============================================================================
// Prompt Assembly
// =============================================================================

// ContinuationMarker is the structured tag a deep-research turn emits
// when more investigation is needed. Detection is isolated in the
// research package; the prompt here states the contract to the model.
const ContinuationMarker = "[RESEARCH_CONTINUES]"

const simpleSystemPrompt = `You are a code assistant answering questions about the repository %s.
Ground every claim in the provided context. When the context does not
cover the question, say so instead of guessing. Reference files by their
repository-relative paths.`

const deepResearchSystemPrompt = `You are a code assistant conducting a multi-step investigation of the
repository %s. Work incrementally:

1. Report the findings this step established, grounded in the provided context.
2. If open questions remain that another retrieval round could answer,
   end your reply with the exact tag %s on its own line.
3. When the investigation is complete, summarize all findings and do NOT
   emit the tag.

Reference files by their repository-relative paths.`

const degradedNotice = "Note: repository context retrieval failed for this turn; answer from the conversation only and say the repository context is unavailable."

// promptInput carries everything the builder folds into one message list.
type promptInput struct {
	repo      datatypes.RepositoryContext
	research  bool
	degraded  bool
	documents []datatypes.ScoredDocument
	fileScope []scopedFile
	findings  []string
	history   []datatypes.ConversationTurn
	userQuery string
}

// scopedFile is raw file content injected by a file-scope directive.
type scopedFile struct {
	path    string
	content string
}

// buildMessages assembles the final provider-neutral message list:
// system prompt, context block, hidden findings, history, user turn.
func buildMessages(in promptInput) []datatypes.Message {
	var system strings.Builder
	if in.research {
		fmt.Fprintf(&system, deepResearchSystemPrompt, in.repo.Slug(), ContinuationMarker)
	} else {
		fmt.Fprintf(&system, simpleSystemPrompt, in.repo.Slug())
	}

	if context := renderContext(in); context != "" {
		system.WriteString("\n\n")
		system.WriteString(context)
	}
	if in.degraded {
		system.WriteString("\n\n")
		system.WriteString(degradedNotice)
	}
	if len(in.findings) > 0 {
		system.WriteString("\n\n## Findings from earlier research steps\n")
		for i, finding := range in.findings {
			fmt.Fprintf(&system, "\n### Step %d\n%s\n", i+1, finding)
		}
	}

	messages := make([]datatypes.Message, 0, len(in.history)+2)
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleSystem,
		Content: system.String(),
	})
	for _, turn := range in.history {
		messages = append(messages, datatypes.Message{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleUser,
		Content: in.userQuery,
	})
	return messages
}

// renderContext formats retrieved chunks and scoped files into one
// context block. Scoped files come first; they were requested by path
// and outrank similarity hits.
func renderContext(in promptInput) string {
	if len(in.documents) == 0 && len(in.fileScope) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Repository context\n")
	for _, file := range in.fileScope {
		fmt.Fprintf(&b, "\n### File: %s\n```\n%s\n```\n", file.path, file.content)
	}
	for _, sd := range in.documents {
		fmt.Fprintf(&b, "\n### %s (relevance %.3f)\n```\n%s\n```\n",
			sd.Document.Metadata.FilePath, sd.Score, sd.Document.Content)
	}
	return b.String()
}
