// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorKind classifies a provider failure for retry and fallback decisions.
type ErrorKind string

const (
	// KindAuth: invalid or missing credentials. Fatal, never retried.
	KindAuth ErrorKind = "auth"

	// KindConfig: adapter misconfiguration (bad base URL, unknown model).
	// Fatal at startup, never retried.
	KindConfig ErrorKind = "config"

	// KindRateLimit: provider throttling. Retried with exponential
	// backoff up to the policy ceiling.
	KindRateLimit ErrorKind = "rate_limit"

	// KindTokenLimit: the prompt exceeded the model's context window.
	// Not retried here; the pipeline retries once with a trimmed prompt.
	KindTokenLimit ErrorKind = "token_limit"

	// KindNetwork: transport failure or 5xx. Retried a bounded number
	// of times.
	KindNetwork ErrorKind = "network"

	// KindCanceled: the caller's context expired or was canceled.
	KindCanceled ErrorKind = "canceled"

	// KindOther: anything unclassified. Not retried.
	KindOther ErrorKind = "other"
)

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the shared retry policy may retry this error.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindNetwork
}

// IsTokenLimit reports whether err is a token-limit provider error.
func IsTokenLimit(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindTokenLimit
}

// IsFatal reports whether err is an auth or config provider error.
func IsFatal(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && (pe.Kind == KindAuth || pe.Kind == KindConfig)
}

// KindOf returns the classification of err, or KindOther for foreign errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindOther
}

// =============================================================================
// Classification Helpers
// =============================================================================

// tokenLimitMarkers are substrings providers use to report context
// overflow. Checked case-insensitively against error codes and messages.
var tokenLimitMarkers = []string{
	"context_length_exceeded",
	"context length",
	"maximum context",
	"too many tokens",
	"token limit",
}

func looksLikeTokenLimit(code, message string) bool {
	probe := strings.ToLower(code + " " + message)
	for _, marker := range tokenLimitMarkers {
		if strings.Contains(probe, marker) {
			return true
		}
	}
	return false
}

// classifyHTTPStatus maps a status code onto an ErrorKind.
func classifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return KindConfig
	case status >= 500:
		return KindNetwork
	default:
		return KindOther
	}
}

// classifyOpenAIError converts a go-openai failure into a *ProviderError.
func classifyOpenAIError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Kind: KindCanceled, Message: err.Error(), Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		kind := classifyHTTPStatus(apiErr.HTTPStatusCode)
		if looksLikeTokenLimit(code, apiErr.Message) {
			kind = KindTokenLimit
		}
		return &ProviderError{
			Provider:   provider,
			Kind:       kind,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ProviderError{Provider: provider, Kind: KindNetwork, Message: err.Error(), Err: err}
	}

	return &ProviderError{Provider: provider, Kind: KindOther, Message: err.Error(), Err: err}
}

// classifyHTTPError converts a raw HTTP adapter failure (Ollama,
// llama.cpp) into a *ProviderError.
func classifyHTTPError(provider string, status int, body string, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &ProviderError{Provider: provider, Kind: KindCanceled, Message: err.Error(), Err: err}
		}
		return &ProviderError{Provider: provider, Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	kind := classifyHTTPStatus(status)
	if looksLikeTokenLimit("", body) {
		kind = KindTokenLimit
	}
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Message: body}
}
