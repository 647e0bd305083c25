// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// Pipeline Error Taxonomy
// =============================================================================

// ValidationError rejects a malformed request before any work runs.
// Never retried.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %v", e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a request validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GenerationError is terminal for one pipeline run: the provider failed
// after the adapter's retries were exhausted.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Provider, e.Err)
}
func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err is a terminal generation failure.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// TimeoutError marks a run that exceeded its deadline. In multi-repo
// fan-out it is scoped to the failing repository.
type TimeoutError struct {
	Stage string
	Err   error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout during %s: %v", e.Stage, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeoutError reports whether err is a deadline failure.
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// asTimeout wraps context expiry into a TimeoutError, passing other
// errors through.
func asTimeout(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TimeoutError{Stage: stage, Err: err}
	}
	return err
}
