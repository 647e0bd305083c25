// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// Shared Retry Policy
// =============================================================================

// RetryPolicy is the single retry strategy shared by every adapter.
//
// # Description
//
// Classification decides the strategy per attempt:
//
//   - rate_limit: exponential backoff (InitialDelay doubling) until the
//     cumulative wait would exceed BackoffCeiling.
//   - network: up to MaxNetworkRetries additional attempts.
//   - auth/config/token_limit/canceled/other: surfaced immediately.
//
// A retry is skipped when the remaining context deadline is smaller than
// the next backoff delay plus MinAttemptBudget; the last error is
// surfaced instead of burning the deadline on a doomed attempt.
//
// # Thread Safety
//
// Safe for concurrent use. The optional Limiter paces all calls that
// share the policy.
type RetryPolicy struct {
	// MaxNetworkRetries is the number of retries after a network
	// failure. Default 2.
	MaxNetworkRetries int

	// InitialDelay seeds the exponential backoff. Default 1s.
	InitialDelay time.Duration

	// BackoffCeiling caps the cumulative backoff wait for rate-limit
	// errors. Default 30s.
	BackoffCeiling time.Duration

	// MinAttemptBudget is the minimum remaining deadline required to
	// start another attempt. Default 2s.
	MinAttemptBudget time.Duration

	// Limiter optionally paces outbound provider calls. Nil disables
	// pacing.
	Limiter *rate.Limiter
}

// DefaultRetryPolicy returns the policy used when a provider config does
// not override it.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxNetworkRetries: 2,
		InitialDelay:      1 * time.Second,
		BackoffCeiling:    30 * time.Second,
		MinAttemptBudget:  2 * time.Second,
	}
}

func (p *RetryPolicy) defaults() (networkRetries int, initial, ceiling, minBudget time.Duration) {
	networkRetries = p.MaxNetworkRetries
	if networkRetries == 0 {
		networkRetries = 2
	}
	initial = p.InitialDelay
	if initial == 0 {
		initial = time.Second
	}
	ceiling = p.BackoffCeiling
	if ceiling == 0 {
		ceiling = 30 * time.Second
	}
	minBudget = p.MinAttemptBudget
	if minBudget == 0 {
		minBudget = 2 * time.Second
	}
	return
}

// budgetAllows reports whether the context deadline leaves room for a
// wait of delay plus one more attempt.
func budgetAllows(ctx context.Context, delay, minBudget time.Duration) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > delay+minBudget
}

// Do runs op, retrying per the policy. The returned error is the last
// classified failure.
func (p *RetryPolicy) Do(ctx context.Context, provider string, op func(ctx context.Context) error) error {
	networkRetries, initial, ceiling, minBudget := p.defaults()

	var lastErr error
	delay := initial
	waited := time.Duration(0)
	networkAttempts := 0

	for {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return &ProviderError{Provider: provider, Kind: KindCanceled, Message: err.Error(), Err: err}
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		switch KindOf(lastErr) {
		case KindRateLimit:
			if waited+delay > ceiling || !budgetAllows(ctx, delay, minBudget) {
				return lastErr
			}
			slog.Warn("Provider rate limited, backing off",
				"provider", provider,
				"delay", delay,
			)
			select {
			case <-ctx.Done():
				return &ProviderError{Provider: provider, Kind: KindCanceled, Message: ctx.Err().Error(), Err: ctx.Err()}
			case <-time.After(delay):
			}
			waited += delay
			delay *= 2

		case KindNetwork:
			if networkAttempts >= networkRetries || !budgetAllows(ctx, initial, minBudget) {
				return lastErr
			}
			networkAttempts++
			slog.Warn("Provider network failure, retrying",
				"provider", provider,
				"attempt", networkAttempts,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return &ProviderError{Provider: provider, Kind: KindCanceled, Message: ctx.Err().Error(), Err: ctx.Err()}
			case <-time.After(initial):
			}

		default:
			return lastErr
		}
	}
}
