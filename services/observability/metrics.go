// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the answer
// pipelines.
//
// # Description
//
// Metrics cover pipeline runs (by kind and outcome), run duration,
// context-window fallbacks, active streams, and token usage. Expose them
// via /metrics and scrape with Prometheus.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "lantern"

const pipelineSubsystem = "pipeline"

// PipelineMetrics holds the Prometheus collectors for pipeline runs.
// It satisfies the pipeline package's Metrics interface.
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// RunsTotal counts pipeline runs by kind and outcome.
	// Labels: kind (chat, rag), outcome (ok, error)
	RunsTotal *prometheus.CounterVec

	// RunDurationSeconds measures end-to-end pipeline duration.
	// Labels: kind (chat, rag), outcome (ok, error)
	RunDurationSeconds *prometheus.HistogramVec

	// RunsInFlight tracks currently executing runs.
	// Labels: kind (chat, rag)
	RunsInFlight *prometheus.GaugeVec

	// FallbacksTotal counts context-window fallback retries.
	FallbacksTotal prometheus.Counter

	// TokensTotal counts tokens by direction.
	// Labels: direction (prompt, completion)
	TokensTotal *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers the collectors on reg.
// A nil reg uses the default registry. Registering the same registry
// twice panics, so call once at startup.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PipelineMetrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "runs_total",
				Help:      "Total pipeline runs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		RunDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "run_duration_seconds",
				Help:      "End-to-end pipeline run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind", "outcome"},
		),

		RunsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "runs_in_flight",
				Help:      "Pipeline runs currently executing",
			},
			[]string{"kind"},
		),

		FallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "fallbacks_total",
				Help:      "Context-window fallback retries",
			},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tokens_total",
				Help:      "Tokens processed by direction",
			},
			[]string{"direction"},
		),
	}
}

// =============================================================================
// pipeline.Metrics
// =============================================================================

// PipelineStarted marks a run in flight.
func (m *PipelineMetrics) PipelineStarted(kind string) {
	m.RunsInFlight.WithLabelValues(kind).Inc()
}

// PipelineFinished records a finished run with its outcome and duration.
func (m *PipelineMetrics) PipelineFinished(kind, outcome string, seconds float64) {
	m.RunsInFlight.WithLabelValues(kind).Dec()
	m.RunsTotal.WithLabelValues(kind, outcome).Inc()
	m.RunDurationSeconds.WithLabelValues(kind, outcome).Observe(seconds)
}

// FallbackTriggered records one context-window fallback retry.
func (m *PipelineMetrics) FallbackTriggered() {
	m.FallbacksTotal.Inc()
}

// RecordTokens records token usage for a completed generation.
func (m *PipelineMetrics) RecordTokens(promptTokens, completionTokens int) {
	m.TokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	m.TokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
}
