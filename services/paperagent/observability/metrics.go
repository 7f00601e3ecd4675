// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the paper agent.
//
// # Description
//
// This package implements Prometheus metrics for monitoring agent exchanges.
// Metrics include:
//   - Exchange counters (by intent category and outcome)
//   - Retrieval round histograms and fragment counters
//   - Completeness verdict counters
//   - Latency histograms (time to first token, exchange duration)
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for paper agent metrics
const agentSubsystem = "paperagent"

// AgentMetrics holds all Prometheus metrics for agent exchange operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring the retrieval
// loop and the streaming transport. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe. All helper methods are no-ops on a nil
// receiver, so packages under test need no registry.
type AgentMetrics struct {
	// ExchangesTotal counts completed exchanges.
	// Labels: category (intent category), status (ok, error)
	ExchangesTotal *prometheus.CounterVec

	// ExchangeDurationSeconds measures full exchange duration.
	// Labels: status (ok, error)
	ExchangeDurationSeconds *prometheus.HistogramVec

	// RetrievalRounds measures how many retrieve/evaluate rounds each
	// exchange used before terminating.
	RetrievalRounds prometheus.Histogram

	// FragmentsRetrievedTotal counts evidence fragments returned by
	// retrieval rounds, before deduplication.
	FragmentsRetrievedTotal prometheus.Counter

	// VerdictsTotal counts completeness verdicts.
	// Labels: sufficient (true, false)
	VerdictsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency from request to the first
	// streamed event reaching the client.
	TimeToFirstTokenSeconds prometheus.Histogram

	// ActiveStreams tracks currently open agent streams.
	ActiveStreams prometheus.Gauge

	// ErrorsTotal counts transport and loop errors by code.
	// Labels: error_code (policy_violation, validation, llm_error, ...)
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent on agent streams.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	ClientDisconnectsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of AgentMetrics.
// Initialized by InitMetrics(); nil until then, which disables recording.
var DefaultMetrics *AgentMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *AgentMetrics {
	DefaultMetrics = &AgentMetrics{
		ExchangesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "exchanges_total",
				Help:      "Total agent exchanges by intent category and status",
			},
			[]string{"category", "status"},
		),

		ExchangeDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "exchange_duration_seconds",
				Help:      "Full exchange duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		RetrievalRounds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "retrieval_rounds",
				Help:      "Retrieve/evaluate rounds used per exchange",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),

		FragmentsRetrievedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "fragments_retrieved_total",
				Help:      "Evidence fragments returned by retrieval, pre-dedup",
			},
		),

		VerdictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "verdicts_total",
				Help:      "Completeness verdicts by sufficiency",
			},
			[]string{"sufficient"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first streamed event in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "active_streams",
				Help:      "Currently open agent streaming connections",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "errors_total",
				Help:      "Total agent errors by code",
			},
			[]string{"error_code"},
		),

		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent on agent streams",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during agent streams",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodePolicyViolation indicates blocked due to policy scan.
	ErrorCodePolicyViolation ErrorCode = "policy_violation"

	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeLLMError indicates LLM API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeRetrievalError indicates vector search failure.
	ErrorCodeRetrievalError ErrorCode = "retrieval_error"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordExchange records a completed exchange with its duration.
//
// # Inputs
//
//   - category: The classified intent category; empty before classification.
//   - status: "ok" or "error".
//   - duration: Wall time of the exchange.
func (m *AgentMetrics) RecordExchange(category, status string, duration time.Duration) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unclassified"
	}
	m.ExchangesTotal.WithLabelValues(category, status).Inc()
	m.ExchangeDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRounds records how many retrieval rounds an exchange used.
func (m *AgentMetrics) RecordRounds(rounds int) {
	if m == nil {
		return
	}
	m.RetrievalRounds.Observe(float64(rounds))
}

// RecordFragments records fragments returned by one retrieval round.
func (m *AgentMetrics) RecordFragments(count int) {
	if m == nil {
		return
	}
	m.FragmentsRetrievedTotal.Add(float64(count))
}

// RecordVerdict records a completeness verdict.
func (m *AgentMetrics) RecordVerdict(sufficient bool) {
	if m == nil {
		return
	}
	label := "false"
	if sufficient {
		label = "true"
	}
	m.VerdictsTotal.WithLabelValues(label).Inc()
}

// RecordError records a transport or loop error.
func (m *AgentMetrics) RecordError(code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

// RecordTimeToFirstToken records latency to the first streamed event.
func (m *AgentMetrics) RecordTimeToFirstToken(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.Observe(d.Seconds())
}

// StreamStarted increments the active streams gauge.
func (m *AgentMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *AgentMetrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// RecordKeepAlive records a keepalive ping.
func (m *AgentMetrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect records a client disconnection.
func (m *AgentMetrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}
