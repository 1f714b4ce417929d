// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the chat platform.
//
// # Description
//
// Metrics cover the full chat turn: request counters by transport and
// status, guardrail blocks by reason, retrieval latency and result counts,
// token usage by model, and title generation outcomes. Exposed via the
// /metrics endpoint for Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default is the process-wide metrics instance, nil until Init runs.
// Recording sites nil-check it so packages stay usable in tests without
// touching the global registry.
var Default *ChatMetrics

var initOnce sync.Once

// Init registers Default against the default Prometheus registerer.
// Subsequent calls return the same instance.
func Init() *ChatMetrics {
	initOnce.Do(func() {
		Default = NewChatMetrics(prometheus.DefaultRegisterer)
	})
	return Default
}

const metricsNamespace = "aleutian"

const chatSubsystem = "chat"

// Transport labels which surface served a chat turn.
type Transport string

const (
	TransportJSON      Transport = "json"
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

// BlockReason labels why the guardrail engine refused a query.
type BlockReason string

const (
	BlockReasonForbidden BlockReason = "forbidden_topic"
	BlockReasonOffTopic  BlockReason = "off_topic"
)

// ChatMetrics holds all Prometheus metrics for chat pipeline operations.
type ChatMetrics struct {
	// RequestsTotal counts chat turns by transport and status.
	// Labels: transport (json, sse, websocket), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// BlockedQueriesTotal counts guardrail refusals.
	// Labels: bot_id, reason (forbidden_topic, off_topic)
	BlockedQueriesTotal *prometheus.CounterVec

	// RetrievalDurationSeconds measures context retrieval latency.
	// Labels: source (vector, keyword)
	RetrievalDurationSeconds *prometheus.HistogramVec

	// CitationsReturned measures how many chunks each retrieval yielded.
	CitationsReturned prometheus.Histogram

	// TokensTotal counts tokens by direction and model.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// TurnDurationSeconds measures full chat turn duration.
	// Labels: transport, status
	TurnDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming connections.
	// Labels: transport (sse, websocket)
	ActiveStreams *prometheus.GaugeVec

	// TitlesTotal counts title generation outcomes.
	// Labels: status (generated, skipped, failed)
	TitlesTotal *prometheus.CounterVec
}

// NewChatMetrics creates and registers the chat metrics against reg.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry so parallel packages do not collide.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)
	return &ChatMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total chat turns by transport and status",
			},
			[]string{"transport", "status"},
		),

		BlockedQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "blocked_queries_total",
				Help:      "Guardrail refusals by bot and reason",
			},
			[]string{"bot_id", "reason"},
		),

		RetrievalDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "retrieval_duration_seconds",
				Help:      "Context retrieval latency by search source",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"source"},
		),

		CitationsReturned: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "citations_returned",
				Help:      "Chunks returned per retrieval",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "tokens_total",
				Help:      "Tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Full chat turn duration",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"transport", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Currently open streaming connections",
			},
			[]string{"transport"},
		),

		TitlesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "titles_total",
				Help:      "Title generation outcomes",
			},
			[]string{"status"},
		),
	}
}

// RecordRequest records a completed chat turn.
func (m *ChatMetrics) RecordRequest(transport Transport, success bool) {
	m.RequestsTotal.WithLabelValues(string(transport), statusLabel(success)).Inc()
}

// RecordBlocked records a guardrail refusal.
func (m *ChatMetrics) RecordBlocked(botID string, reason BlockReason) {
	m.BlockedQueriesTotal.WithLabelValues(botID, string(reason)).Inc()
}

// RecordRetrieval records retrieval latency and result count.
func (m *ChatMetrics) RecordRetrieval(source string, seconds float64, citations int) {
	m.RetrievalDurationSeconds.WithLabelValues(source).Observe(seconds)
	m.CitationsReturned.Observe(float64(citations))
}

// RecordTokens records token usage for one generation.
func (m *ChatMetrics) RecordTokens(inputTokens, outputTokens int, model string) {
	m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// RecordTurnDuration records the wall time of one chat turn.
func (m *ChatMetrics) RecordTurnDuration(transport Transport, seconds float64, success bool) {
	m.TurnDurationSeconds.WithLabelValues(string(transport), statusLabel(success)).Observe(seconds)
}

// StreamStarted increments the active streams gauge.
func (m *ChatMetrics) StreamStarted(transport Transport) {
	m.ActiveStreams.WithLabelValues(string(transport)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *ChatMetrics) StreamEnded(transport Transport) {
	m.ActiveStreams.WithLabelValues(string(transport)).Dec()
}

// RecordTitle records a title generation outcome.
func (m *ChatMetrics) RecordTitle(status string) {
	m.TitlesTotal.WithLabelValues(status).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
