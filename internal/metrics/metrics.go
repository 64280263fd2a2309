// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package metrics defines the Prometheus collectors exported by the
// Gatewatch server. All collectors are registered on the default registry
// at package load and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts telemetry events accepted into recorders,
	// labeled by event kind.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Subsystem: "telemetry",
		Name:      "events_ingested_total",
		Help:      "Telemetry events folded into session recorders.",
	}, []string{"kind"})

	// EventsRejected counts malformed events dropped at the API boundary.
	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Subsystem: "telemetry",
		Name:      "events_rejected_total",
		Help:      "Telemetry events rejected as malformed.",
	})

	// ActiveSessions tracks the number of live checkout sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatewatch",
		Subsystem: "session",
		Name:      "active",
		Help:      "Checkout sessions currently held in the registry.",
	})

	// SessionsExpired counts sessions removed by the TTL sweeper.
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Subsystem: "session",
		Name:      "expired_total",
		Help:      "Sessions evicted after exceeding their idle TTL.",
	})

	// ScoreDuration observes end-to-end scoring latency, labeled by the
	// scorer mode (local or remote).
	ScoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatewatch",
		Subsystem: "scoring",
		Name:      "duration_seconds",
		Help:      "Latency of feature vector scoring.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"mode"})

	// ScoreErrors counts scoring failures, labeled by error class.
	ScoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Subsystem: "scoring",
		Name:      "errors_total",
		Help:      "Scoring attempts that failed, by error class.",
	}, []string{"class"})

	// Verdicts counts gate verdicts as they are reached, labeled by
	// verdict and by whether the decision came from the periodic loop or
	// the forced final check.
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Subsystem: "gate",
		Name:      "verdicts_total",
		Help:      "Gate verdicts reached, by verdict and trigger.",
	}, []string{"verdict", "trigger"})

	// RescoreSkipped counts periodic ticks skipped because a previous
	// scoring call was still in flight.
	RescoreSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Subsystem: "gate",
		Name:      "rescore_skipped_total",
		Help:      "Periodic re-score ticks skipped due to an in-flight score.",
	})

	// TrustScore observes the distribution of computed trust scores.
	TrustScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gatewatch",
		Subsystem: "scoring",
		Name:      "trust_score",
		Help:      "Distribution of trust scores produced by the model.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// FeaturesPersisted counts feature vectors written to the feature sink.
	FeaturesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Subsystem: "store",
		Name:      "features_persisted_total",
		Help:      "Feature vectors written to the analytics store.",
	})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewatch",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route and status class.",
	}, []string{"route", "status"})

	// HTTPDuration observes request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatewatch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
