// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package scoring turns feature vectors into trust verdicts, either
// in-process from loaded model artifacts or by calling a remote scoring
// service.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewatch/gatewatch/internal/metrics"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

// Verdict is the gate-facing outcome of scoring a session.
type Verdict string

const (
	// VerdictAnalyzing means the evidence is still ambiguous.
	VerdictAnalyzing Verdict = "analyzing"

	// VerdictPassed means the session looks human.
	VerdictPassed Verdict = "passed"

	// VerdictFlagged means the session looks automated.
	VerdictFlagged Verdict = "flagged"
)

// Result is one scoring outcome. AnomalyScore is the raw forest score;
// TrustScore maps it through the model's calibration into [0, 1], higher
// meaning more human. Prediction is the model's own label at the trust
// midpoint, independent of the gate thresholds.
type Result struct {
	TrustScore   float64 `json:"trust_score"`
	AnomalyScore float64 `json:"anomaly_score"`
	Prediction   string  `json:"prediction"`
	Confidence   float64 `json:"confidence"`
	Verdict      Verdict `json:"verdict"`
}

// ModelInfo describes the loaded model for the info endpoint.
type ModelInfo struct {
	FeatureColumns []string  `json:"feature_columns"`
	Contamination  float64   `json:"contamination"`
	NumTrees       int       `json:"n_estimators"`
	SampleCount    int       `json:"sample_count"`
	TrainedAt      time.Time `json:"trained_at"`
}

// Scorer scores one feature vector. Implementations wrap the local model
// or a remote service; both classify failures through the model error
// taxonomy so the gate can distinguish transport trouble from bad input.
type Scorer interface {
	Score(ctx context.Context, fv telemetry.FeatureVector) (Result, error)
	Info(ctx context.Context) (ModelInfo, error)
}

// Thresholds bound the ambiguous band of the trust score.
type Thresholds struct {
	Trusted    float64
	Suspicious float64
}

// Classify maps a trust score to a verdict. Scores inside the open band
// between the thresholds stay analyzing.
func (t Thresholds) Classify(trust float64) Verdict {
	switch {
	case trust >= t.Trusted:
		return VerdictPassed
	case trust <= t.Suspicious:
		return VerdictFlagged
	default:
		return VerdictAnalyzing
	}
}

// ScoreFields scores a vector supplied as named fields, as the score API
// receives it. A field set that differs from the canonical schema reports
// ErrSchemaMismatch.
func ScoreFields(ctx context.Context, s Scorer, fields map[string]float64) (Result, error) {
	fv, ok := telemetry.FromMap(fields)
	if !ok {
		return Result{}, fmt.Errorf("%w: request fields do not match the model's feature set",
			model.ErrSchemaMismatch)
	}
	return s.Score(ctx, fv)
}

// observe records the shared scoring metrics for one attempt.
func observe(mode string, start time.Time, res Result, err error) {
	metrics.ScoreDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ScoreErrors.WithLabelValues(model.ErrorClass(err)).Inc()
		return
	}
	metrics.TrustScore.Observe(res.TrustScore)
}
