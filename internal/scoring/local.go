// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

// LocalScorer scores in-process from loaded model artifacts. It is
// stateless after construction and safe for concurrent use.
type LocalScorer struct {
	artifact   *model.Artifact
	thresholds Thresholds
}

// NewLocalScorer loads the artifact trio from dir and verifies the model
// was trained on the canonical feature set. A model trained on a
// different set would silently misread every vector, so the mismatch is
// rejected at startup rather than at scoring time. Zero-valued
// thresholds fall back to the cutoffs recorded in the artifact metadata.
func NewLocalScorer(dir string, thresholds Thresholds) (*LocalScorer, error) {
	artifact, err := model.Load(dir)
	if err != nil {
		return nil, err
	}
	return NewLocalScorerFromArtifact(artifact, thresholds)
}

// NewLocalScorerFromArtifact wraps an already-loaded artifact. Used by
// tests and by the trainer's self-check.
func NewLocalScorerFromArtifact(a *model.Artifact, thresholds Thresholds) (*LocalScorer, error) {
	if err := checkSchema(a.Meta.FeatureColumns); err != nil {
		return nil, err
	}
	if thresholds == (Thresholds{}) {
		thresholds = Thresholds{Trusted: a.Meta.TrustedCutoff, Suspicious: a.Meta.SuspiciousCutoff}
	}
	return &LocalScorer{artifact: a, thresholds: thresholds}, nil
}

func checkSchema(cols []string) error {
	want := telemetry.FeatureNames
	if len(cols) != len(want) {
		return fmt.Errorf("%w: model trained on %d features, runtime produces %d",
			model.ErrSchemaMismatch, len(cols), len(want))
	}
	for i, c := range cols {
		if c != want[i] {
			return fmt.Errorf("%w: model feature %d is %q, runtime produces %q",
				model.ErrSchemaMismatch, i, c, want[i])
		}
	}
	return nil
}

// Score scales the vector, runs the forest, and maps the anomaly score to
// trust and a verdict.
func (s *LocalScorer) Score(ctx context.Context, fv telemetry.FeatureVector) (res Result, err error) {
	start := time.Now()
	defer func() { observe("local", start, res, err) }()

	if err = ctx.Err(); err != nil {
		return Result{}, err
	}

	scaled, err := s.artifact.Scaler.Transform(fv.Values())
	if err != nil {
		return Result{}, err
	}
	anomaly, err := s.artifact.Forest.Score(scaled)
	if err != nil {
		return Result{}, err
	}

	res = s.resultFromAnomaly(anomaly)
	return res, nil
}

// trustSlope steepens the fallback sigmoid so that forest scores a few
// hundredths past the contamination threshold already read as decisive.
const trustSlope = 25

func (s *LocalScorer) resultFromAnomaly(anomaly float64) Result {
	trust := s.trustFromAnomaly(anomaly)
	prediction := "human"
	if trust < 0.5 {
		prediction = "bot"
	}

	return Result{
		TrustScore:   trust,
		AnomalyScore: anomaly,
		Prediction:   prediction,
		Confidence:   math.Abs(2*trust - 1),
		Verdict:      s.thresholds.Classify(trust),
	}
}

// trustFromAnomaly maps the raw forest score to [0, 1]. With a calibrated
// model, trust is the posterior of the human class under the two score
// Gaussians recorded at training time; the comparison carries its own
// orientation, so it stays correct whether bot sessions isolate early
// (high scores) or cluster into a dense low-scoring block. An
// uncalibrated model falls back to a sigmoid around the contamination
// threshold, treating high scores as suspect.
func (s *LocalScorer) trustFromAnomaly(anomaly float64) float64 {
	if cal := s.artifact.Meta.Calibration; cal != nil {
		zh := (anomaly - cal.HumanMean) / cal.HumanStd
		zb := (anomaly - cal.BotMean) / cal.BotStd
		logOdds := (0.5*zb*zb + math.Log(cal.BotStd)) - (0.5*zh*zh + math.Log(cal.HumanStd))
		return logistic(logOdds)
	}
	return logistic(-trustSlope * (anomaly - s.artifact.Meta.Threshold))
}

func logistic(x float64) float64 {
	switch {
	case x > 40:
		return 1
	case x < -40:
		return 0
	default:
		return 1 / (1 + math.Exp(-x))
	}
}

// Info reports the loaded model's provenance.
func (s *LocalScorer) Info(ctx context.Context) (ModelInfo, error) {
	m := s.artifact.Meta
	return ModelInfo{
		FeatureColumns: m.FeatureColumns,
		Contamination:  m.Contamination,
		NumTrees:       m.NumTrees,
		SampleCount:    m.SampleCount,
		TrainedAt:      m.TrainedAt,
	}, nil
}
