// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package model implements the anomaly model used to judge checkout
// sessions: a standard scaler feeding an isolation forest, with JSON
// artifact persistence shared by the trainer and the scoring service.
package model

import "errors"

// Sentinel errors for the model pipeline. Callers classify failures with
// errors.Is; wrapped messages carry the detail.
var (
	// ErrData reports unusable training input: empty corpora, ragged
	// rows, or columns that cannot be parsed as numbers.
	ErrData = errors.New("invalid training data")

	// ErrModelFit reports a failure while fitting the scaler or forest.
	ErrModelFit = errors.New("model fit failed")

	// ErrSchemaMismatch reports disagreement between a feature vector's
	// field set and the field set the loaded model was trained on.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrArtifactLoad reports missing or corrupt model artifacts.
	ErrArtifactLoad = errors.New("artifact load failed")

	// ErrTransport reports a failure reaching a remote scoring service.
	ErrTransport = errors.New("scoring transport failed")
)

// ErrorClass names the taxonomy bucket of err for metrics and logging.
// Unclassified errors report "internal".
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrModelFit):
		return "model_fit"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrArtifactLoad):
		return "artifact_load"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "internal"
	}
}
