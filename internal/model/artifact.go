// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
)

// Artifact file names inside an artifact directory.
const (
	ScalerFile   = "scaler.json"
	ForestFile   = "forest.json"
	MetadataFile = "metadata.json"
)

// Calibration holds per-class statistics of the forest's scores over a
// labeled training corpus. When present, trust is the posterior of the
// human class under two score Gaussians; the raw forest score is never
// compared against a fixed cutoff, because which class scores higher
// depends on the corpus composition.
type Calibration struct {
	HumanMean float64 `json:"human_mean"`
	HumanStd  float64 `json:"human_std"`
	BotMean   float64 `json:"bot_mean"`
	BotStd    float64 `json:"bot_std"`
}

// Metadata describes a trained model: the exact feature columns it was
// fitted on, the forest shape, the anomaly threshold derived from the
// contamination rate, and the verdict cutoffs the model was validated
// with. The column list is the schema contract enforced at scoring time.
type Metadata struct {
	FeatureColumns   []string     `json:"feature_columns"`
	Contamination    float64      `json:"contamination"`
	NumTrees         int          `json:"n_estimators"`
	SampleSize       int          `json:"sample_size"`
	Seed             int64        `json:"seed"`
	Threshold        float64      `json:"anomaly_threshold"`
	Calibration      *Calibration `json:"calibration,omitempty"`
	TrustedCutoff    float64      `json:"trusted_cutoff"`
	SuspiciousCutoff float64      `json:"suspicious_cutoff"`
	SampleCount      int          `json:"sample_count"`
	TrainedAt        time.Time    `json:"trained_at"`
}

// Artifact bundles a fitted scaler and forest with their metadata.
type Artifact struct {
	Scaler *StandardScaler
	Forest *IsolationForest
	Meta   Metadata
}

// Save writes the three artifact files into dir, creating it as needed.
func (a *Artifact) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, ScalerFile), a.Scaler); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, ForestFile), a.Forest); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, MetadataFile), a.Meta)
}

// Load reads and validates the artifact trio from dir. Any missing file,
// parse failure, or internally inconsistent artifact reports
// ErrArtifactLoad.
func Load(dir string) (*Artifact, error) {
	a := &Artifact{
		Scaler: &StandardScaler{},
		Forest: &IsolationForest{},
	}
	if err := readJSON(filepath.Join(dir, ScalerFile), a.Scaler); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, ForestFile), a.Forest); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, MetadataFile), &a.Meta); err != nil {
		return nil, err
	}

	if len(a.Meta.FeatureColumns) == 0 {
		return nil, fmt.Errorf("%w: metadata lists no feature columns", ErrArtifactLoad)
	}
	if len(a.Scaler.Mean) != len(a.Meta.FeatureColumns) {
		return nil, fmt.Errorf("%w: scaler has %d features, metadata lists %d",
			ErrArtifactLoad, len(a.Scaler.Mean), len(a.Meta.FeatureColumns))
	}
	if len(a.Forest.Trees) == 0 {
		return nil, fmt.Errorf("%w: forest has no trees", ErrArtifactLoad)
	}
	if cal := a.Meta.Calibration; cal != nil && (cal.HumanStd <= 0 || cal.BotStd <= 0) {
		return nil, fmt.Errorf("%w: calibration has non-positive score spread", ErrArtifactLoad)
	}
	a.Scaler.fitted = true
	return a, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrArtifactLoad, filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrArtifactLoad, filepath.Base(path), err)
	}
	return nil
}
