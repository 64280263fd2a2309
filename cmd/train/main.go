// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package main is the Gatewatch training tool. It fits the scaler and
// isolation forest from session corpora and writes the artifact trio
// (scaler.json, forest.json, metadata.json) the scoring service loads.
//
// Train from collected corpora:
//
//	gatewatch-train -out artifacts human_sessions.csv bot_sessions.csv
//
// Bootstrap a model from synthetic sessions when no telemetry exists yet:
//
//	gatewatch-train -out artifacts -synthetic 1000
//
// Corpus files carry the canonical feature columns; the audit columns
// id, user_id, and created_at are dropped on load. An is_suspicious
// column is kept as a per-row label: the forest fit stays unsupervised,
// but fully labeled corpora additionally calibrate the trust mapping
// from the per-class score distributions.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gatewatch/gatewatch/internal/logging"
	"github.com/gatewatch/gatewatch/internal/training"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gatewatch-train:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		outDir        = flag.String("out", "artifacts", "artifact output directory")
		numTrees      = flag.Int("trees", 100, "number of isolation trees")
		sampleSize    = flag.Int("sample", 256, "subsample size per tree")
		contamination = flag.Float64("contamination", 0.1, "expected anomaly fraction in (0, 0.5)")
		seed          = flag.Int64("seed", 0, "training seed (0 uses the clock)")
		trusted       = flag.Float64("trusted", 0.55, "trust score at or above which a session passes")
		suspicious    = flag.Float64("suspicious", 0.45, "trust score below which a session is flagged")
		synthetic     = flag.Int("synthetic", 0, "generate this many synthetic sessions instead of reading corpora")
		logLevel      = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console", Timestamp: true})
	log := logging.WithComponent("train")

	opts := training.DefaultOptions()
	opts.NumTrees = *numTrees
	opts.SampleSize = *sampleSize
	opts.Contamination = *contamination
	opts.TrustedCutoff = *trusted
	opts.SuspiciousCutoff = *suspicious
	if *seed != 0 {
		opts.Seed = *seed
	}

	if *synthetic > 0 {
		return trainSynthetic(*synthetic, *outDir, opts)
	}

	paths := flag.Args()
	if len(paths) == 0 {
		return fmt.Errorf("no corpus files given (or use -synthetic N)")
	}
	artifact, err := training.TrainFiles(paths, *outDir, opts)
	if err != nil {
		return err
	}

	log.Info().
		Int("sessions", artifact.Meta.SampleCount).
		Float64("threshold", artifact.Meta.Threshold).
		Bool("calibrated", artifact.Meta.Calibration != nil).
		Str("out", *outDir).
		Msg("model trained")
	return nil
}

// trainSynthetic fits a bootstrap model from generated sessions and also
// writes the corpora next to the artifacts for inspection.
func trainSynthetic(n int, outDir string, opts training.Options) error {
	log := logging.WithComponent("train")

	// A tenth of the corpus is bot traffic, matching the contamination
	// assumption the model is fitted with.
	bots := n / 10
	humans := n - bots

	humanCorpus := training.Generate(training.ProfileHuman, humans, opts.Seed)
	botCorpus := training.Generate(training.ProfileBot, bots, opts.Seed+1)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := humanCorpus.WriteCSV(filepath.Join(outDir, "human_sessions.csv")); err != nil {
		return err
	}
	if err := botCorpus.WriteCSV(filepath.Join(outDir, "bot_sessions.csv")); err != nil {
		return err
	}

	merged, err := training.Merge(humanCorpus, botCorpus)
	if err != nil {
		return err
	}
	merged.FillMedians()

	artifact, err := training.Train(merged, opts)
	if err != nil {
		return err
	}
	if err := artifact.Save(outDir); err != nil {
		return err
	}

	log.Info().
		Int("humans", humans).
		Int("bots", bots).
		Float64("threshold", artifact.Meta.Threshold).
		Str("out", outDir).
		Msg("synthetic model trained")
	return nil
}
