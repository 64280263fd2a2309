// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package training

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gatewatch/gatewatch/internal/logging"
	"github.com/gatewatch/gatewatch/internal/model"
)

// Options tune one training run. The cutoffs are recorded in the
// artifact metadata so a scorer without explicit configuration classifies
// the way the model was validated.
type Options struct {
	NumTrees         int
	SampleSize       int
	Contamination    float64
	Seed             int64
	TrustedCutoff    float64
	SuspiciousCutoff float64
}

// DefaultOptions mirror the shipped model configuration.
func DefaultOptions() Options {
	return Options{
		NumTrees:         model.DefaultNumTrees,
		SampleSize:       model.DefaultSampleSize,
		Contamination:    0.1,
		Seed:             time.Now().UnixNano(),
		TrustedCutoff:    0.55,
		SuspiciousCutoff: 0.45,
	}
}

// Train fits the scaler and forest over the corpus, derives the anomaly
// threshold at the (1 - contamination) quantile of the training scores,
// and, when the corpus carries class labels, calibrates the score-to-trust
// mapping against them. The fit itself never sees the labels. The corpus
// must already have missing values filled.
func Train(corpus *Corpus, opts Options) (*model.Artifact, error) {
	if corpus == nil || len(corpus.Rows) == 0 {
		return nil, fmt.Errorf("%w: empty training corpus", model.ErrData)
	}
	if opts.Contamination <= 0 || opts.Contamination >= 0.5 {
		return nil, fmt.Errorf("%w: contamination %v out of (0, 0.5)", model.ErrData, opts.Contamination)
	}

	log := logging.WithComponent("training")
	log.Info().
		Int("rows", len(corpus.Rows)).
		Int("columns", len(corpus.Columns)).
		Bool("labeled", corpus.Labeled()).
		Float64("contamination", opts.Contamination).
		Msg("fitting model")

	scaler := model.NewStandardScaler()
	if err := scaler.Fit(corpus.Rows); err != nil {
		return nil, err
	}
	scaled, err := scaler.TransformAll(corpus.Rows)
	if err != nil {
		return nil, err
	}

	forest := model.NewIsolationForest(opts.NumTrees, opts.SampleSize)
	if err := forest.Fit(scaled, opts.Seed); err != nil {
		return nil, err
	}

	scores := make([]float64, len(scaled))
	for i, row := range scaled {
		s, err := forest.Score(row)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}

	threshold := anomalyThreshold(scores, opts.Contamination)
	calibration := calibrate(scores, corpus.Suspicious)
	if calibration != nil {
		log.Info().
			Float64("human_mean", calibration.HumanMean).
			Float64("bot_mean", calibration.BotMean).
			Msg("calibrated score mapping against labeled corpus")
	}
	log.Info().Float64("threshold", threshold).Msg("model fitted")

	return &model.Artifact{
		Scaler: scaler,
		Forest: forest,
		Meta: model.Metadata{
			FeatureColumns:   append([]string(nil), corpus.Columns...),
			Contamination:    opts.Contamination,
			NumTrees:         forest.NumTrees,
			SampleSize:       forest.SampleSize,
			Seed:             opts.Seed,
			Threshold:        threshold,
			Calibration:      calibration,
			TrustedCutoff:    opts.TrustedCutoff,
			SuspiciousCutoff: opts.SuspiciousCutoff,
			SampleCount:      len(corpus.Rows),
			TrainedAt:        time.Now().UTC(),
		},
	}, nil
}

// anomalyThreshold returns the training-score value above which a
// contamination-sized fraction of the corpus falls.
func anomalyThreshold(scores []float64, contamination float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * (1 - contamination))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// calibrate fits one score Gaussian per class. Which class the forest
// scores higher depends on the corpus: bots rare in training isolate
// early and score high, while a corpus with a large block of
// near-identical bot sessions scores that block low. The per-class
// statistics let the scorer classify either way. Returns nil unless both
// classes have enough rows to estimate a spread.
func calibrate(scores []float64, suspicious []bool) *model.Calibration {
	if len(suspicious) != len(scores) {
		return nil
	}
	var human, bot []float64
	for i, s := range scores {
		if suspicious[i] {
			bot = append(bot, s)
		} else {
			human = append(human, s)
		}
	}
	if len(human) < 2 || len(bot) < 2 {
		return nil
	}
	hm, hs := meanStd(human)
	bm, bs := meanStd(bot)
	return &model.Calibration{HumanMean: hm, HumanStd: hs, BotMean: bm, BotStd: bs}
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	std := math.Sqrt(sq / float64(len(xs)))
	if std < 1e-6 {
		std = 1e-6
	}
	return mean, std
}

// TrainFiles loads the given corpus files, merges them, imputes missing
// values, fits the model, and writes the artifacts to outDir.
func TrainFiles(paths []string, outDir string, opts Options) (*model.Artifact, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no corpus files given", model.ErrData)
	}
	corpora := make([]*Corpus, 0, len(paths))
	for _, p := range paths {
		c, err := LoadCSV(p)
		if err != nil {
			return nil, err
		}
		corpora = append(corpora, c)
	}
	merged, err := Merge(corpora...)
	if err != nil {
		return nil, err
	}
	merged.FillMedians()

	artifact, err := Train(merged, opts)
	if err != nil {
		return nil, err
	}
	if err := artifact.Save(outDir); err != nil {
		return nil, err
	}
	return artifact, nil
}
