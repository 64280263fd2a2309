// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package model

import (
	"fmt"
	"math"
	"math/rand"
)

// Isolation forest defaults, matching the trained artifact shipped with
// the service.
const (
	DefaultNumTrees   = 100
	DefaultSampleSize = 256
)

// IsolationForest scores vectors by how quickly random axis-aligned
// splits isolate them. Scores lie in (0,1); values near 1 mean the point
// separates from the corpus after very few splits and is anomalous,
// values near 0.5 and below look like the training population.
type IsolationForest struct {
	Trees      []*isoTree `json:"trees"`
	NumTrees   int        `json:"num_trees"`
	SampleSize int        `json:"sample_size"`
	HeightLim  int        `json:"height_limit"`
}

type isoTree struct {
	Root *isoNode `json:"root"`
}

type isoNode struct {
	Leaf     bool     `json:"leaf"`
	Size     int      `json:"size,omitempty"`
	Dim      int      `json:"dim,omitempty"`
	SplitVal float64  `json:"split,omitempty"`
	Left     *isoNode `json:"left,omitempty"`
	Right    *isoNode `json:"right,omitempty"`
}

// NewIsolationForest returns an empty forest with the given shape.
// Non-positive arguments fall back to the defaults.
func NewIsolationForest(numTrees, sampleSize int) *IsolationForest {
	if numTrees <= 0 {
		numTrees = DefaultNumTrees
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &IsolationForest{
		NumTrees:   numTrees,
		SampleSize: sampleSize,
		HeightLim:  int(math.Ceil(math.Log2(float64(sampleSize)))),
	}
}

// Fit builds the forest over the scaled training matrix. The seed makes
// training reproducible; the trainer records it in the artifact metadata.
func (f *IsolationForest) Fit(rows [][]float64, seed int64) error {
	if len(rows) < 2 {
		return fmt.Errorf("%w: need at least 2 samples, got %d", ErrModelFit, len(rows))
	}
	dims := len(rows[0])
	for _, row := range rows {
		if len(row) != dims {
			return fmt.Errorf("%w: ragged training matrix", ErrModelFit)
		}
	}

	sample := f.SampleSize
	if sample > len(rows) {
		sample = len(rows)
	}
	// Score normalizes by cFactor(SampleSize), so the recorded size must be
	// the one the trees were actually built from.
	f.SampleSize = sample
	f.HeightLim = int(math.Ceil(math.Log2(float64(sample))))

	rng := rand.New(rand.NewSource(seed))
	f.Trees = make([]*isoTree, f.NumTrees)
	for i := range f.Trees {
		sub := make([][]float64, sample)
		for j := range sub {
			sub[j] = rows[rng.Intn(len(rows))]
		}
		f.Trees[i] = &isoTree{Root: buildIsoNode(sub, 0, f.HeightLim, rng)}
	}
	return nil
}

func buildIsoNode(rows [][]float64, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(rows) <= 1 {
		return &isoNode{Leaf: true, Size: len(rows)}
	}

	dim := rng.Intn(len(rows[0]))
	lo, hi := rows[0][dim], rows[0][dim]
	for _, row := range rows[1:] {
		if row[dim] < lo {
			lo = row[dim]
		}
		if row[dim] > hi {
			hi = row[dim]
		}
	}
	if lo == hi {
		return &isoNode{Leaf: true, Size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range rows {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		Dim:      dim,
		SplitVal: split,
		Left:     buildIsoNode(left, depth+1, limit, rng),
		Right:    buildIsoNode(right, depth+1, limit, rng),
	}
}

// Score returns the anomaly score of one scaled vector.
func (f *IsolationForest) Score(vec []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("%w: forest not fitted", ErrModelFit)
	}
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree.Root, vec, 0)
	}
	avg := total / float64(len(f.Trees))
	c := cFactor(f.SampleSize)
	if c == 0 {
		return 0.5, nil
	}
	return math.Pow(2, -avg/c), nil
}

func pathLength(n *isoNode, vec []float64, depth float64) float64 {
	if n.Leaf {
		if n.Size > 1 {
			return depth + cFactor(n.Size)
		}
		return depth
	}
	if vec[n.Dim] < n.SplitVal {
		return pathLength(n.Left, vec, depth+1)
	}
	return pathLength(n.Right, vec, depth+1)
}

// cFactor is the average path length of an unsuccessful BST search over n
// points, the normalization constant from the isolation forest paper.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	nf := float64(n)
	return 2*(math.Log(nf-1)+0.5772156649) - 2*(nf-1)/nf
}
