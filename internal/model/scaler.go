// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package model

import (
	"fmt"
	"math"
)

// StandardScaler normalizes features to zero mean and unit variance using
// statistics captured at fit time. A feature that is constant in the
// training corpus keeps a standard deviation of 1 so transformation maps
// it to zero instead of dividing by zero.
type StandardScaler struct {
	Mean   []float64 `json:"mean"`
	StdDev []float64 `json:"std_dev"`
	fitted bool
}

// NewStandardScaler returns an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit computes per-feature mean and population standard deviation over
// the training matrix. Rows must be non-empty and rectangular.
func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: scaler fit on empty matrix", ErrModelFit)
	}
	dims := len(rows[0])
	if dims == 0 {
		return fmt.Errorf("%w: scaler fit on zero-width matrix", ErrModelFit)
	}

	s.Mean = make([]float64, dims)
	s.StdDev = make([]float64, dims)

	for _, row := range rows {
		if len(row) != dims {
			return fmt.Errorf("%w: ragged row, got %d columns want %d", ErrModelFit, len(row), dims)
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(rows))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range rows {
		for j, v := range row {
			d := v - s.Mean[j]
			s.StdDev[j] += d * d
		}
	}
	for j := range s.StdDev {
		s.StdDev[j] = math.Sqrt(s.StdDev[j] / n)
		if s.StdDev[j] == 0 {
			s.StdDev[j] = 1
		}
	}

	s.fitted = true
	return nil
}

// Transform scales one vector with the fitted statistics.
func (s *StandardScaler) Transform(vec []float64) ([]float64, error) {
	if !s.fitted && len(s.Mean) == 0 {
		return nil, fmt.Errorf("%w: scaler not fitted", ErrModelFit)
	}
	if len(vec) != len(s.Mean) {
		return nil, fmt.Errorf("%w: vector has %d features, scaler expects %d",
			ErrSchemaMismatch, len(vec), len(s.Mean))
	}
	out := make([]float64, len(vec))
	for j, v := range vec {
		out[j] = (v - s.Mean[j]) / s.StdDev[j]
	}
	return out, nil
}

// TransformAll scales every row of a matrix.
func (s *StandardScaler) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
