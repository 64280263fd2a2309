// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package training fits the anomaly model from recorded session corpora
// and persists the resulting artifacts for the scoring service.
package training

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

// auditColumns are bookkeeping columns a corpus may carry that never feed
// the model. The is_suspicious label is excluded from the feature matrix
// so fitting stays unsupervised, but it is retained per row: after the
// fit, the trainer uses it to calibrate the score-to-trust mapping.
var auditColumns = map[string]bool{
	"id":            true,
	"user_id":       true,
	"created_at":    true,
	"is_suspicious": true,
}

const labelColumn = "is_suspicious"

// Corpus is a parsed feature matrix with its column names in file order.
// Suspicious carries the per-row label when the source file has an
// is_suspicious column; it is nil for unlabeled corpora.
type Corpus struct {
	Columns    []string
	Rows       [][]float64
	Suspicious []bool
}

// Labeled reports whether every row carries a class label.
func (c *Corpus) Labeled() bool {
	return len(c.Suspicious) == len(c.Rows) && len(c.Rows) > 0
}

// LoadCSV reads one corpus file. Audit columns are dropped, remaining
// columns must be exactly the canonical feature set, and blank cells are
// recorded as NaN for later median imputation. Structural problems report
// ErrData.
func LoadCSV(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", model.ErrData, path, err)
	}
	defer f.Close()
	return parseCSV(f, path)
}

func parseCSV(r io.Reader, name string) (*Corpus, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header of %s: %v", model.ErrData, name, err)
	}

	keep := make([]int, 0, len(header))
	cols := make([]string, 0, len(header))
	labelIdx := -1
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == labelColumn {
			labelIdx = i
		}
		if auditColumns[h] {
			continue
		}
		keep = append(keep, i)
		cols = append(cols, h)
	}

	if err := checkColumns(cols, name); err != nil {
		return nil, err
	}

	var rows [][]float64
	var labels []bool
	labeled := labelIdx >= 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", model.ErrData, name, line, err)
		}
		row := make([]float64, len(keep))
		for j, idx := range keep {
			cell := strings.TrimSpace(record[idx])
			if cell == "" {
				row[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d column %s: %v",
					model.ErrData, name, line, cols[j], err)
			}
			row[j] = v
		}
		rows = append(rows, row)

		if labeled {
			cell := strings.TrimSpace(record[labelIdx])
			if cell == "" {
				// A single unlabeled row makes the whole corpus unlabeled.
				labeled = false
				labels = nil
				continue
			}
			susp, err := parseLabel(cell)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d column %s: %v",
					model.ErrData, name, line, labelColumn, err)
			}
			labels = append(labels, susp)
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s contains no data rows", model.ErrData, name)
	}
	c := &Corpus{Columns: cols, Rows: rows}
	if labeled {
		c.Suspicious = labels
	}
	return c, nil
}

func parseLabel(cell string) (bool, error) {
	if b, err := strconv.ParseBool(cell); err == nil {
		return b, nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return false, fmt.Errorf("invalid label %q", cell)
	}
	return v != 0, nil
}

// checkColumns verifies the non-audit columns are exactly the canonical
// features in canonical order, so every corpus trains the same model
// shape.
func checkColumns(cols []string, name string) error {
	want := telemetry.FeatureNames
	if len(cols) != len(want) {
		return fmt.Errorf("%w: %s has %d feature columns, want %d",
			model.ErrData, name, len(cols), len(want))
	}
	for i, c := range cols {
		if c != want[i] {
			return fmt.Errorf("%w: %s column %d is %q, want %q",
				model.ErrData, name, i, c, want[i])
		}
	}
	return nil
}

// Merge concatenates corpora that share a column set. Labels survive the
// merge only when every input corpus is labeled.
func Merge(corpora ...*Corpus) (*Corpus, error) {
	if len(corpora) == 0 {
		return nil, fmt.Errorf("%w: no corpora to merge", model.ErrData)
	}
	out := &Corpus{Columns: corpora[0].Columns}
	allLabeled := true
	for _, c := range corpora {
		if len(c.Columns) != len(out.Columns) {
			return nil, fmt.Errorf("%w: corpora disagree on column count", model.ErrData)
		}
		for i := range c.Columns {
			if c.Columns[i] != out.Columns[i] {
				return nil, fmt.Errorf("%w: corpora disagree on column %d", model.ErrData, i)
			}
		}
		out.Rows = append(out.Rows, c.Rows...)
		if c.Labeled() {
			out.Suspicious = append(out.Suspicious, c.Suspicious...)
		} else {
			allLabeled = false
		}
	}
	if !allLabeled {
		out.Suspicious = nil
	}
	return out, nil
}

// FillMedians replaces NaN cells with the per-column median of the
// non-missing values. A column that is entirely missing fills with zero.
func (c *Corpus) FillMedians() {
	for j := range c.Columns {
		var present []float64
		for _, row := range c.Rows {
			if !math.IsNaN(row[j]) {
				present = append(present, row[j])
			}
		}
		med := 0.0
		if len(present) > 0 {
			sort.Float64s(present)
			mid := len(present) / 2
			if len(present)%2 == 1 {
				med = present[mid]
			} else {
				med = (present[mid-1] + present[mid]) / 2
			}
		}
		for _, row := range c.Rows {
			if math.IsNaN(row[j]) {
				row[j] = med
			}
		}
	}
}
