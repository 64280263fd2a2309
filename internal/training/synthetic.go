// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package training

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/gatewatch/gatewatch/internal/telemetry"
)

// Profile selects the behavioral population a synthetic session is drawn
// from. Human sessions are slow, wandering, and imperfect; bot sessions
// are fast, straight, and often paste the identity field.
type Profile int

const (
	ProfileHuman Profile = iota
	ProfileBot
)

// Generate draws n synthetic sessions from the profile. Useful for
// bootstrapping a model before any real telemetry has been collected and
// for exercising the pipeline in tests.
func Generate(profile Profile, n int, seed int64) *Corpus {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	labels := make([]bool, n)
	for i := range rows {
		switch profile {
		case ProfileBot:
			rows[i] = botRow(rng)
			labels[i] = true
		default:
			rows[i] = humanRow(rng)
		}
	}
	return &Corpus{
		Columns:    append([]string(nil), telemetry.FeatureNames...),
		Rows:       rows,
		Suspicious: labels,
	}
}

func humanRow(rng *rand.Rand) []float64 {
	paste := 0.0
	if rng.Float64() < 0.05 {
		paste = 1
	}
	return []float64{
		gauss(rng, 95000, 25000, 20000),  // session_time_ms
		gauss(rng, 4000, 1800, 200),      // seat_hesitation_time_ms
		gauss(rng, 180, 60, 60),          // ktp_avg_keystroke_interval_ms
		gauss(rng, 2600, 1200, 200),      // ktp_keystroke_variance
		gauss(rng, 9000, 3000, 2000),     // ktp_total_entry_time_ms
		paste,                            // ktp_paste_detected
		float64(rng.Intn(4)),             // field_edit_count
		gauss(rng, 14000, 5000, 2000),    // mouse_total_distance
		gauss(rng, 0.45, 0.15, 0.05),     // mouse_smoothness
		float64(5 + rng.Intn(12)),        // total_clicks
	}
}

func botRow(rng *rand.Rand) []float64 {
	paste := 0.0
	if rng.Float64() < 0.7 {
		paste = 1
	}
	return []float64{
		gauss(rng, 6000, 2500, 800),   // session_time_ms
		gauss(rng, 80, 60, 0),         // seat_hesitation_time_ms
		gauss(rng, 18, 8, 2),          // ktp_avg_keystroke_interval_ms
		gauss(rng, 12, 10, 0),         // ktp_keystroke_variance
		gauss(rng, 350, 150, 50),      // ktp_total_entry_time_ms
		paste,                         // ktp_paste_detected
		0,                             // field_edit_count
		gauss(rng, 900, 400, 100),     // mouse_total_distance
		gauss(rng, 0.015, 0.01, 0),    // mouse_smoothness
		float64(2 + rng.Intn(3)),      // total_clicks
	}
}

func gauss(rng *rand.Rand, mean, std, floor float64) float64 {
	v := mean + rng.NormFloat64()*std
	if v < floor {
		return floor
	}
	return v
}

// WriteCSV writes the corpus with an audit id column prepended and, for a
// labeled corpus, an is_suspicious column appended, matching the layout
// of collected session exports.
func (c *Corpus) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	labeled := c.Labeled()
	w := csv.NewWriter(f)
	header := append([]string{"id"}, c.Columns...)
	if labeled {
		header = append(header, labelColumn)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for i, row := range c.Rows {
		record := make([]string, 0, len(row)+2)
		record = append(record, strconv.Itoa(i+1))
		for _, v := range row {
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if labeled {
			label := "0"
			if c.Suspicious[i] {
				label = "1"
			}
			record = append(record, label)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
