// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package telemetry

import "math"

// FeatureNames is the canonical feature order. Model training, artifact
// metadata, and the scoring boundary all use this order; any disagreement
// between a vector's field set and a model's expected set is a hard error,
// never a silent reorder.
var FeatureNames = []string{
	"session_time_ms",
	"seat_hesitation_time_ms",
	"ktp_avg_keystroke_interval_ms",
	"ktp_keystroke_variance",
	"ktp_total_entry_time_ms",
	"ktp_paste_detected",
	"field_edit_count",
	"mouse_total_distance",
	"mouse_smoothness",
	"total_clicks",
}

// FeatureVector is the fixed-shape numeric summary of one session.
// Absent behavior yields explicit zeros, not missing fields.
type FeatureVector struct {
	SessionTimeMs        float64 `json:"session_time_ms"`
	SeatHesitationTimeMs float64 `json:"seat_hesitation_time_ms"`
	AvgKeystrokeInterval float64 `json:"ktp_avg_keystroke_interval_ms"`
	KeystrokeVariance    float64 `json:"ktp_keystroke_variance"`
	TotalEntryTimeMs     float64 `json:"ktp_total_entry_time_ms"`
	PasteDetected        float64 `json:"ktp_paste_detected"`
	FieldEditCount       float64 `json:"field_edit_count"`
	MouseTotalDistance   float64 `json:"mouse_total_distance"`
	MouseSmoothness      float64 `json:"mouse_smoothness"`
	TotalClicks          float64 `json:"total_clicks"`
}

// Values returns the feature values in canonical order.
func (fv FeatureVector) Values() []float64 {
	return []float64{
		fv.SessionTimeMs,
		fv.SeatHesitationTimeMs,
		fv.AvgKeystrokeInterval,
		fv.KeystrokeVariance,
		fv.TotalEntryTimeMs,
		fv.PasteDetected,
		fv.FieldEditCount,
		fv.MouseTotalDistance,
		fv.MouseSmoothness,
		fv.TotalClicks,
	}
}

// ToMap returns the vector keyed by canonical feature name.
func (fv FeatureVector) ToMap() map[string]float64 {
	vals := fv.Values()
	m := make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		m[name] = vals[i]
	}
	return m
}

// FromMap builds a vector from named values. Missing names and unknown
// extras both report false so callers can surface a schema disagreement
// instead of scoring a malformed vector.
func FromMap(m map[string]float64) (FeatureVector, bool) {
	if len(m) != len(FeatureNames) {
		return FeatureVector{}, false
	}
	vals := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		v, ok := m[name]
		if !ok {
			return FeatureVector{}, false
		}
		vals[i] = v
	}
	return FeatureVector{
		SessionTimeMs:        vals[0],
		SeatHesitationTimeMs: vals[1],
		AvgKeystrokeInterval: vals[2],
		KeystrokeVariance:    vals[3],
		TotalEntryTimeMs:     vals[4],
		PasteDetected:        vals[5],
		FieldEditCount:       vals[6],
		MouseTotalDistance:   vals[7],
		MouseSmoothness:      vals[8],
		TotalClicks:          vals[9],
	}, true
}

// Snapshot derives the current feature vector from the recorder's
// aggregates. It is a pure read: calling it never mutates recorder state,
// so the periodic re-score loop and the final checkout read observe the
// same semantics.
func (r *Recorder) Snapshot() FeatureVector {
	r.mu.Lock()
	defer r.mu.Unlock()

	fv := FeatureVector{
		SessionTimeMs:        float64(r.clock().Sub(r.start)) / float64(1e6),
		SeatHesitationTimeMs: r.hoverTotalMs,
		TotalClicks:          float64(r.clicks),
	}

	if r.pasteDetected {
		fv.PasteDetected = 1
	}
	for _, n := range r.editCounts {
		fv.FieldEditCount += float64(n)
	}

	// Fewer than two key-downs leave every typing feature at zero.
	if r.intervalCount > 0 {
		fv.AvgKeystrokeInterval = r.intervalMean
		fv.KeystrokeVariance = r.intervalM2 / float64(r.intervalCount)
		fv.TotalEntryTimeMs = r.lastKeyDownAt - r.firstKeyDown
	}

	pts := r.pointerWindow()
	fv.MouseTotalDistance = pathDistance(pts)
	fv.MouseSmoothness = pathSmoothness(pts)

	return fv
}

// pathDistance sums the Euclidean lengths of consecutive segments.
func pathDistance(pts []Point) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		total += math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y)
	}
	return total
}

// pathSmoothness is the mean absolute turning angle, in radians, across
// interior points of the pointer path. A perfectly straight path scores
// zero; an erratic human path scores higher. Triples containing a
// zero-length segment carry no direction and are skipped.
func pathSmoothness(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var sum float64
	var count int
	for i := 1; i < len(pts)-1; i++ {
		ax := pts[i].X - pts[i-1].X
		ay := pts[i].Y - pts[i-1].Y
		bx := pts[i+1].X - pts[i].X
		by := pts[i+1].Y - pts[i].Y
		if (ax == 0 && ay == 0) || (bx == 0 && by == 0) {
			continue
		}
		angle := math.Abs(math.Atan2(by, bx) - math.Atan2(ay, ax))
		if angle > math.Pi {
			angle = 2*math.Pi - angle
		}
		sum += angle
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
