// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package telemetry

import (
	"sync"
	"time"
)

// PointerWindowSize is the fixed capacity of the pointer sample window.
// When full, the oldest sample is evicted before the new one is appended.
const PointerWindowSize = 100

// DefaultTrackedField is the form field whose keystroke dynamics feed the
// typing features. Keystrokes on other fields still count toward edit and
// click aggregates but do not contribute timing samples.
const DefaultTrackedField = "ktp"

// Point is one sampled pointer position.
type Point struct {
	X float64
	Y float64
}

// Recorder accumulates the interaction telemetry of a single session.
// All event kinds are folded into running aggregates on ingestion; only
// pointer samples are retained, in a bounded FIFO window. A Recorder is
// safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	start time.Time
	clock func() time.Time

	trackedField string

	// Keystroke interval aggregates (Welford) over consecutive key-down
	// events of the tracked field.
	keyDownCount  int
	lastKeyDownAt float64
	firstKeyDown  float64
	intervalCount int
	intervalMean  float64
	intervalM2    float64

	pasteDetected bool

	editCounts map[string]int

	points    [PointerWindowSize]Point
	pointHead int
	pointLen  int

	hovering     bool
	hoverStartMs float64
	hoverTotalMs float64
	hoverRegions map[string]float64

	clicks int
}

// NewRecorder returns a recorder tracking keystroke dynamics on the
// default checkout identity field.
func NewRecorder() *Recorder {
	return NewRecorderForField(DefaultTrackedField)
}

// NewRecorderForField returns a recorder whose typing features are derived
// from keystrokes on the named field.
func NewRecorderForField(field string) *Recorder {
	r := &Recorder{
		trackedField: field,
		clock:        time.Now,
		editCounts:   make(map[string]int),
		hoverRegions: make(map[string]float64),
	}
	r.start = r.clock()
	return r
}

// SetClock replaces the wall clock used for session duration. Test hook.
func (r *Recorder) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
	r.start = clock()
}

// RecordKeystroke folds one keystroke-class event into the typing
// aggregates. Only key-down events on the tracked field advance the
// interval statistics; key-up events are accepted and ignored, and paste
// events latch the paste flag for the rest of the session.
func (r *Recorder) RecordKeystroke(fieldID string, kind KeystrokeKind, atMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == Paste {
		r.pasteDetected = true
		return
	}
	if kind != KeyDown || fieldID != r.trackedField {
		return
	}

	if r.keyDownCount == 0 {
		r.firstKeyDown = atMs
	} else {
		delta := atMs - r.lastKeyDownAt
		r.intervalCount++
		d := delta - r.intervalMean
		r.intervalMean += d / float64(r.intervalCount)
		r.intervalM2 += d * (delta - r.intervalMean)
	}
	r.lastKeyDownAt = atMs
	r.keyDownCount++
}

// RecordFieldEdit counts one correction to the named field.
func (r *Recorder) RecordFieldEdit(fieldID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.editCounts[fieldID]++
}

// RecordPointerMove appends a pointer sample to the bounded window,
// evicting the oldest sample once the window holds PointerWindowSize
// entries.
func (r *Recorder) RecordPointerMove(x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.pointHead + r.pointLen) % PointerWindowSize
	r.points[idx] = Point{X: x, Y: y}
	if r.pointLen < PointerWindowSize {
		r.pointLen++
	} else {
		r.pointHead = (r.pointHead + 1) % PointerWindowSize
	}
}

// BeginHoverRegion starts the dwell timer. Calling it while a hover is
// already open is a no-op so overlapping enter events cannot double count.
func (r *Recorder) BeginHoverRegion(atMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hovering {
		return
	}
	r.hovering = true
	r.hoverStartMs = atMs
}

// EndHoverRegion closes the open dwell timer and adds the elapsed time to
// the session total and to the named region's tally. Ending without an
// open hover is a no-op.
func (r *Recorder) EndHoverRegion(regionID string, atMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hovering {
		return
	}
	r.hovering = false
	elapsed := atMs - r.hoverStartMs
	if elapsed < 0 {
		return
	}
	r.hoverTotalMs += elapsed
	if regionID != "" {
		r.hoverRegions[regionID] += elapsed
	}
}

// RecordClick counts one completed click.
func (r *Recorder) RecordClick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks++
}

// Apply folds a batch of events into the recorder in order. The first
// malformed event aborts the batch and is reported; events before it have
// already been applied.
func (r *Recorder) Apply(events []Event) error {
	for _, ev := range events {
		if err := ev.Apply(r); err != nil {
			return err
		}
	}
	return nil
}

// pointerWindow copies the current pointer samples oldest-first.
// Caller must hold r.mu.
func (r *Recorder) pointerWindow() []Point {
	out := make([]Point, r.pointLen)
	for i := 0; i < r.pointLen; i++ {
		out[i] = r.points[(r.pointHead+i)%PointerWindowSize]
	}
	return out
}
