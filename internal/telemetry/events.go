// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package telemetry accumulates raw interaction events from one checkout
// session into running aggregates and derives the fixed-shape feature
// vector consumed by the scoring pipeline.
package telemetry

import "fmt"

// EventKind identifies the type of a raw interaction event.
type EventKind string

const (
	// EventKeyDown is a key press inside a form field.
	EventKeyDown EventKind = "key_down"

	// EventKeyUp is a key release inside a form field.
	EventKeyUp EventKind = "key_up"

	// EventPaste is a clipboard paste into a form field.
	EventPaste EventKind = "paste"

	// EventFieldEdit is a correction to a previously entered field value.
	EventFieldEdit EventKind = "field_edit"

	// EventPointerMove is a sampled pointer position.
	EventPointerMove EventKind = "pointer_move"

	// EventHoverBegin marks the pointer entering a selectable region (a seat).
	EventHoverBegin EventKind = "hover_begin"

	// EventHoverEnd marks the pointer leaving a selectable region.
	EventHoverEnd EventKind = "hover_end"

	// EventClick is a completed click anywhere on the page.
	EventClick EventKind = "click"
)

// Event is one observed interaction. Kind selects which payload fields are
// meaningful; the rest are zero. Events are append-only and ordered by
// arrival; the recorder aggregates them and never stores full history except
// for the bounded pointer window.
type Event struct {
	Kind EventKind `json:"kind" validate:"required,oneof=key_down key_up paste field_edit pointer_move hover_begin hover_end click"`

	// AtMs is the event time in milliseconds since session start.
	AtMs float64 `json:"t" validate:"gte=0"`

	// FieldID names the form field for keystroke-class and edit events.
	FieldID string `json:"field_id,omitempty"`

	// ValueLen is the length of the field value at keystroke time.
	ValueLen int `json:"value_len,omitempty"`

	// X, Y are pointer coordinates for pointer_move events.
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// RegionID names the hovered region for hover_end events.
	RegionID string `json:"region_id,omitempty"`
}

// Apply dispatches the event to the matching recorder operation.
// Unknown kinds are rejected so that a skewed client cannot silently
// contribute nothing to a session it claims to populate.
func (e Event) Apply(r *Recorder) error {
	switch e.Kind {
	case EventKeyDown:
		r.RecordKeystroke(e.FieldID, KeyDown, e.AtMs)
	case EventKeyUp:
		r.RecordKeystroke(e.FieldID, KeyUp, e.AtMs)
	case EventPaste:
		r.RecordKeystroke(e.FieldID, Paste, e.AtMs)
	case EventFieldEdit:
		r.RecordFieldEdit(e.FieldID)
	case EventPointerMove:
		r.RecordPointerMove(e.X, e.Y)
	case EventHoverBegin:
		r.BeginHoverRegion(e.AtMs)
	case EventHoverEnd:
		r.EndHoverRegion(e.RegionID, e.AtMs)
	case EventClick:
		r.RecordClick()
	default:
		return fmt.Errorf("unknown event kind: %s", e.Kind)
	}
	return nil
}

// KeystrokeKind narrows keystroke-class events.
type KeystrokeKind int

const (
	KeyDown KeystrokeKind = iota
	KeyUp
	Paste
)
