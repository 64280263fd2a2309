// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatewatch/gatewatch/internal/scoring"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

type stubScorer struct{}

func (stubScorer) Score(ctx context.Context, fv telemetry.FeatureVector) (scoring.Result, error) {
	return scoring.Result{TrustScore: 0.5, Verdict: scoring.VerdictAnalyzing}, nil
}

func (stubScorer) Info(ctx context.Context) (scoring.ModelInfo, error) {
	return scoring.ModelInfo{}, nil
}

func newTestRegistry(max int) *Registry {
	return NewRegistry(stubScorer{}, time.Hour, time.Hour, max)
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(0)
	defer r.Close()

	s, err := r.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.ID == "" {
		t.Fatal("session has no ID")
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != s {
		t.Error("get returned a different session")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestGetUnknown(t *testing.T) {
	r := newTestRegistry(0)
	defer r.Close()

	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistryCap(t *testing.T) {
	r := newTestRegistry(2)
	defer r.Close()

	ctx := context.Background()
	if _, err := r.Create(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx); !errors.Is(err, ErrRegistryFull) {
		t.Errorf("err = %v, want ErrRegistryFull", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := newTestRegistry(0)
	defer r.Close()

	s, err := r.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r.Remove(s.ID)
	r.Remove(s.ID)

	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed session still resolvable: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	r := NewRegistry(stubScorer{}, time.Hour, 50*time.Millisecond, 0)
	defer r.Close()

	ctx := context.Background()
	idle, err := r.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	active, err := r.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(80 * time.Millisecond)
	active.Touch()

	if n := r.Sweep(); n != 1 {
		t.Errorf("swept %d sessions, want 1", n)
	}
	if _, err := r.Get(idle.ID); !errors.Is(err, ErrNotFound) {
		t.Error("idle session should be gone")
	}
	if _, err := r.Get(active.ID); err != nil {
		t.Errorf("active session should survive: %v", err)
	}
}

func TestGetRefreshesIdleClock(t *testing.T) {
	r := NewRegistry(stubScorer{}, time.Hour, 50*time.Millisecond, 0)
	defer r.Close()

	s, err := r.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := r.Get(s.ID); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)

	// 80ms since create but only 40ms since the last Get.
	if n := r.Sweep(); n != 0 {
		t.Errorf("swept %d sessions, want 0", n)
	}
}

func TestCloseEmptiesRegistry(t *testing.T) {
	r := newTestRegistry(0)
	for i := 0; i < 3; i++ {
		if _, err := r.Create(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	r.Close()
	if r.Len() != 0 {
		t.Errorf("len after close = %d", r.Len())
	}
}
