// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package session tracks live checkout sessions, owning each session's
// recorder and gate from creation until finalize or TTL expiry.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatewatch/gatewatch/internal/gate"
	"github.com/gatewatch/gatewatch/internal/logging"
	"github.com/gatewatch/gatewatch/internal/metrics"
	"github.com/gatewatch/gatewatch/internal/scoring"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

var (
	// ErrNotFound reports an unknown or already-expired session ID.
	ErrNotFound = errors.New("session not found")

	// ErrRegistryFull reports that the session cap has been reached.
	ErrRegistryFull = errors.New("session registry full")
)

// Session pairs a gate with its bookkeeping.
type Session struct {
	ID        string
	Gate      *gate.Gate
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
	cancel   context.CancelFunc
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last client activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Registry owns all live sessions. Lookup, creation, and removal are
// serialized; per-session work happens outside the registry lock.
type Registry struct {
	scorer   scoring.Scorer
	interval time.Duration
	ttl      time.Duration
	max      int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds an empty registry. interval is the gate re-score
// cadence, ttl the idle lifetime of a session.
func NewRegistry(scorer scoring.Scorer, interval, ttl time.Duration, max int) *Registry {
	return &Registry{
		scorer:   scorer,
		interval: interval,
		ttl:      ttl,
		max:      max,
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session, starts its gate loop, and returns it.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	rec := telemetry.NewRecorder()

	gateCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:        id,
		Gate:      gate.New(id, rec, r.scorer, r.interval),
		CreatedAt: time.Now(),
		lastSeen:  time.Now(),
		cancel:    cancel,
	}

	r.mu.Lock()
	if r.max > 0 && len(r.sessions) >= r.max {
		r.mu.Unlock()
		cancel()
		return nil, ErrRegistryFull
	}
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	go s.Gate.Run(gateCtx)
	metrics.ActiveSessions.Set(float64(count))
	log := logging.WithComponent("session")
	log.Debug().Str("session_id", id).Msg("session created")
	return s, nil
}

// Get returns the session and refreshes its idle clock.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// Remove tears down a session: the gate loop stops and the entry is
// dropped. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		s.Gate.Stop()
		s.cancel()
		metrics.ActiveSessions.Set(float64(count))
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle past the TTL and returns how many were
// evicted.
func (r *Registry) Sweep() int {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.Remove(id)
		metrics.SessionsExpired.Inc()
	}
	if len(expired) > 0 {
		log := logging.WithComponent("session")
		log.Info().Int("expired", len(expired)).Msg("swept idle sessions")
	}
	return len(expired)
}

// RunSweeper sweeps on the given cadence until ctx is canceled.
func (r *Registry) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close stops every gate loop. Used during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Gate.Stop()
		s.cancel()
	}
	metrics.ActiveSessions.Set(0)
}
