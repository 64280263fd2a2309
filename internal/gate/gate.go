// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package gate runs the per-session decision loop: periodic background
// re-scoring while the session is ambiguous, and a forced synchronous
// check at checkout whose outcome overrides everything before it.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/internal/logging"
	"github.com/gatewatch/gatewatch/internal/metrics"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/scoring"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

// DefaultRescoreInterval is how often an undecided session is re-scored.
const DefaultRescoreInterval = 10 * time.Second

// Decision is the gate's current judgment of a session.
type Decision struct {
	Verdict  scoring.Verdict `json:"verdict"`
	Result   scoring.Result  `json:"result"`
	ScoredAt time.Time       `json:"scored_at"`
	Final    bool            `json:"final"`
}

// Gate owns the decision state of one checkout session. The periodic
// loop keeps at most one scoring call in flight: a tick that lands while
// a previous call is still running is skipped, not queued. Scoring
// failures never change the verdict; a session stays analyzing until a
// successful score says otherwise.
type Gate struct {
	sessionID string
	recorder  *telemetry.Recorder
	scorer    scoring.Scorer
	interval  time.Duration

	mu       sync.Mutex
	decision Decision
	inFlight bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a gate in the analyzing state. Run must be called to start
// the periodic loop.
func New(sessionID string, rec *telemetry.Recorder, scorer scoring.Scorer, interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultRescoreInterval
	}
	return &Gate{
		sessionID: sessionID,
		recorder:  rec,
		scorer:    scorer,
		interval:  interval,
		decision:  Decision{Verdict: scoring.VerdictAnalyzing},
		stopped:   make(chan struct{}),
	}
}

// Recorder exposes the session's recorder so the API can feed it events.
func (g *Gate) Recorder() *telemetry.Recorder { return g.recorder }

// Run drives the periodic re-score loop until the session reaches a
// verdict, Stop is called, or ctx is canceled. It blocks; callers start
// it on its own goroutine.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopped:
			return
		case <-ticker.C:
			if g.tick(ctx) {
				return
			}
		}
	}
}

// tick launches one background scoring attempt unless one is already in
// flight. It reports true once the session no longer needs the loop.
func (g *Gate) tick(ctx context.Context) bool {
	g.mu.Lock()
	if g.decision.Final || g.decision.Verdict != scoring.VerdictAnalyzing {
		g.mu.Unlock()
		return true
	}
	if g.inFlight {
		g.mu.Unlock()
		metrics.RescoreSkipped.Inc()
		return false
	}
	g.inFlight = true
	g.mu.Unlock()

	go func() {
		g.scoreOnce(ctx, "periodic")
		g.mu.Lock()
		g.inFlight = false
		g.mu.Unlock()
	}()
	return false
}

// scoreOnce snapshots the recorder, scores it, and folds a successful
// result into the decision. Errors leave the decision untouched.
func (g *Gate) scoreOnce(ctx context.Context, trigger string) (scoring.Result, error) {
	fv := g.recorder.Snapshot()
	res, err := g.scorer.Score(ctx, fv)
	log := logging.WithComponent("gate")
	if err != nil {
		if errors.Is(err, model.ErrTransport) {
			log.Warn().Str("session_id", g.sessionID).Str("trigger", trigger).
				Err(err).Msg("scoring unreachable, verdict unchanged")
		} else {
			log.Error().Str("session_id", g.sessionID).Str("trigger", trigger).
				Err(err).Msg("scoring failed")
		}
		return scoring.Result{}, err
	}

	g.mu.Lock()
	if !g.decision.Final {
		g.decision = Decision{
			Verdict:  res.Verdict,
			Result:   res,
			ScoredAt: time.Now().UTC(),
		}
	}
	g.mu.Unlock()

	metrics.Verdicts.WithLabelValues(string(res.Verdict), trigger).Inc()
	log.Debug().Str("session_id", g.sessionID).Str("trigger", trigger).
		Float64("trust", res.TrustScore).Str("verdict", string(res.Verdict)).
		Msg("session scored")
	return res, nil
}

// Finalize performs the forced checkout-time check. A successful score
// overrides any verdict the periodic loop reached. A failure keeps the
// last known decision, so a scorer outage at checkout degrades to the
// most recent evidence instead of blocking or blessing everyone.
func (g *Gate) Finalize(ctx context.Context) (Decision, error) {
	res, err := g.scoreOnce(ctx, "final")
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		g.decision = Decision{
			Verdict:  res.Verdict,
			Result:   res,
			ScoredAt: time.Now().UTC(),
			Final:    true,
		}
	}
	g.stop()
	return g.decision, err
}

// Decision returns the current judgment.
func (g *Gate) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

// Stop halts the periodic loop. Safe to call any number of times, from
// any goroutine, including before Run starts.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stop()
}

func (g *Gate) stop() {
	g.stopOnce.Do(func() { close(g.stopped) })
}
