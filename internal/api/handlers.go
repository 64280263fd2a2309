// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/gatewatch/gatewatch/internal/gate"
	"github.com/gatewatch/gatewatch/internal/logging"
	"github.com/gatewatch/gatewatch/internal/metrics"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/scoring"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

// maxEventBatch bounds one ingestion request.
const maxEventBatch = 500

// maxBodyBytes bounds any request body.
const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, v any) error {
	defer io.Copy(io.Discard, r.Body)
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

type sessionCreated struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Create(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, http.StatusCreated, sessionCreated{
		SessionID: sess.ID,
		CreatedAt: sess.CreatedAt.UTC(),
	})
}

type eventBatch struct {
	Events []telemetry.Event `json:"events" validate:"required,min=1,max=500,dive"`
}

type ingestResult struct {
	Accepted int `json:"accepted"`
}

func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return
	}

	var batch eventBatch
	if err := decodeBody(r, &batch); err != nil {
		metrics.EventsRejected.Inc()
		respondError(w, err)
		return
	}
	if len(batch.Events) == 0 || len(batch.Events) > maxEventBatch {
		metrics.EventsRejected.Inc()
		respondError(w, badRequest(fmt.Sprintf("batch must hold 1 to %d events", maxEventBatch)))
		return
	}
	if err := s.validate.Struct(batch); err != nil {
		metrics.EventsRejected.Inc()
		respondError(w, badRequest(fmt.Sprintf("invalid event batch: %v", err)))
		return
	}

	if err := sess.Gate.Recorder().Apply(batch.Events); err != nil {
		metrics.EventsRejected.Inc()
		respondError(w, badRequest(err.Error()))
		return
	}
	for _, ev := range batch.Events {
		metrics.EventsIngested.WithLabelValues(string(ev.Kind)).Inc()
	}
	respondOK(w, http.StatusAccepted, ingestResult{Accepted: len(batch.Events)})
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, http.StatusOK, sess.Gate.Decision())
}

// handleFinalize runs the forced checkout-time check. When scoring is
// unreachable the last known decision comes back, the session stays
// alive, and the caller may retry.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.registry.Get(id)
	if err != nil {
		respondError(w, err)
		return
	}

	decision, err := sess.Gate.Finalize(r.Context())
	if err != nil && !errors.Is(err, model.ErrTransport) {
		respondError(w, err)
		return
	}

	if decision.Final {
		s.persist(r, id, decision)
		s.registry.Remove(id)
	}
	respondOK(w, http.StatusOK, decision)
}

// persist records the finalized session. Storage trouble is logged, not
// surfaced: the checkout decision has already been made.
func (s *Server) persist(r *http.Request, id string, decision gate.Decision) {
	log := logging.Ctx(r.Context())
	if s.features != nil {
		fv := s.registryFeatures(id)
		suspicious := decision.Verdict == scoring.VerdictFlagged
		if err := s.features.Insert(r.Context(), id, fv, suspicious); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("persisting features")
		}
	}
	if s.decisions != nil {
		if err := s.decisions.Record(id, decision); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("recording decision")
		}
	}
}

func (s *Server) registryFeatures(id string) telemetry.FeatureVector {
	sess, err := s.registry.Get(id)
	if err != nil {
		return telemetry.FeatureVector{}
	}
	return sess.Gate.Recorder().Snapshot()
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var fields map[string]float64
	if err := decodeBody(r, &fields); err != nil {
		respondError(w, err)
		return
	}
	res, err := scoring.ScoreFields(r.Context(), s.scorer, fields)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, http.StatusOK, res)
}

// telemetryRecord is one standalone feature-vector snapshot, the
// ingestion path for collectors that summarize sessions client-side
// instead of streaming raw events.
type telemetryRecord struct {
	SessionID  string             `json:"session_id" validate:"required,max=128"`
	Features   map[string]float64 `json:"features" validate:"required"`
	Suspicious bool               `json:"suspicious"`
}

type telemetryStored struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.features == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   &APIError{Code: CodeOverloaded, Message: "feature store disabled"},
		})
		return
	}

	var rec telemetryRecord
	if err := decodeBody(r, &rec); err != nil {
		respondError(w, err)
		return
	}
	if err := s.validate.Struct(rec); err != nil {
		respondError(w, badRequest(fmt.Sprintf("invalid telemetry record: %v", err)))
		return
	}
	fv, ok := telemetry.FromMap(rec.Features)
	if !ok {
		respondError(w, fmt.Errorf("%w: record fields do not match the canonical feature set",
			model.ErrSchemaMismatch))
		return
	}

	if err := s.features.Insert(r.Context(), rec.SessionID, fv, rec.Suspicious); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, http.StatusCreated, telemetryStored{SessionID: rec.SessionID})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.scorer.Info(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, http.StatusOK, info)
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	if s.features == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   &APIError{Code: CodeOverloaded, Message: "feature store disabled"},
		})
		return
	}
	recent, err := s.features.Recent(r.Context(), 50)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, http.StatusOK, recent)
}

func (s *Server) handleDecisionLookup(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   &APIError{Code: CodeOverloaded, Message: "decision log disabled"},
		})
		return
	}
	logged, err := s.decisions.Lookup(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, http.StatusOK, logged)
}

type healthStatus struct {
	Status      string  `json:"status"`
	ModelLoaded bool    `json:"model_loaded"`
	Sessions    int     `json:"active_sessions"`
	UptimeSec   float64 `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.scorer.Info(r.Context())
	respondOK(w, http.StatusOK, healthStatus{
		Status:      "ok",
		ModelLoaded: err == nil,
		Sessions:    s.registry.Len(),
		UptimeSec:   time.Since(s.startedAt).Seconds(),
	})
}

// handleHealthLive answers as long as the process serves requests.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	respondOK(w, http.StatusOK, healthStatus{
		Status:    "ok",
		Sessions:  s.registry.Len(),
		UptimeSec: time.Since(s.startedAt).Seconds(),
	})
}

// handleHealthReady fails until the scorer can describe its model, so a
// load balancer holds traffic while artifacts are still loading or the
// remote scorer is unreachable.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.scorer.Info(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   &APIError{Code: CodeModelUnready, Message: "model not ready"},
		})
		return
	}
	respondOK(w, http.StatusOK, healthStatus{
		Status:      "ok",
		ModelLoaded: true,
		Sessions:    s.registry.Len(),
		UptimeSec:   time.Since(s.startedAt).Seconds(),
	})
}
