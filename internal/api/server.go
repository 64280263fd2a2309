// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewatch/gatewatch/internal/config"
	"github.com/gatewatch/gatewatch/internal/scoring"
	"github.com/gatewatch/gatewatch/internal/session"
	"github.com/gatewatch/gatewatch/internal/store"
)

// Server wires the HTTP handlers to their dependencies. Store handles
// are optional; a nil store simply disables persistence for that concern.
type Server struct {
	registry  *session.Registry
	scorer    scoring.Scorer
	features  *store.FeatureStore
	decisions *store.DecisionLog
	validate  *validator.Validate
	startedAt time.Time
}

// NewServer builds the handler set.
func NewServer(reg *session.Registry, scorer scoring.Scorer, features *store.FeatureStore, decisions *store.DecisionLog) *Server {
	return &Server{
		registry:  reg,
		scorer:    scorer,
		features:  features,
		decisions: decisions,
		validate:  validator.New(),
		startedAt: time.Now(),
	}
}

// Router assembles the chi router with the standard middleware stack.
func (s *Server) Router(cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RateWindow))
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/events", s.handleIngestEvents)
			r.Get("/decision", s.handleGetDecision)
			r.Post("/finalize", s.handleFinalize)
		})
		r.Post("/telemetry", s.handleIngestTelemetry)
		r.Post("/score", s.handleScore)
		r.Get("/model", s.handleModelInfo)
		r.Get("/health/live", s.handleHealthLive)
		r.Get("/health/ready", s.handleHealthReady)
		r.Get("/sessions/recent", s.handleRecentSessions)
		r.Get("/decisions/{sessionID}", s.handleDecisionLookup)
	})

	return r
}
