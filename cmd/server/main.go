// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package main is the entry point for the Gatewatch server.
//
// Gatewatch sits in front of a ticket checkout flow and judges whether a
// session behaves like a human or an automated buyer. Browsers stream
// interaction telemetry (keystroke timing, pointer movement, seat hover
// dwell, clicks, edits) into per-session recorders; an isolation forest
// trained on labeled session corpora scores the derived feature vectors,
// and a per-session gate turns scores into a passed, flagged, or
// analyzing verdict that the checkout backend enforces.
//
// The server initializes in the following order:
//
//  1. Configuration: struct defaults, then config.yaml, then GATEWATCH_*
//     environment variables (Koanf v2)
//  2. Model: scoring artifacts load from disk in local mode, or a remote
//     scoring service is wired behind a circuit breaker
//  3. Stores: DuckDB feature sink and Badger decision log, both optional
//  4. Session registry: recorders, gates, and the TTL sweeper
//  5. HTTP API under a suture supervision tree
//
// Shutdown on SIGINT or SIGTERM stops the listener, drains in-flight
// requests, halts every gate loop, and closes the stores.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gatewatch/gatewatch/internal/api"
	"github.com/gatewatch/gatewatch/internal/config"
	"github.com/gatewatch/gatewatch/internal/logging"
	"github.com/gatewatch/gatewatch/internal/scoring"
	"github.com/gatewatch/gatewatch/internal/session"
	"github.com/gatewatch/gatewatch/internal/store"
	"github.com/gatewatch/gatewatch/internal/supervisor"
	"github.com/gatewatch/gatewatch/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gatewatch:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml (default: auto-discover)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	log := logging.WithComponent("main")

	scorer, err := buildScorer(cfg)
	if err != nil {
		return err
	}

	var features *store.FeatureStore
	if cfg.Store.FeatureDB != "" {
		features, err = store.OpenFeatureStore(cfg.Store.FeatureDB)
		if err != nil {
			return err
		}
		defer features.Close()
	}

	var decisions *store.DecisionLog
	if cfg.Store.DecisionDir != "" {
		decisions, err = store.OpenDecisionLog(cfg.Store.DecisionDir, cfg.Gate.SessionTTL*4)
		if err != nil {
			return err
		}
		defer decisions.Close()
	}

	registry := session.NewRegistry(scorer, cfg.Gate.RescoreInterval, cfg.Gate.SessionTTL, cfg.Gate.MaxSessions)
	defer registry.Close()

	apiServer := api.NewServer(registry, scorer, features, decisions)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apiServer.Router(cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(slog.Default(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddSessionService(services.NewSweeperService(registry, cfg.Gate.SweepInterval))
	tree.AddAPIService(services.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("scoring_mode", cfg.Scoring.Mode).
		Msg("gatewatch server starting")

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	log.Info().Msg("gatewatch server stopped")
	return nil
}

func buildScorer(cfg *config.Config) (scoring.Scorer, error) {
	thresholds := scoring.Thresholds{
		Trusted:    cfg.Scoring.TrustedThreshold,
		Suspicious: cfg.Scoring.SuspiciousThreshold,
	}
	if cfg.Scoring.Mode == "remote" {
		return scoring.NewRemoteScorer(cfg.Scoring.RemoteURL, cfg.Scoring.RemoteTimeout), nil
	}
	return scoring.NewLocalScorer(cfg.Scoring.ArtifactDir, thresholds)
}
