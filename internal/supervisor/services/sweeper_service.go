// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package services

import (
	"context"
	"time"

	"github.com/gatewatch/gatewatch/internal/session"
)

// SweeperService runs the session registry's TTL sweeper under
// supervision. A sweeper crash restarts the loop without touching the
// sessions themselves.
type SweeperService struct {
	registry *session.Registry
	interval time.Duration
}

// NewSweeperService wraps the registry sweeper.
func NewSweeperService(reg *session.Registry, interval time.Duration) *SweeperService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweeperService{registry: reg, interval: interval}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	s.registry.RunSweeper(ctx, s.interval)
	return ctx.Err()
}

func (s *SweeperService) String() string { return "session-sweeper" }
