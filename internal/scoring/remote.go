// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package scoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/gatewatch/gatewatch/internal/logging"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

// RemoteScorer calls an external scoring service over HTTP. Transport and
// server failures surface as ErrTransport; a circuit breaker sheds load
// from an endpoint that keeps failing instead of hammering it every tick.
type RemoteScorer struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[Result]
}

// NewRemoteScorer builds a scorer for the service at baseURL.
func NewRemoteScorer(baseURL string, timeout time.Duration) *RemoteScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "remote-scorer",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log := logging.WithComponent("scoring")
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return &RemoteScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
	}
}

// Score posts the vector as named fields and decodes the service's result.
func (s *RemoteScorer) Score(ctx context.Context, fv telemetry.FeatureVector) (res Result, err error) {
	start := time.Now()
	defer func() { observe("remote", start, res, err) }()

	res, err = s.breaker.Execute(func() (Result, error) {
		return s.post(ctx, fv)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Result{}, fmt.Errorf("%w: circuit open for %s", model.ErrTransport, s.baseURL)
		}
		return Result{}, err
	}
	return res, nil
}

func (s *RemoteScorer) post(ctx context.Context, fv telemetry.FeatureVector) (Result, error) {
	body, err := json.Marshal(fv.ToMap())
	if err != nil {
		return Result{}, fmt.Errorf("encoding score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/v1/score", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: building request: %v", model.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return Result{}, fmt.Errorf("%w: remote rejected field set", model.ErrSchemaMismatch)
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("%w: remote returned %d", model.ErrTransport, resp.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decoding response: %v", model.ErrTransport, err)
	}
	return out, nil
}

// Info fetches the remote model description.
func (s *RemoteScorer) Info(ctx context.Context) (ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/model", nil)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("%w: building request: %v", model.ErrTransport, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ModelInfo{}, fmt.Errorf("%w: remote returned %d", model.ErrTransport, resp.StatusCode)
	}
	var info ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ModelInfo{}, fmt.Errorf("%w: decoding response: %v", model.ErrTransport, err)
	}
	return info, nil
}
