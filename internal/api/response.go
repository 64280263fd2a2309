// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package api exposes the Gatewatch HTTP surface: session lifecycle,
// telemetry ingestion, scoring, and model inspection.
package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/gatewatch/gatewatch/internal/logging"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/session"
	"github.com/gatewatch/gatewatch/internal/store"
)

// Response is the envelope returned by every endpoint.
type Response struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError carries a stable machine-readable code next to the message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error code constants returned in APIError.Code.
const (
	CodeBadRequest     = "bad_request"
	CodeNotFound       = "not_found"
	CodeSchemaMismatch = "schema_mismatch"
	CodeModelUnready   = "model_unready"
	CodeUpstream       = "upstream_unavailable"
	CodeOverloaded     = "overloaded"
	CodeInternal       = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log := logging.WithComponent("api")
		log.Error().Err(err).Msg("encoding response")
	}
}

// respondOK writes a success envelope.
func respondOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

// respondError maps err onto the HTTP status and error code taxonomy.
func respondError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, Response{
		Success: false,
		Error:   &APIError{Code: code, Message: err.Error()},
	})
}

func classify(err error) (int, string) {
	var br badRequestError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrDecisionNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, session.ErrRegistryFull):
		return http.StatusServiceUnavailable, CodeOverloaded
	case errors.Is(err, model.ErrSchemaMismatch):
		return http.StatusUnprocessableEntity, CodeSchemaMismatch
	case errors.Is(err, model.ErrTransport):
		return http.StatusBadGateway, CodeUpstream
	case errors.Is(err, model.ErrArtifactLoad), errors.Is(err, model.ErrModelFit):
		return http.StatusServiceUnavailable, CodeModelUnready
	case errors.Is(err, model.ErrData):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// badRequestError marks client mistakes that have no model-taxonomy
// sentinel: malformed JSON, failed validation, oversized batches.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return badRequestError{msg: msg} }
