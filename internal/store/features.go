// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

// Package store persists scored sessions: feature vectors go to a DuckDB
// table for analytics and corpus export, decisions go to a Badger log for
// audit lookups.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/gatewatch/gatewatch/internal/metrics"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

// FeatureStore writes finalized session features into DuckDB. Rows
// exported from here become training corpora for the next model, so the
// table carries the canonical feature columns plus audit columns in the
// corpus layout.
type FeatureStore struct {
	db *sql.DB
}

const featureSchema = `
CREATE TABLE IF NOT EXISTS telemetry_features (
	id BIGINT DEFAULT nextval('feature_id_seq'),
	session_id VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
	is_suspicious BOOLEAN NOT NULL DEFAULT FALSE,
	session_time_ms DOUBLE NOT NULL,
	seat_hesitation_time_ms DOUBLE NOT NULL,
	ktp_avg_keystroke_interval_ms DOUBLE NOT NULL,
	ktp_keystroke_variance DOUBLE NOT NULL,
	ktp_total_entry_time_ms DOUBLE NOT NULL,
	ktp_paste_detected DOUBLE NOT NULL,
	field_edit_count DOUBLE NOT NULL,
	mouse_total_distance DOUBLE NOT NULL,
	mouse_smoothness DOUBLE NOT NULL,
	total_clicks DOUBLE NOT NULL
)`

// OpenFeatureStore opens or creates the DuckDB file at path. ":memory:"
// gives an ephemeral store for tests.
func OpenFeatureStore(path string) (*FeatureStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening feature store: %w", err)
	}
	if _, err := db.Exec(`CREATE SEQUENCE IF NOT EXISTS feature_id_seq`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating feature sequence: %w", err)
	}
	if _, err := db.Exec(featureSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating feature table: %w", err)
	}
	return &FeatureStore{db: db}, nil
}

// Insert records one session's features with its flagged status.
func (s *FeatureStore) Insert(ctx context.Context, sessionID string, fv telemetry.FeatureVector, suspicious bool) error {
	cols := append([]string{"session_id", "is_suspicious"}, telemetry.FeatureNames...)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")

	args := make([]any, 0, len(cols))
	args = append(args, sessionID, suspicious)
	for _, v := range fv.Values() {
		args = append(args, v)
	}

	query := fmt.Sprintf("INSERT INTO telemetry_features (%s) VALUES (%s)",
		strings.Join(cols, ", "), placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting features for %s: %w", sessionID, err)
	}
	metrics.FeaturesPersisted.Inc()
	return nil
}

// Count returns the number of stored sessions.
func (s *FeatureStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM telemetry_features").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting features: %w", err)
	}
	return n, nil
}

// ExportCSV writes the table to path in the corpus layout, ready to feed
// back into training.
func (s *FeatureStore) ExportCSV(ctx context.Context, path string) error {
	cols := "id, session_id AS user_id, created_at, is_suspicious, " + strings.Join(telemetry.FeatureNames, ", ")
	query := fmt.Sprintf("COPY (SELECT %s FROM telemetry_features ORDER BY id) TO '%s' (HEADER, DELIMITER ',')",
		cols, strings.ReplaceAll(path, "'", "''"))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("exporting corpus to %s: %w", path, err)
	}
	return nil
}

// Recent returns the newest session rows for the inspection endpoint.
func (s *FeatureStore) Recent(ctx context.Context, limit int) ([]StoredSession, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT session_id, created_at, is_suspicious, %s FROM telemetry_features ORDER BY id DESC LIMIT ?",
		strings.Join(telemetry.FeatureNames, ", "))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent sessions: %w", err)
	}
	defer rows.Close()

	var out []StoredSession
	for rows.Next() {
		var rec StoredSession
		vals := make([]float64, len(telemetry.FeatureNames))
		dest := []any{&rec.SessionID, &rec.CreatedAt, &rec.Suspicious}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		fields := make(map[string]float64, len(vals))
		for i, name := range telemetry.FeatureNames {
			fields[name] = vals[i]
		}
		rec.Features, _ = telemetry.FromMap(fields)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StoredSession is one persisted feature row.
type StoredSession struct {
	SessionID  string                  `json:"session_id"`
	CreatedAt  time.Time               `json:"created_at"`
	Suspicious bool                    `json:"is_suspicious"`
	Features   telemetry.FeatureVector `json:"features"`
}

// Close releases the database handle.
func (s *FeatureStore) Close() error {
	return s.db.Close()
}
