// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package store

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/gatewatch/gatewatch/internal/gate"
)

// ErrDecisionNotFound reports a session with no logged decision.
var ErrDecisionNotFound = errors.New("decision not found")

const decisionPrefix = "decision:"

// DecisionLog keeps finalized gate decisions in Badger so support staff
// can answer "why was this checkout blocked" after the session is gone.
// Entries expire with the retention period.
type DecisionLog struct {
	db        *badger.DB
	retention time.Duration
}

// LoggedDecision is the persisted form of a gate decision.
type LoggedDecision struct {
	SessionID string        `json:"session_id"`
	Decision  gate.Decision `json:"decision"`
	LoggedAt  time.Time     `json:"logged_at"`
}

// OpenDecisionLog opens or creates the Badger store in dir.
func OpenDecisionLog(dir string, retention time.Duration) (*DecisionLog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening decision log: %w", err)
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &DecisionLog{db: db, retention: retention}, nil
}

// Record stores the decision for a session, overwriting any earlier one.
func (l *DecisionLog) Record(sessionID string, d gate.Decision) error {
	entry := LoggedDecision{
		SessionID: sessionID,
		Decision:  d,
		LoggedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(decisionPrefix+sessionID), data).WithTTL(l.retention)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("recording decision for %s: %w", sessionID, err)
	}
	return nil
}

// Lookup fetches the logged decision for a session.
func (l *DecisionLog) Lookup(sessionID string) (LoggedDecision, error) {
	var out LoggedDecision
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(decisionPrefix + sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrDecisionNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, ErrDecisionNotFound) {
			return LoggedDecision{}, err
		}
		return LoggedDecision{}, fmt.Errorf("looking up decision for %s: %w", sessionID, err)
	}
	return out, nil
}

// Close flushes and closes the underlying store.
func (l *DecisionLog) Close() error {
	return l.db.Close()
}
