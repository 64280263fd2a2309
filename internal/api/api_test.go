// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/gatewatch/gatewatch/internal/config"
	"github.com/gatewatch/gatewatch/internal/gate"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/scoring"
	"github.com/gatewatch/gatewatch/internal/session"
	"github.com/gatewatch/gatewatch/internal/store"
	"github.com/gatewatch/gatewatch/internal/telemetry"
	"github.com/gatewatch/gatewatch/internal/training"
)

// scriptedScorer lets handler tests control scoring outcomes.
type scriptedScorer struct {
	result  scoring.Result
	err     error
	infoErr error
}

func (s *scriptedScorer) Score(ctx context.Context, fv telemetry.FeatureVector) (scoring.Result, error) {
	if s.err != nil {
		return scoring.Result{}, s.err
	}
	return s.result, nil
}

func (s *scriptedScorer) Info(ctx context.Context) (scoring.ModelInfo, error) {
	if s.infoErr != nil {
		return scoring.ModelInfo{}, s.infoErr
	}
	return scoring.ModelInfo{SampleCount: 100, Contamination: 0.1}, nil
}

func newTestServer(t *testing.T, scorer scoring.Scorer) (*httptest.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(scorer, time.Hour, time.Hour, 0)
	t.Cleanup(reg.Close)

	srv := NewServer(reg, scorer, nil, nil)
	ts := httptest.NewServer(srv.Router(config.Default().Server))
	t.Cleanup(ts.Close)
	return ts, reg
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return resp, envelope
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("create session: status %d, env %+v", resp.StatusCode, env)
	}
	data, _ := json.Marshal(env.Data)
	var created sessionCreated
	json.Unmarshal(data, &created)
	if created.SessionID == "" {
		t.Fatal("no session ID returned")
	}
	return created.SessionID
}

func TestSessionLifecycle(t *testing.T) {
	scorer := &scriptedScorer{result: scoring.Result{
		TrustScore: 0.9, Prediction: "human", Verdict: scoring.VerdictPassed,
	}}
	ts, _ := newTestServer(t, scorer)

	id := createSession(t, ts)

	batch := eventBatch{Events: []telemetry.Event{
		{Kind: telemetry.EventKeyDown, FieldID: "ktp", AtMs: 0},
		{Kind: telemetry.EventKeyDown, FieldID: "ktp", AtMs: 120},
		{Kind: telemetry.EventPointerMove, X: 10, Y: 20},
		{Kind: telemetry.EventClick},
	}}
	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/events", batch)
	if resp.StatusCode != http.StatusAccepted || !env.Success {
		t.Fatalf("ingest: status %d, env %+v", resp.StatusCode, env)
	}

	resp, env = doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/"+id+"/decision", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decision: status %d", resp.StatusCode)
	}
	var d gate.Decision
	data, _ := json.Marshal(env.Data)
	json.Unmarshal(data, &d)
	if d.Verdict != scoring.VerdictAnalyzing {
		t.Errorf("pre-finalize verdict = %v, want analyzing", d.Verdict)
	}

	resp, env = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/finalize", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: status %d", resp.StatusCode)
	}
	data, _ = json.Marshal(env.Data)
	json.Unmarshal(data, &d)
	if d.Verdict != scoring.VerdictPassed || !d.Final {
		t.Errorf("final decision = %+v", d)
	}

	// The finalized session is gone.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/"+id+"/decision", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("post-finalize decision status = %d, want 404", resp.StatusCode)
	}
}

func TestUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedScorer{})
	resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/ghost/decision", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != CodeNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestIngestRejectsMalformedBatch(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedScorer{})
	id := createSession(t, ts)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/events",
		eventBatch{Events: []telemetry.Event{{Kind: "telepathy"}}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/events",
		eventBatch{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", resp.StatusCode)
	}
}

func TestFinalizeTransportFailureReturnsAnalyzing(t *testing.T) {
	scorer := &scriptedScorer{err: model.ErrTransport}
	ts, reg := newTestServer(t, scorer)
	id := createSession(t, ts)

	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/finalize", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with degraded decision", resp.StatusCode)
	}
	var d gate.Decision
	data, _ := json.Marshal(env.Data)
	json.Unmarshal(data, &d)
	if d.Verdict != scoring.VerdictAnalyzing || d.Final {
		t.Errorf("decision = %+v, want non-final analyzing", d)
	}

	// Session survives for a retry.
	if _, err := reg.Get(id); err != nil {
		t.Errorf("session should survive a failed finalize: %v", err)
	}
}

func TestScoreEndpoint(t *testing.T) {
	corpus := training.Generate(training.ProfileHuman, 300, 41)
	opts := training.DefaultOptions()
	opts.Seed = 41
	artifact, err := training.Train(corpus, opts)
	if err != nil {
		t.Fatal(err)
	}
	scorer, err := scoring.NewLocalScorerFromArtifact(artifact,
		scoring.Thresholds{Trusted: 0.55, Suspicious: 0.45})
	if err != nil {
		t.Fatal(err)
	}
	ts, _ := newTestServer(t, scorer)

	fields := telemetry.FeatureVector{}.ToMap()
	row := training.Generate(training.ProfileHuman, 1, 42).Rows[0]
	for i, name := range telemetry.FeatureNames {
		fields[name] = row[i]
	}

	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/score", fields)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("score: status %d, env %+v", resp.StatusCode, env)
	}

	delete(fields, "total_clicks")
	resp, env = doJSON(t, http.MethodPost, ts.URL+"/api/v1/score", fields)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("schema drift status = %d, want 422", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != CodeSchemaMismatch {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestModelInfoAndHealth(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedScorer{})

	resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/model", nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("model info: status %d", resp.StatusCode)
	}

	resp, env = doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d", resp.StatusCode)
	}
	var h healthStatus
	data, _ := json.Marshal(env.Data)
	json.Unmarshal(data, &h)
	if h.Status != "ok" || !h.ModelLoaded {
		t.Errorf("health = %+v", h)
	}
}

func TestTelemetryIngestion(t *testing.T) {
	scorer := &scriptedScorer{}
	reg := session.NewRegistry(scorer, time.Hour, time.Hour, 0)
	defer reg.Close()

	features, err := store.OpenFeatureStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer features.Close()

	srv := NewServer(reg, scorer, features, nil)
	ts := httptest.NewServer(srv.Router(config.Default().Server))
	defer ts.Close()

	rec := map[string]any{
		"session_id": "collector-7",
		"features":   telemetry.FeatureVector{SessionTimeMs: 42000, TotalClicks: 9}.ToMap(),
		"suspicious": true,
	}
	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/telemetry", rec)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("ingest: status %d, env %+v", resp.StatusCode, env)
	}
	n, err := features.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("persisted records = %d, want 1", n)
	}

	fields := telemetry.FeatureVector{}.ToMap()
	delete(fields, "mouse_smoothness")
	rec["features"] = fields
	resp, env = doJSON(t, http.MethodPost, ts.URL+"/api/v1/telemetry", rec)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("drifted record status = %d, want 422", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != CodeSchemaMismatch {
		t.Errorf("drifted record error = %+v", env.Error)
	}

	rec["features"] = telemetry.FeatureVector{}.ToMap()
	rec["session_id"] = ""
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/telemetry", rec)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing session_id status = %d, want 400", resp.StatusCode)
	}
}

func TestTelemetryWithoutFeatureStore(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedScorer{})
	rec := map[string]any{
		"session_id": "s1",
		"features":   telemetry.FeatureVector{}.ToMap(),
	}
	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/telemetry", rec)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != CodeOverloaded {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestHealthProbes(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedScorer{})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/health/live", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live: status = %d, want 200", resp.StatusCode)
	}

	resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/health/ready", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready: status = %d, want 200", resp.StatusCode)
	}
	var h healthStatus
	data, _ := json.Marshal(env.Data)
	json.Unmarshal(data, &h)
	if !h.ModelLoaded {
		t.Errorf("ready health = %+v", h)
	}

	down, _ := newTestServer(t, &scriptedScorer{infoErr: model.ErrTransport})
	resp, env = doJSON(t, http.MethodGet, down.URL+"/api/v1/health/ready", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unready: status = %d, want 503", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != CodeModelUnready {
		t.Errorf("unready error = %+v", env.Error)
	}
}

func TestRequestIDEcho(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedScorer{})
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "corr-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "corr-123" {
		t.Errorf("request ID = %q, want echo of inbound", got)
	}
}

func TestFinalizePersistsDecision(t *testing.T) {
	scorer := &scriptedScorer{result: scoring.Result{
		TrustScore: 0.2, Prediction: "bot", Verdict: scoring.VerdictFlagged,
	}}
	reg := session.NewRegistry(scorer, time.Hour, time.Hour, 0)
	defer reg.Close()

	features, err := store.OpenFeatureStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer features.Close()
	decisions, err := store.OpenDecisionLog(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer decisions.Close()

	srv := NewServer(reg, scorer, features, decisions)
	ts := httptest.NewServer(srv.Router(config.Default().Server))
	defer ts.Close()

	id := createSession(t, ts)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+id+"/finalize", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: status %d", resp.StatusCode)
	}

	logged, err := decisions.Lookup(id)
	if err != nil {
		t.Fatalf("decision not logged: %v", err)
	}
	if logged.Decision.Verdict != scoring.VerdictFlagged {
		t.Errorf("logged verdict = %v", logged.Decision.Verdict)
	}

	n, err := features.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("persisted features = %d, want 1", n)
	}

	resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/decisions/"+id, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Errorf("decision lookup: status %d", resp.StatusCode)
	}
}
