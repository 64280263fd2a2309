// Gatewatch - Behavioral Trust Gating for Ticket Checkout
// Copyright 2026 Gatewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewatch/gatewatch

package training

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/scoring"
	"github.com/gatewatch/gatewatch/internal/telemetry"
)

const canonicalHeader = "session_time_ms,seat_hesitation_time_ms,ktp_avg_keystroke_interval_ms," +
	"ktp_keystroke_variance,ktp_total_entry_time_ms,ktp_paste_detected,field_edit_count," +
	"mouse_total_distance,mouse_smoothness,total_clicks"

func writeCorpusFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCSVDropsAuditColumns(t *testing.T) {
	content := "id,user_id,created_at,is_suspicious," + canonicalHeader + "\n" +
		"1,u9,2026-01-01,0,90000,4000,180,2500,9000,0,2,14000,0.4,8\n"
	corpus, err := LoadCSV(writeCorpusFile(t, "sessions.csv", content))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(corpus.Columns) != len(telemetry.FeatureNames) {
		t.Fatalf("columns = %v", corpus.Columns)
	}
	if corpus.Rows[0][0] != 90000 {
		t.Errorf("first feature = %v, want 90000 (audit columns must be dropped)", corpus.Rows[0][0])
	}
	if !corpus.Labeled() || corpus.Suspicious[0] {
		t.Errorf("is_suspicious should be kept as a row label, got %v", corpus.Suspicious)
	}
}

func TestLoadCSVWithoutLabelColumn(t *testing.T) {
	content := canonicalHeader + "\n90000,4000,180,2500,9000,0,2,14000,0.4,8\n"
	corpus, err := LoadCSV(writeCorpusFile(t, "plain.csv", content))
	if err != nil {
		t.Fatal(err)
	}
	if corpus.Labeled() {
		t.Errorf("corpus without is_suspicious should be unlabeled")
	}
}

func TestMergeDropsLabelsWhenAnyCorpusUnlabeled(t *testing.T) {
	cols := []string{"x"}
	labeled := &Corpus{Columns: cols, Rows: [][]float64{{1}}, Suspicious: []bool{true}}
	plain := &Corpus{Columns: cols, Rows: [][]float64{{2}}}

	both, err := Merge(labeled, labeled)
	if err != nil {
		t.Fatal(err)
	}
	if !both.Labeled() {
		t.Errorf("merge of labeled corpora should stay labeled")
	}

	mixed, err := Merge(labeled, plain)
	if err != nil {
		t.Fatal(err)
	}
	if mixed.Labeled() {
		t.Errorf("merge with an unlabeled corpus must drop labels")
	}
}

func TestLoadCSVRejectsWrongColumns(t *testing.T) {
	content := "session_time_ms,clicks\n100,2\n"
	_, err := LoadCSV(writeCorpusFile(t, "bad.csv", content))
	if !errors.Is(err, model.ErrData) {
		t.Errorf("err = %v, want ErrData", err)
	}
}

func TestLoadCSVRejectsNonNumeric(t *testing.T) {
	content := canonicalHeader + "\n" +
		"90000,4000,abc,2500,9000,0,2,14000,0.4,8\n"
	_, err := LoadCSV(writeCorpusFile(t, "bad.csv", content))
	if !errors.Is(err, model.ErrData) {
		t.Errorf("err = %v, want ErrData", err)
	}
}

func TestLoadCSVRejectsEmpty(t *testing.T) {
	_, err := LoadCSV(writeCorpusFile(t, "empty.csv", canonicalHeader+"\n"))
	if !errors.Is(err, model.ErrData) {
		t.Errorf("err = %v, want ErrData", err)
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	if !errors.Is(err, model.ErrData) {
		t.Errorf("err = %v, want ErrData", err)
	}
}

func TestBlankCellsBecomeMedians(t *testing.T) {
	content := canonicalHeader + "\n" +
		"100,1,10,1,100,0,1,1000,0.1,5\n" +
		",3,10,1,100,0,1,1000,0.1,5\n" +
		"300,5,10,1,100,0,1,1000,0.1,5\n"
	corpus, err := LoadCSV(writeCorpusFile(t, "gaps.csv", content))
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(corpus.Rows[1][0]) {
		t.Fatalf("blank cell should parse as NaN, got %v", corpus.Rows[1][0])
	}

	corpus.FillMedians()
	// Median of the present values 100 and 300.
	if corpus.Rows[1][0] != 200 {
		t.Errorf("imputed value = %v, want median 200", corpus.Rows[1][0])
	}
}

func TestMergeRejectsMismatchedColumns(t *testing.T) {
	a := &Corpus{Columns: []string{"x", "y"}, Rows: [][]float64{{1, 2}}}
	b := &Corpus{Columns: []string{"x", "z"}, Rows: [][]float64{{1, 2}}}
	if _, err := Merge(a, b); !errors.Is(err, model.ErrData) {
		t.Errorf("err = %v, want ErrData", err)
	}
}

func TestTrainRejectsBadContamination(t *testing.T) {
	corpus := Generate(ProfileHuman, 50, 1)
	for _, c := range []float64{0, -0.1, 0.5, 0.9} {
		opts := DefaultOptions()
		opts.Contamination = c
		if _, err := Train(corpus, opts); !errors.Is(err, model.ErrData) {
			t.Errorf("contamination %v: err = %v, want ErrData", c, err)
		}
	}
}

func TestTrainProducesConsistentArtifact(t *testing.T) {
	corpus := Generate(ProfileHuman, 300, 2)
	opts := DefaultOptions()
	opts.NumTrees = 40
	opts.SampleSize = 64
	opts.Seed = 2

	artifact, err := Train(corpus, opts)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if got := artifact.Meta.FeatureColumns; len(got) != len(telemetry.FeatureNames) {
		t.Errorf("metadata columns = %v", got)
	}
	if artifact.Meta.Threshold <= 0 || artifact.Meta.Threshold >= 1 {
		t.Errorf("threshold = %v, want inside (0,1)", artifact.Meta.Threshold)
	}
	if artifact.Meta.SampleCount != 300 {
		t.Errorf("sample count = %d", artifact.Meta.SampleCount)
	}
}

func TestTrainedModelSeparatesProfiles(t *testing.T) {
	// Train on humans only; bot sessions come from a disjoint behavioral
	// range and must score as more anomalous.
	corpus := Generate(ProfileHuman, 400, 3)
	opts := DefaultOptions()
	opts.Seed = 3

	artifact, err := Train(corpus, opts)
	if err != nil {
		t.Fatal(err)
	}

	human := Generate(ProfileHuman, 30, 4)
	bot := Generate(ProfileBot, 30, 5)

	avgHuman := avgScore(t, artifact, human.Rows)
	avgBot := avgScore(t, artifact, bot.Rows)
	if avgBot <= avgHuman {
		t.Errorf("bot avg score %v should exceed human avg %v", avgBot, avgHuman)
	}
}

func avgScore(t *testing.T, a *model.Artifact, rows [][]float64) float64 {
	t.Helper()
	var sum float64
	for _, row := range rows {
		scaled, err := a.Scaler.Transform(row)
		if err != nil {
			t.Fatal(err)
		}
		s, err := a.Forest.Score(scaled)
		if err != nil {
			t.Fatal(err)
		}
		sum += s
	}
	return sum / float64(len(rows))
}

// disjointRangeCorpus draws rows uniformly from per-feature ranges. The
// legitimate and suspicious ranges never overlap on any feature, the
// shape of a corpus collected from real shoppers next to scripted
// checkout runs.
func disjointRangeCorpus(n int, susp bool, seed int64) *Corpus {
	lo := []float64{30000, 2000, 120, 1500, 6000, 0, 0, 8000, 0.3, 5}
	hi := []float64{60000, 8000, 260, 4000, 14000, 0, 3, 20000, 0.6, 16}
	if susp {
		lo = []float64{500, 0, 5, 0, 100, 1, 0, 200, 0, 2}
		hi = []float64{2000, 150, 30, 25, 500, 1, 0, 1500, 0.03, 4}
	}

	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	labels := make([]bool, n)
	for i := range rows {
		row := make([]float64, len(lo))
		for j := range row {
			row[j] = lo[j] + rng.Float64()*(hi[j]-lo[j])
		}
		rows[i] = row
		labels[i] = susp
	}
	return &Corpus{
		Columns:    append([]string(nil), telemetry.FeatureNames...),
		Rows:       rows,
		Suspicious: labels,
	}
}

func featureMap(vals []float64) map[string]float64 {
	m := make(map[string]float64, len(vals))
	for i, name := range telemetry.FeatureNames {
		m[name] = vals[i]
	}
	return m
}

// A model trained on merged legitimate and scripted corpora must give a
// held-out row from each range the matching verdict, not just a relative
// ordering of scores.
func TestDisjointCorporaYieldOpposingVerdicts(t *testing.T) {
	merged, err := Merge(
		disjointRangeCorpus(20, false, 31),
		disjointRangeCorpus(20, true, 32),
	)
	if err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.Seed = 33
	artifact, err := Train(merged, opts)
	if err != nil {
		t.Fatal(err)
	}
	if artifact.Meta.Calibration == nil {
		t.Fatal("labeled corpus must produce a calibrated artifact")
	}

	// Zero thresholds pick up the cutoffs recorded in the metadata.
	scorer, err := scoring.NewLocalScorerFromArtifact(artifact, scoring.Thresholds{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	legitHeld, _ := telemetry.FromMap(featureMap(
		[]float64{45000, 3100, 233, 1900, 12600, 0, 2, 9800, 0.55, 14}))
	suspHeld, _ := telemetry.FromMap(featureMap(
		[]float64{800, 60, 15, 10, 300, 1, 0, 800, 0.01, 3}))

	legitRes, err := scorer.Score(ctx, legitHeld)
	if err != nil {
		t.Fatal(err)
	}
	suspRes, err := scorer.Score(ctx, suspHeld)
	if err != nil {
		t.Fatal(err)
	}

	if legitRes.Verdict != scoring.VerdictPassed {
		t.Errorf("legitimate-range row: verdict=%v trust=%v anomaly=%v, want passed",
			legitRes.Verdict, legitRes.TrustScore, legitRes.AnomalyScore)
	}
	if suspRes.Verdict != scoring.VerdictFlagged {
		t.Errorf("suspicious-range row: verdict=%v trust=%v anomaly=%v, want flagged",
			suspRes.Verdict, suspRes.TrustScore, suspRes.AnomalyScore)
	}
	if suspRes.Prediction != "bot" || legitRes.Prediction != "human" {
		t.Errorf("predictions = %q/%q, want human/bot", legitRes.Prediction, suspRes.Prediction)
	}
}

func TestTrainFilesEndToEnd(t *testing.T) {
	dir := t.TempDir()
	humanPath := filepath.Join(dir, "human_sessions.csv")
	botPath := filepath.Join(dir, "bot_sessions.csv")
	if err := Generate(ProfileHuman, 200, 6).WriteCSV(humanPath); err != nil {
		t.Fatal(err)
	}
	if err := Generate(ProfileBot, 40, 7).WriteCSV(botPath); err != nil {
		t.Fatal(err)
	}

	outDir := filepath.Join(dir, "artifacts")
	opts := DefaultOptions()
	opts.Seed = 8
	artifact, err := TrainFiles([]string{humanPath, botPath}, outDir, opts)
	if err != nil {
		t.Fatalf("train files: %v", err)
	}
	if artifact.Meta.SampleCount != 240 {
		t.Errorf("sample count = %d, want 240", artifact.Meta.SampleCount)
	}

	loaded, err := model.Load(outDir)
	if err != nil {
		t.Fatalf("reload artifacts: %v", err)
	}
	if len(loaded.Meta.FeatureColumns) != len(telemetry.FeatureNames) {
		t.Errorf("reloaded columns = %v", loaded.Meta.FeatureColumns)
	}
	// Generated corpora carry labels, so the reloaded artifact must keep
	// its class calibration and the verdict cutoffs.
	if loaded.Meta.Calibration == nil {
		t.Error("calibration lost on reload")
	}
	if loaded.Meta.TrustedCutoff != opts.TrustedCutoff || loaded.Meta.SuspiciousCutoff != opts.SuspiciousCutoff {
		t.Errorf("cutoffs = %v/%v, want %v/%v",
			loaded.Meta.TrustedCutoff, loaded.Meta.SuspiciousCutoff,
			opts.TrustedCutoff, opts.SuspiciousCutoff)
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	orig := Generate(ProfileHuman, 25, 9)
	if err := orig.WriteCSV(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "id,session_time_ms") {
		t.Errorf("header = %q", strings.SplitN(string(data), "\n", 2)[0])
	}

	loaded, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded.Rows) != 25 {
		t.Errorf("rows = %d, want 25", len(loaded.Rows))
	}
}
