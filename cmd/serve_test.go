package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karibu-capital/greenscore-cli/internal/baseline"
	"github.com/karibu-capital/greenscore-cli/internal/blob"
	"github.com/karibu-capital/greenscore-cli/internal/config"
	"github.com/karibu-capital/greenscore-cli/internal/engine"
	"github.com/karibu-capital/greenscore-cli/internal/model"
	"github.com/karibu-capital/greenscore-cli/internal/pipeline"
	"github.com/karibu-capital/greenscore-cli/internal/store"
)

func testServerConfig() *config.Config {
	return &config.Config{
		Intake:  config.IntakeConfig{MaxUploadBytes: 1 << 20},
		Extract: config.ExtractConfig{MaxAttempts: 1, TimeoutSecs: 5, CorroborationBonus: 0.1},
		Quantify: config.QuantifyConfig{PillarCaps: map[string]float64{
			"energy_efficiency":  25,
			"renewable_energy":   25,
			"waste_management":   20,
			"water_conservation": 20,
		}},
		Score:   config.ScoreConfig{ExplainThreshold: 1.0, MaxWriteRetries: 3},
		Gate:    config.GateConfig{AutoApplyThreshold: 0.75, MaxPlausibleQuantity: 1000},
		Credits: config.CreditsConfig{Standard: "VCS", PriceUSDPerT: 12, BufferFraction: 0.10, MinTonnes: 0.05, ConversionProb: 0.6},
		Audit:   config.AuditConfig{HMACKey: "test-key"},
	}
}

// newTestServer wires the real keyword engine behind the HTTP surface.
func newTestServer(t *testing.T) (*httptest.Server, *pipeline.Pipeline, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)

	eff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	baselines := baseline.New([]model.BaselineEntry{
		{Sector: "agriculture", Region: "kenya", Pillar: model.PillarRenewableEnergy, UnitImpact: 12, CO2KgPerUnit: 40, EffectiveFrom: eff},
		{Sector: "agriculture", Region: "kenya", Pillar: model.PillarEnergyEfficiency, UnitImpact: 8, CO2KgPerUnit: 25, EffectiveFrom: eff},
	})

	p := pipeline.New(testServerConfig(), st, blobs, baselines, engine.NewKeyword())
	srv := httptest.NewServer(newRouter(p))
	t.Cleanup(srv.Close)
	return srv, p, st
}

func multipartBody(t *testing.T, fields map[string]string, fileContents string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("file", "evidence.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(fileContents))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func submitViaHTTP(t *testing.T, srv *httptest.Server, owner, evType, contents string) string {
	t.Helper()
	body, contentType := multipartBody(t, map[string]string{
		"sector": "agriculture",
		"region": "kenya",
		"type":   evType,
	}, contents)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/evidence", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", owner)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "queued", out["state"])
	return out["evidence_id"]
}

func drainQueue(t *testing.T, p *pipeline.Pipeline, st store.Store) {
	t.Helper()
	ctx := context.Background()
	for {
		ev, err := st.ClaimQueued(ctx)
		require.NoError(t, err)
		if ev == nil {
			return
		}
		require.NoError(t, p.Process(ctx, *ev))
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitEvidence_RequiresIdentity(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, contentType := multipartBody(t, map[string]string{"sector": "agriculture", "region": "kenya", "type": "receipt"}, "2x solar panel")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/evidence", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitEvidence_BadType(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, contentType := multipartBody(t, map[string]string{"sector": "agriculture", "region": "kenya", "type": "spreadsheet"}, "2x solar panel")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/evidence", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScoreLifecycleOverHTTP(t *testing.T) {
	srv, p, st := newTestServer(t)

	// No score before any evidence lands.
	resp, err := http.Get(srv.URL + "/v1/users/user-1/score")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	submitViaHTTP(t, srv, "user-1", "receipt", "2x solar panel\n4x led bulbs")
	drainQueue(t, p, st)

	resp, err = http.Get(srv.URL + "/v1/users/user-1/score")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap model.GreenScoreSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Version)
	assert.Greater(t, snap.GreenScore, 0.0)
	assert.InDelta(t, model.WeightedScore(snap.Subscores), snap.GreenScore, 1e-9)

	hist, err := http.Get(srv.URL + "/v1/users/user-1/score/history?months=12")
	require.NoError(t, err)
	defer hist.Body.Close()
	var snaps []model.GreenScoreSnapshot
	require.NoError(t, json.NewDecoder(hist.Body).Decode(&snaps))
	assert.Len(t, snaps, 1)

	pf, err := http.Get(srv.URL + "/v1/users/user-1/portfolio")
	require.NoError(t, err)
	defer pf.Body.Close()
	require.Equal(t, http.StatusOK, pf.StatusCode)
	var portfolio model.Portfolio
	require.NoError(t, json.NewDecoder(pf.Body).Decode(&portfolio))
	assert.Equal(t, 1, portfolio.Records)
	assert.Greater(t, portfolio.PendingTonnes, 0.0)
}

func TestReviewFlowOverHTTP(t *testing.T) {
	srv, p, st := newTestServer(t)

	// Photo detections score 0.6, below the auto-apply threshold.
	submitViaHTTP(t, srv, "user-1", "photo", "rooftop solar panel installation")
	drainQueue(t, p, st)

	resp, err := http.Get(srv.URL + "/v1/review")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var queue pipeline.ReviewQueue
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&queue))
	require.Len(t, queue.Cases, 1)
	assert.Equal(t, 1, queue.Counts[model.ReviewReasonLowConfidence])

	decision, err := json.Marshal(map[string]any{"decision": "approved", "notes": "verified on site"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/review/"+queue.Cases[0].ID, bytes.NewReader(decision))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reviewer-ID", "reviewer-1")

	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer dresp.Body.Close()
	require.Equal(t, http.StatusOK, dresp.StatusCode)

	var rc model.ReviewCase
	require.NoError(t, json.NewDecoder(dresp.Body).Decode(&rc))
	assert.Equal(t, model.ReviewApproved, rc.Decision)

	// The approval committed the candidate.
	score, err := http.Get(srv.URL + "/v1/users/user-1/score")
	require.NoError(t, err)
	defer score.Body.Close()
	assert.Equal(t, http.StatusOK, score.StatusCode)

	// A second decision conflicts.
	req2, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/review/"+queue.Cases[0].ID, bytes.NewReader(decision))
	require.NoError(t, err)
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Reviewer-ID", "reviewer-1")
	dresp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer dresp2.Body.Close()
	assert.Equal(t, http.StatusConflict, dresp2.StatusCode)
}

func TestDecideReview_UnknownCase(t *testing.T) {
	srv, _, _ := newTestServer(t)

	decision, err := json.Marshal(map[string]any{"decision": "approved"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/review/no-such-case", bytes.NewReader(decision))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reviewer-ID", "reviewer-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
