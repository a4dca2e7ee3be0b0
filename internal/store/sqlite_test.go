package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karibu-capital/greenscore-cli/internal/audit"
	"github.com/karibu-capital/greenscore-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEvidence(owner string) *model.Evidence {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Evidence{
		ID:          uuid.New().String(),
		OwnerID:     owner,
		Sector:      "agriculture",
		Region:      "kenya",
		Type:        model.EvidenceTypeReceipt,
		Description: "solar panel receipt",
		BlobRef:     "blobs/abc",
		BlobSHA256:  "deadbeef",
		State:       model.EvidenceStateUploaded,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

func TestEvidenceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := newTestEvidence("user-1")
	require.NoError(t, s.CreateEvidence(ctx, ev))

	got, err := s.GetEvidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.OwnerID, got.OwnerID)
	assert.Equal(t, model.EvidenceStateUploaded, got.State)
	assert.Equal(t, 0, got.Attempts)

	require.NoError(t, s.TransitionEvidence(ctx, ev.ID, model.EvidenceStateUploaded, model.EvidenceStateQueued))

	// A second transition from the stale state loses the CAS.
	err = s.TransitionEvidence(ctx, ev.ID, model.EvidenceStateUploaded, model.EvidenceStateQueued)
	assert.ErrorIs(t, err, model.ErrConcurrencyConflict)

	n, err := s.IncrementAttempts(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncrementAttempts(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListEvidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := newTestEvidence("user-1")
		ev.SubmittedAt = ev.SubmittedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateEvidence(ctx, ev))
	}
	other := newTestEvidence("user-2")
	require.NoError(t, s.CreateEvidence(ctx, other))

	evs, err := s.ListEvidence(ctx, EvidenceFilter{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, evs, 3)

	evs, err = s.ListEvidence(ctx, EvidenceFilter{State: model.EvidenceStateUploaded, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestCountByBlobSHA(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mine := newTestEvidence("user-1")
	require.NoError(t, s.CreateEvidence(ctx, mine))

	theirs := newTestEvidence("user-2")
	require.NoError(t, s.CreateEvidence(ctx, theirs))

	// Own resubmission does not count; another owner's copy does.
	n, err := s.CountByBlobSHA(ctx, "deadbeef", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaimQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.ClaimQueued(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	older := newTestEvidence("user-1")
	older.State = model.EvidenceStateQueued
	older.SubmittedAt = older.SubmittedAt.Add(-time.Minute)
	require.NoError(t, s.CreateEvidence(ctx, older))

	newer := newTestEvidence("user-1")
	newer.State = model.EvidenceStateQueued
	require.NoError(t, s.CreateEvidence(ctx, newer))

	got, err = s.ClaimQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)
	assert.Equal(t, model.EvidenceStateExtracting, got.State)

	got, err = s.ClaimQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	got, err = s.ClaimQueued(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRequeueStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := newTestEvidence("user-1")
	stale.State = model.EvidenceStateExtracting
	stale.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, s.CreateEvidence(ctx, stale))

	staleDone := newTestEvidence("user-1")
	staleDone.State = model.EvidenceStateExtractingDone
	staleDone.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, s.CreateEvidence(ctx, staleDone))

	fresh := newTestEvidence("user-1")
	fresh.State = model.EvidenceStateExtracting
	require.NoError(t, s.CreateEvidence(ctx, fresh))

	n, err := s.RequeueStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Both stale items are claimable again; the fresh claim is untouched.
	for _, id := range []string{stale.ID, staleDone.ID} {
		got, err := s.GetEvidence(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.EvidenceStateQueued, got.State, "evidence %s", id)
	}
	got, err := s.GetEvidence(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EvidenceStateExtracting, got.State)

	n, err = s.RequeueStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFindingsVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := newTestEvidence("user-1")
	require.NoError(t, s.CreateEvidence(ctx, ev))

	v1 := []model.ExtractionFinding{
		{EvidenceID: ev.ID, Version: 1, Kind: model.FindingReceiptItem,
			Attributes: map[string]string{"item": "solar_panel"}, Quantity: 1, Confidence: 0.4},
	}
	require.NoError(t, s.PutFindings(ctx, ev.ID, 1, v1))

	v2 := []model.ExtractionFinding{
		{EvidenceID: ev.ID, Version: 2, Kind: model.FindingReceiptItem,
			Attributes: map[string]string{"item": "solar_panel"}, Quantity: 2, Confidence: 0.9},
		{EvidenceID: ev.ID, Version: 2, Kind: model.FindingReceiptItem,
			Attributes: map[string]string{"item": "led_light"}, Quantity: 4, Confidence: 0.8},
	}
	require.NoError(t, s.PutFindings(ctx, ev.ID, 2, v2))

	got, err := s.GetFindings(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Version)
	assert.Equal(t, "solar_panel", got[0].Attr("item"))
}

func TestSnapshotOptimisticVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, err := s.LatestSnapshot(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	first := model.GreenScoreSnapshot{
		UserID: "user-1", Version: 1, EvidenceID: "ev-1",
		GreenScore: 40, Subscores: model.Subscores{RenewableEnergy: 40},
		Confidence: 0.9, Sector: "agriculture", Region: "kenya",
		Explainers: []string{"+12.0 renewable_energy"},
		Actions:    []string{"submit water evidence"},
		ComputedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertSnapshot(ctx, first))

	// Same version again loses the optimistic race.
	err = s.InsertSnapshot(ctx, first)
	assert.ErrorIs(t, err, model.ErrConcurrencyConflict)

	second := first
	second.Version = 2
	second.GreenScore = 52
	require.NoError(t, s.InsertSnapshot(ctx, second))

	latest, err := s.LatestSnapshot(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 52.0, latest.GreenScore)
	assert.Equal(t, []string{"+12.0 renewable_energy"}, latest.Explainers)

	history, err := s.ListSnapshots(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
}

func TestSectorScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, row := range []struct {
		user  string
		ver   int
		score float64
	}{
		{"user-a", 1, 30}, {"user-a", 2, 55},
		{"user-b", 1, 55},
		{"user-c", 1, 80},
	} {
		require.NoError(t, s.InsertSnapshot(ctx, model.GreenScoreSnapshot{
			UserID: row.user, Version: row.ver, EvidenceID: "ev",
			GreenScore: row.score, Sector: "agriculture", Region: "kenya",
			Explainers: []string{}, Actions: []string{},
			ComputedAt: time.Now().UTC(),
		}))
	}

	scores, err := s.SectorScores(ctx, "agriculture", "kenya")
	require.NoError(t, err)
	require.Len(t, scores, 3)
	// Latest version per user, ordered by user id.
	assert.Equal(t, UserScore{UserID: "user-a", Score: 55}, scores[0])
	assert.Equal(t, UserScore{UserID: "user-b", Score: 55}, scores[1])
	assert.Equal(t, UserScore{UserID: "user-c", Score: 80}, scores[2])
}

func TestReviewCase_OneOpenPerEvidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := newTestEvidence("user-1")
	require.NoError(t, s.CreateEvidence(ctx, ev))

	rc1, err := s.OpenReviewCase(ctx, model.ReviewCase{
		EvidenceID: ev.ID, UserID: "user-1", Reason: model.ReviewReasonLowConfidence,
		Candidate: &model.GreenScoreSnapshot{UserID: "user-1", Version: 1, GreenScore: 40},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rc1.ID)
	assert.Equal(t, model.ReviewPending, rc1.Decision)

	// Second open for the same evidence reuses the existing case.
	rc2, err := s.OpenReviewCase(ctx, model.ReviewCase{
		EvidenceID: ev.ID, UserID: "user-1", Reason: model.ReviewReasonConflictDetected,
	})
	require.NoError(t, err)
	assert.Equal(t, rc1.ID, rc2.ID)
	assert.Equal(t, model.ReviewReasonLowConfidence, rc2.Reason)
}

func TestDecideReviewCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := newTestEvidence("user-1")
	require.NoError(t, s.CreateEvidence(ctx, ev))

	rc, err := s.OpenReviewCase(ctx, model.ReviewCase{
		EvidenceID: ev.ID, UserID: "user-1", Reason: model.ReviewReasonLowConfidence,
	})
	require.NoError(t, err)

	decided, err := s.DecideReviewCase(ctx, rc.ID, model.ReviewApproved, "reviewer-9", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, decided.Decision)
	assert.Equal(t, "reviewer-9", decided.ReviewerID)
	require.NotNil(t, decided.DecidedAt)

	// Decisions are final.
	_, err = s.DecideReviewCase(ctx, rc.ID, model.ReviewRejected, "reviewer-9", "")
	assert.ErrorIs(t, err, model.ErrCaseDecided)
}

func TestLookupsReportNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetEvidence(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.GetReviewCase(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.DecideReviewCase(ctx, "missing", model.ReviewApproved, "reviewer-9", "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	err = s.MarkCreditIssued(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListReviewCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ev := newTestEvidence("user-1")
		require.NoError(t, s.CreateEvidence(ctx, ev))
		_, err := s.OpenReviewCase(ctx, model.ReviewCase{
			EvidenceID: ev.ID, UserID: "user-1", Reason: model.ReviewReasonLowConfidence,
		})
		require.NoError(t, err)
	}

	cases, err := s.ListReviewCases(ctx, model.ReviewFilter{Decision: model.ReviewPending})
	require.NoError(t, err)
	assert.Len(t, cases, 2)

	cases, err = s.ListReviewCases(ctx, model.ReviewFilter{Reason: model.ReviewReasonPolicyFlag})
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestCreditIdempotency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := model.CarbonCreditRecord{
		UserID: "user-1", EvidenceID: "ev-1", Tonnes: 0.9,
		Standard: "VCS", Status: model.CreditPending, ValueUSD: 10.8,
	}
	created, err := s.CreateCredit(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateCredit(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created)

	credits, err := s.ListCredits(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, model.CreditPending, credits[0].Status)
	assert.Nil(t, credits[0].IssuedAt)

	require.NoError(t, s.MarkCreditIssued(ctx, credits[0].ID))
	credits, err = s.ListCredits(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.CreditIssued, credits[0].Status)
	assert.NotNil(t, credits[0].IssuedAt)

	// Already issued: no-op update reports not found.
	assert.Error(t, s.MarkCreditIssued(ctx, credits[0].ID))
}

func TestAuditRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastAudit(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, last)

	chain := audit.NewChain("test-key")
	e1, err := chain.Next(nil, "user-1", "auto_apply", map[string]any{"version": 1})
	require.NoError(t, err)
	require.NoError(t, s.AppendAudit(ctx, *e1))

	e2, err := chain.Next(e1, "user-1", "review_decision", map[string]any{"decision": "approved"})
	require.NoError(t, err)
	require.NoError(t, s.AppendAudit(ctx, *e2))

	last, err = s.LastAudit(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Seq)
	assert.Equal(t, e1.Hash, last.PrevHash)

	entries, err := s.ListAudit(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NoError(t, chain.Verify(entries))
}
