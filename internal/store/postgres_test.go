package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

// anyArgs returns n pgxmock.AnyArg matchers; pgxmock matches argument
// counts exactly, so expectations must declare one matcher per argument.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_LatestSnapshot_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM snapshots WHERE user_id = \$1`).
		WithArgs("user-x").
		WillReturnError(pgx.ErrNoRows)

	snap, err := s.LatestSnapshot(context.Background(), "user-x")
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSnapshot_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO snapshots`).
		WithArgs(anyArgs(12)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.InsertSnapshot(context.Background(), model.GreenScoreSnapshot{
		UserID: "user-1", Version: 3, GreenScore: 52,
		ComputedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, model.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionEvidence_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE evidence SET state = \$1`).
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT .* FROM evidence WHERE id = \$1`).
		WithArgs("ev-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_id", "sector", "region", "type", "description",
			"blob_ref", "blob_sha256", "baseline_unresolved", "state",
			"attempts", "submitted_at", "updated_at",
		}).AddRow("ev-1", "user-1", "agriculture", "kenya", "receipt", "",
			"blobs/x", "deadbeef", false, "extracting", 1,
			time.Now().UTC(), time.Now().UTC()))

	err := s.TransitionEvidence(context.Background(), "ev-1",
		model.EvidenceStateQueued, model.EvidenceStateExtracting)
	assert.ErrorIs(t, err, model.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimQueued_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE evidence SET state = \$1`).
		WithArgs(anyArgs(3)...).
		WillReturnError(pgx.ErrNoRows)

	ev, err := s.ClaimQueued(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCredit_Idempotent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO credits .*ON CONFLICT \(evidence_id\) DO NOTHING`).
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := s.CreateCredit(context.Background(), model.CarbonCreditRecord{
		UserID: "user-1", EvidenceID: "ev-1", Tonnes: 0.9,
		Standard: "VCS", Status: model.CreditPending, ValueUSD: 10.8,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutFindings_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"findings"},
		[]string{"evidence_id", "version", "kind", "attributes", "quantity", "confidence"}).
		WillReturnResult(2)

	err := s.PutFindings(context.Background(), "ev-1", 1, []model.ExtractionFinding{
		{EvidenceID: "ev-1", Version: 1, Kind: model.FindingReceiptItem, Quantity: 1, Confidence: 0.9},
		{EvidenceID: "ev-1", Version: 1, Kind: model.FindingReceiptItem, Quantity: 4, Confidence: 0.8},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DecideReviewCase_AlreadyDecided(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	decidedAt := time.Now().UTC()
	mock.ExpectExec(`UPDATE review_cases SET decision = \$1`).
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT .* FROM review_cases WHERE id = \$1`).
		WithArgs("rc-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "evidence_id", "user_id", "reason", "candidate", "decision",
			"reviewer_id", "notes", "opened_at", "decided_at",
		}).AddRow("rc-1", "ev-1", "user-1", "low_confidence", []byte(nil),
			"approved", "reviewer-9", "", time.Now().UTC(), &decidedAt))

	_, err := s.DecideReviewCase(context.Background(), "rc-1", model.ReviewRejected, "reviewer-9", "")
	assert.ErrorIs(t, err, model.ErrCaseDecided)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementAttempts_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE evidence SET attempts = attempts \+ 1`).
		WithArgs(anyArgs(2)...).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.IncrementAttempts(context.Background(), "ev-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ev-missing")
	assert.NoError(t, mock.ExpectationsWereMet())
}
