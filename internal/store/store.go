// Package store persists evidence, findings, score snapshots, review
// cases, credits, and the audit log. Two backends: sqlite for single-node
// deployments and postgres for shared ones.
package store

import (
	"context"
	"time"

	"github.com/karibu-capital/greenscore-cli/internal/audit"
	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// EvidenceFilter specifies criteria for listing evidence.
type EvidenceFilter struct {
	OwnerID string              `json:"owner_id,omitempty"`
	State   model.EvidenceState `json:"state,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Offset  int                 `json:"offset,omitempty"`
}

// UserScore pairs a user with their current greenscore, for percentile
// ranking within a sector.
type UserScore struct {
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
}

// Store defines the persistence interface for the scoring pipeline.
type Store interface {
	// Evidence
	CreateEvidence(ctx context.Context, ev *model.Evidence) error
	GetEvidence(ctx context.Context, id string) (*model.Evidence, error)
	ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error)
	// TransitionEvidence moves id from one state to another atomically.
	// Returns ErrConcurrencyConflict when the record is no longer in from.
	TransitionEvidence(ctx context.Context, id string, from, to model.EvidenceState) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// CountByBlobSHA counts evidence sharing a payload hash, excluding one
	// owner's own submissions. Feeds the duplicate-evidence fraud check.
	CountByBlobSHA(ctx context.Context, sha256, excludeOwner string) (int, error)

	// Work queue. ClaimQueued atomically moves the oldest QUEUED evidence
	// to EXTRACTING and returns it; nil when the queue is empty.
	ClaimQueued(ctx context.Context) (*model.Evidence, error)
	// RequeueStale moves claimed evidence whose worker died mid-flight
	// (EXTRACTING or EXTRACTING_DONE, untouched for longer than olderThan)
	// back to QUEUED, so it is claimed again instead of stranded.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)

	// Findings. Sets are immutable per version; GetFindings returns the
	// highest version.
	PutFindings(ctx context.Context, evidenceID string, version int, findings []model.ExtractionFinding) error
	GetFindings(ctx context.Context, evidenceID string) ([]model.ExtractionFinding, error)

	// Snapshots. InsertSnapshot expects Version to be latest+1 and returns
	// ErrConcurrencyConflict when another writer got there first.
	LatestSnapshot(ctx context.Context, userID string) (*model.GreenScoreSnapshot, error)
	InsertSnapshot(ctx context.Context, snap model.GreenScoreSnapshot) error
	ListSnapshots(ctx context.Context, userID string, limit int) ([]model.GreenScoreSnapshot, error)
	SectorScores(ctx context.Context, sector, region string) ([]UserScore, error)

	// Review cases. At most one open case per evidence: OpenReviewCase
	// returns the existing open case instead of inserting a second.
	OpenReviewCase(ctx context.Context, rc model.ReviewCase) (*model.ReviewCase, error)
	GetReviewCase(ctx context.Context, id string) (*model.ReviewCase, error)
	ListReviewCases(ctx context.Context, filter model.ReviewFilter) ([]model.ReviewCase, error)
	// DecideReviewCase records a terminal decision; ErrCaseDecided when the
	// case is already decided.
	DecideReviewCase(ctx context.Context, id string, decision model.ReviewDecision, reviewerID, notes string) (*model.ReviewCase, error)

	// Credits. CreateCredit is idempotent per evidence; false means a
	// record already existed.
	CreateCredit(ctx context.Context, rec model.CarbonCreditRecord) (bool, error)
	MarkCreditIssued(ctx context.Context, id string) error
	ListCredits(ctx context.Context, userID string) ([]model.CarbonCreditRecord, error)

	// Audit log, append-only per user.
	AppendAudit(ctx context.Context, e audit.Entry) error
	LastAudit(ctx context.Context, userID string) (*audit.Entry, error)
	ListAudit(ctx context.Context, userID string) ([]audit.Entry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
