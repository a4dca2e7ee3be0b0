package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// ReviewInput carries a reviewer's adjudication of an open case.
type ReviewInput struct {
	Decision   model.ReviewDecision
	ReviewerID string
	Notes      string
	// Adjusted holds the reviewer's subscores for an "adjusted" decision.
	Adjusted *model.Subscores
	// Force marks an administrative override reject.
	Force bool
}

// DecideReview applies a reviewer decision to an open case. Approval
// commits the candidate snapshot; adjustment commits the reviewer's
// subscores under the same clamp rules; rejection discards the candidate
// and rejects the evidence. Every decision appends to the user's audit
// chain, and a broken chain halts the decision entirely.
func (p *Pipeline) DecideReview(ctx context.Context, caseID string, in ReviewInput) (*model.ReviewCase, error) {
	if !in.Decision.Decided() {
		return nil, model.NewValidationError("decision", "must be approved, adjusted, or rejected")
	}
	if in.Decision == model.ReviewAdjusted && in.Adjusted == nil {
		return nil, model.NewValidationError("adjusted", "adjusted decision requires subscores")
	}

	rc, err := p.store.GetReviewCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if rc.Decision.Decided() {
		return nil, model.ErrCaseDecided
	}
	if err := p.verifyChain(ctx, rc.UserID); err != nil {
		return nil, err
	}
	if in.Decision != model.ReviewRejected && rc.Candidate == nil {
		// Extraction never produced a candidate; nothing to commit.
		return nil, model.NewValidationError("decision", "case has no candidate snapshot, only rejection is possible")
	}

	ev, err := p.store.GetEvidence(ctx, rc.EvidenceID)
	if err != nil {
		return nil, err
	}
	// A terminal evidence cannot be re-decided, not even by override.
	if ev.State.Terminal() {
		return nil, model.ErrCaseDecided
	}

	// Effects first, record last: a failed apply leaves the case pending
	// and the decision retriable instead of stranding the evidence behind
	// a decided case.
	switch in.Decision {
	case model.ReviewRejected:
		err = p.applyRejection(ctx, ev)
	default:
		err = p.applyApproval(ctx, ev, rc, in)
	}
	if err != nil {
		return nil, err
	}

	decided, err := p.store.DecideReviewCase(ctx, caseID, in.Decision, in.ReviewerID, in.Notes)
	if err != nil {
		return nil, err
	}

	if err := p.appendAudit(ctx, rc.UserID, "review_decision", map[string]any{
		"case_id":     caseID,
		"evidence_id": rc.EvidenceID,
		"decision":    string(in.Decision),
		"reviewer_id": in.ReviewerID,
		"forced":      in.Force,
	}); err != nil {
		return nil, err
	}

	zap.L().Info("review case decided",
		zap.String("case_id", caseID),
		zap.String("decision", string(in.Decision)),
		zap.String("reviewer_id", in.ReviewerID),
		zap.Bool("forced", in.Force),
	)
	return decided, nil
}

// ForceReject is the administrative override: it rejects an undecided case
// regardless of the evidence's progress, short of FINALIZED.
func (p *Pipeline) ForceReject(ctx context.Context, caseID, adminID, notes string) (*model.ReviewCase, error) {
	return p.DecideReview(ctx, caseID, ReviewInput{
		Decision:   model.ReviewRejected,
		ReviewerID: adminID,
		Notes:      notes,
		Force:      true,
	})
}

// applyRejection discards the candidate. No snapshot, no credit.
func (p *Pipeline) applyRejection(ctx context.Context, ev *model.Evidence) error {
	return p.transition(ctx, ev, model.EvidenceStateRejected)
}

// applyApproval commits the candidate (or the reviewer's adjusted
// subscores), finalizes the evidence, and issues credits from the same
// increments that produced the candidate.
func (p *Pipeline) applyApproval(ctx context.Context, ev *model.Evidence, rc *model.ReviewCase, in ReviewInput) error {
	findings, err := p.store.GetFindings(ctx, ev.ID)
	if err != nil {
		return err
	}
	increments := p.Quantify(findings, *ev)

	candidate := *rc.Candidate
	var rebuild func(ctx context.Context) (*model.GreenScoreSnapshot, error)

	if in.Decision == model.ReviewAdjusted {
		subs := in.Adjusted.Clamped()
		candidate.Subscores = subs
		candidate.GreenScore = model.WeightedScore(subs)
		candidate.ComputedAt = time.Now().UTC()
		rebuild = func(ctx context.Context) (*model.GreenScoreSnapshot, error) {
			return p.reversionSnapshot(ctx, candidate)
		}
	} else {
		rebuild = func(ctx context.Context) (*model.GreenScoreSnapshot, error) {
			return p.buildCandidate(ctx, *ev, increments)
		}
	}

	committed, err := p.commitSnapshot(ctx, *ev, &candidate, rebuild)
	if err != nil {
		return err
	}
	if err := p.transition(ctx, ev, model.EvidenceStateFinalized); err != nil {
		return err
	}
	return p.issueCredit(ctx, *ev, committed, increments)
}

// reversionSnapshot renumbers a fixed-subscore snapshot against the user's
// newest version after a write conflict.
func (p *Pipeline) reversionSnapshot(ctx context.Context, snap model.GreenScoreSnapshot) (*model.GreenScoreSnapshot, error) {
	latest, err := p.store.LatestSnapshot(ctx, snap.UserID)
	if err != nil {
		return nil, err
	}
	snap.Version = 1
	if latest != nil {
		snap.Version = latest.Version + 1
	}
	return &snap, nil
}
