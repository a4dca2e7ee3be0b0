package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// gate either auto-applies the candidate snapshot or routes it to a human.
// Auto-apply requires confidence at or above the configured threshold and
// no fraud heuristic firing.
func (p *Pipeline) gate(ctx context.Context, ev model.Evidence, candidate *model.GreenScoreSnapshot, findings []model.ExtractionFinding, increments []model.PillarIncrement) error {
	if reason, flagged, err := p.fraudReason(ctx, ev, findings); err != nil {
		return err
	} else if flagged {
		return p.routeToReview(ctx, &ev, reason, candidate)
	}

	if candidate.Confidence < p.cfg.Gate.AutoApplyThreshold {
		return p.routeToReview(ctx, &ev, model.ReviewReasonLowConfidence, candidate)
	}

	return p.autoApply(ctx, ev, candidate, increments)
}

func (p *Pipeline) routeToReview(ctx context.Context, ev *model.Evidence, reason model.ReviewReason, candidate *model.GreenScoreSnapshot) error {
	if err := p.openReview(ctx, ev, reason, candidate); err != nil {
		return err
	}
	return p.transition(ctx, ev, model.EvidenceStatePendingReview)
}

// autoApply commits the candidate, finalizes the evidence, records the
// decision in the audit chain, and hands off to credit issuance.
func (p *Pipeline) autoApply(ctx context.Context, ev model.Evidence, candidate *model.GreenScoreSnapshot, increments []model.PillarIncrement) error {
	if err := p.verifyChain(ctx, ev.OwnerID); err != nil {
		return err
	}

	committed, err := p.commitSnapshot(ctx, ev, candidate, func(ctx context.Context) (*model.GreenScoreSnapshot, error) {
		return p.buildCandidate(ctx, ev, increments)
	})
	if err != nil {
		return err
	}
	if err := p.transition(ctx, &ev, model.EvidenceStateFinalized); err != nil {
		return err
	}

	if err := p.appendAudit(ctx, ev.OwnerID, "auto_apply", map[string]any{
		"evidence_id": ev.ID,
		"version":     committed.Version,
		"greenscore":  committed.GreenScore,
		"confidence":  committed.Confidence,
	}); err != nil {
		return err
	}

	zap.L().Info("snapshot auto-applied",
		zap.String("evidence_id", ev.ID),
		zap.String("user_id", ev.OwnerID),
		zap.Float64("greenscore", committed.GreenScore),
	)
	return p.issueCredit(ctx, ev, committed, increments)
}

// fraudReason runs the gate's fraud heuristics in a fixed order and returns
// the first one that fires.
func (p *Pipeline) fraudReason(ctx context.Context, ev model.Evidence, findings []model.ExtractionFinding) (model.ReviewReason, bool, error) {
	// Same payload hash submitted by a different owner.
	dupes, err := p.store.CountByBlobSHA(ctx, ev.BlobSHA256, ev.OwnerID)
	if err != nil {
		return "", false, err
	}
	if dupes > 0 {
		zap.L().Warn("duplicate payload across owners",
			zap.String("evidence_id", ev.ID),
			zap.String("sha256", ev.BlobSHA256),
			zap.Int("other_owners", dupes),
		)
		return model.ReviewReasonPolicyFlag, true, nil
	}

	// Quantity implausible for a small business.
	for _, f := range findings {
		if f.Quantity > p.cfg.Gate.MaxPlausibleQuantity {
			zap.L().Warn("implausible finding quantity",
				zap.String("evidence_id", ev.ID),
				zap.Float64("quantity", f.Quantity),
			)
			return model.ReviewReasonPolicyFlag, true, nil
		}
	}

	if hasConflict(findings) {
		return model.ReviewReasonConflictDetected, true, nil
	}
	return "", false, nil
}

// hasConflict reports whether two findings of the same kind describe the
// same item but contradict each other on another attribute, with both
// sides at credible confidence.
func hasConflict(findings []model.ExtractionFinding) bool {
	const credible = 0.5
	for i := 0; i < len(findings); i++ {
		for j := i + 1; j < len(findings); j++ {
			a, b := findings[i], findings[j]
			if a.Kind != b.Kind || a.Attr("item") != b.Attr("item") {
				continue
			}
			if a.Confidence < credible || b.Confidence < credible {
				continue
			}
			for key, av := range a.Attributes {
				if key == "item" {
					continue
				}
				if bv, ok := b.Attributes[key]; ok && bv != av {
					return true
				}
			}
		}
	}
	return false
}
