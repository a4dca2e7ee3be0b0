package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/engine"
	"github.com/karibu-capital/greenscore-cli/internal/model"
	"github.com/karibu-capital/greenscore-cli/internal/resilience"
)

// extract runs the extraction engine against the evidence payload and
// persists the normalized findings. ok is false when the evidence was
// routed to review instead (engine or blob store exhausted its retries, or
// nothing was recognized in the payload). The blob read sits inside the
// retry so a storage outage escalates to review like any other exhausted
// failure instead of leaving the evidence mid-pipeline.
func (p *Pipeline) extract(ctx context.Context, ev *model.Evidence) ([]model.ExtractionFinding, bool, error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = p.cfg.Extract.MaxAttempts
	retryCfg.InitialBackoff = 500 * time.Millisecond
	retryCfg.ShouldRetry = func(err error) bool {
		var te *model.ExtractionTimeoutError
		return errors.As(err, &te) || resilience.IsTransient(err)
	}
	retryCfg.OnRetry = resilience.RetryLogger("extract", ev.ID)

	raw, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*engine.RawResult, error) {
		payload, err := p.blobs.Get(ctx, ev.BlobRef)
		if err != nil {
			return nil, err
		}
		if _, err := p.store.IncrementAttempts(ctx, ev.ID); err != nil {
			return nil, err
		}
		jobCtx, cancel := context.WithTimeout(ctx, p.cfg.Extract.Timeout())
		defer cancel()
		res, err := p.engine.Extract(jobCtx, *ev, payload)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &model.ExtractionTimeoutError{EvidenceID: ev.ID, Err: err}
			}
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, err
		}
		return nil, false, p.failExtraction(ctx, ev, err)
	}

	refreshed, err := p.store.GetEvidence(ctx, ev.ID)
	if err != nil {
		return nil, false, err
	}
	ev.Attempts = refreshed.Attempts

	findings := Normalize(*ev, raw, p.cfg.Extract.CorroborationBonus)
	if len(findings) == 0 {
		zap.L().Info("no findings extracted, routing to review",
			zap.String("evidence_id", ev.ID),
			zap.String("engine", raw.Engine),
		)
		if err := p.openReview(ctx, ev, model.ReviewReasonLowConfidence, nil); err != nil {
			return nil, false, err
		}
		if err := p.transition(ctx, ev, model.EvidenceStatePendingReview); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	if err := p.store.PutFindings(ctx, ev.ID, ev.Attempts, findings); err != nil {
		return nil, false, err
	}
	if err := p.transition(ctx, ev, model.EvidenceStateExtractingDone); err != nil {
		return nil, false, err
	}

	zap.L().Debug("extraction complete",
		zap.String("evidence_id", ev.ID),
		zap.String("engine", raw.Engine),
		zap.Int("findings", len(findings)),
		zap.Int("attempt", ev.Attempts),
	)
	return findings, true, nil
}

// failExtraction marks the evidence failed after exhausted retries and
// routes it to human review.
func (p *Pipeline) failExtraction(ctx context.Context, ev *model.Evidence, cause error) error {
	zap.L().Warn("extraction exhausted retries",
		zap.String("evidence_id", ev.ID),
		zap.Int("max_attempts", p.cfg.Extract.MaxAttempts),
		zap.Error(cause),
	)
	if err := p.transition(ctx, ev, model.EvidenceStateExtractionFailed); err != nil {
		return err
	}
	if err := p.openReview(ctx, ev, model.ReviewReasonLowConfidence, nil); err != nil {
		return err
	}
	return p.transition(ctx, ev, model.EvidenceStatePendingReview)
}

// openReview opens (or joins) the single open review case for the evidence.
func (p *Pipeline) openReview(ctx context.Context, ev *model.Evidence, reason model.ReviewReason, candidate *model.GreenScoreSnapshot) error {
	rc := model.ReviewCase{
		ID:         uuid.NewString(),
		EvidenceID: ev.ID,
		UserID:     ev.OwnerID,
		Reason:     reason,
		Candidate:  candidate,
		Decision:   model.ReviewPending,
		OpenedAt:   time.Now().UTC(),
	}
	opened, err := p.store.OpenReviewCase(ctx, rc)
	if err != nil {
		return err
	}
	zap.L().Info("review case open",
		zap.String("case_id", opened.ID),
		zap.String("evidence_id", ev.ID),
		zap.String("reason", string(opened.Reason)),
	)
	return nil
}

// Normalize converts a provider's raw result into confidence-scored
// findings. Provider confidences are divided by the result scale into
// [0,1]; when a receipt line item and an image detection agree on the same
// category, both gain the corroboration bonus, capped at 1.0.
func Normalize(ev model.Evidence, raw *engine.RawResult, corroborationBonus float64) []model.ExtractionFinding {
	scale := raw.Scale
	if scale <= 0 {
		scale = 1
	}

	findings := make([]model.ExtractionFinding, 0, len(raw.Observations))
	for _, obs := range raw.Observations {
		attrs := make(map[string]string, len(obs.Attributes))
		for k, v := range obs.Attributes {
			attrs[k] = v
		}
		qty := obs.Quantity
		if qty <= 0 {
			qty = 1
		}
		findings = append(findings, model.ExtractionFinding{
			EvidenceID: ev.ID,
			Version:    ev.Attempts,
			Kind:       obs.Kind,
			Attributes: attrs,
			Quantity:   qty,
			Confidence: model.Clamp(obs.Confidence/scale, 0, 1),
		})
	}

	applyCorroboration(findings, corroborationBonus)
	return findings
}

// applyCorroboration raises the confidence of receipt items and equipment
// detections that independently point at the same category.
func applyCorroboration(findings []model.ExtractionFinding, bonus float64) {
	if bonus <= 0 {
		return
	}
	byKind := make(map[model.FindingKind]map[string]bool)
	for _, f := range findings {
		if cat := f.Attr("category"); cat != "" {
			if byKind[f.Kind] == nil {
				byKind[f.Kind] = make(map[string]bool)
			}
			byKind[f.Kind][cat] = true
		}
	}
	for i := range findings {
		f := &findings[i]
		cat := f.Attr("category")
		if cat == "" {
			continue
		}
		var other model.FindingKind
		switch f.Kind {
		case model.FindingReceiptItem:
			other = model.FindingEquipmentDetected
		case model.FindingEquipmentDetected:
			other = model.FindingReceiptItem
		default:
			continue
		}
		if byKind[other][cat] {
			f.Confidence = model.Clamp(f.Confidence+bonus, 0, 1)
		}
	}
}
