package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// issueCredit records a pending carbon credit for a finalized snapshot
// whose increments imply a positive emission reduction. Tonnes derive from
// the same baseline factors that produced the increments, so a credit is
// always traceable to the deltas behind it. Idempotent per evidence id.
func (p *Pipeline) issueCredit(ctx context.Context, ev model.Evidence, snap *model.GreenScoreSnapshot, increments []model.PillarIncrement) error {
	tonnes := p.creditTonnes(ev, increments)
	if tonnes < p.cfg.Credits.MinTonnes {
		zap.L().Debug("emission reduction below credit minimum",
			zap.String("evidence_id", ev.ID),
			zap.Float64("tonnes", tonnes),
		)
		return nil
	}

	rec := model.CarbonCreditRecord{
		ID:         uuid.NewString(),
		UserID:     ev.OwnerID,
		EvidenceID: ev.ID,
		Tonnes:     tonnes,
		Standard:   p.cfg.Credits.Standard,
		Status:     model.CreditPending,
		ValueUSD:   round2(tonnes * p.cfg.Credits.PriceUSDPerT),
		CreatedAt:  time.Now().UTC(),
	}
	created, err := p.store.CreateCredit(ctx, rec)
	if err != nil {
		return err
	}
	if !created {
		zap.L().Debug("credit already recorded for evidence",
			zap.String("evidence_id", ev.ID),
		)
		return nil
	}

	if err := p.appendAudit(ctx, ev.OwnerID, "credit_created", map[string]any{
		"credit_id":   rec.ID,
		"evidence_id": ev.ID,
		"snapshot":    snap.Version,
		"tonnes":      rec.Tonnes,
		"standard":    rec.Standard,
	}); err != nil {
		return err
	}

	zap.L().Info("carbon credit recorded",
		zap.String("credit_id", rec.ID),
		zap.String("user_id", ev.OwnerID),
		zap.Float64("tonnes", rec.Tonnes),
		zap.Float64("value_usd", rec.ValueUSD),
	)
	return nil
}

// creditTonnes converts pillar deltas into tonnes of CO2-equivalent using
// the per-pillar kg factors from the baseline dataset, less the permanence
// buffer. Rounded to three decimals.
func (p *Pipeline) creditTonnes(ev model.Evidence, increments []model.PillarIncrement) float64 {
	kg := 0.0
	for _, inc := range increments {
		lookup, err := p.baselines.Factor(ev.Sector, ev.Region, inc.Pillar, ev.SubmittedAt)
		if err != nil {
			continue
		}
		kg += inc.Delta * lookup.Entry.CO2KgPerUnit
	}
	tonnes := kg / 1000 * (1 - p.cfg.Credits.BufferFraction)
	return math.Round(tonnes*1000) / 1000
}

// IssueCredit applies an external registry's pending-to-issued transition.
// The pipeline never flips this status on its own.
func (p *Pipeline) IssueCredit(ctx context.Context, creditID, userID string) error {
	if err := p.verifyChain(ctx, userID); err != nil {
		return err
	}
	if err := p.store.MarkCreditIssued(ctx, creditID); err != nil {
		return err
	}
	return p.appendAudit(ctx, userID, "credit_issued", map[string]any{
		"credit_id": creditID,
	})
}

// Portfolio folds the user's credit records into issued/pending/projected
// totals with a per-standard breakdown. Computed at read time, never
// persisted.
func (p *Pipeline) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	records, err := p.store.ListCredits(ctx, userID)
	if err != nil {
		return nil, err
	}

	pf := &model.Portfolio{UserID: userID, ByStandard: []model.StandardTotals{}}
	byStandard := make(map[string]*model.StandardTotals)
	order := []string{}

	for _, rec := range records {
		st, ok := byStandard[rec.Standard]
		if !ok {
			st = &model.StandardTotals{Standard: rec.Standard}
			byStandard[rec.Standard] = st
			order = append(order, rec.Standard)
		}
		st.ValueUSD = round2(st.ValueUSD + rec.ValueUSD)

		switch rec.Status {
		case model.CreditIssued:
			pf.IssuedTonnes += rec.Tonnes
			pf.IssuedValueUSD = round2(pf.IssuedValueUSD + rec.ValueUSD)
			st.IssuedTonnes += rec.Tonnes
		default:
			pf.PendingTonnes += rec.Tonnes
			pf.PendingValueUSD = round2(pf.PendingValueUSD + rec.ValueUSD)
			st.PendingTonnes += rec.Tonnes
		}
		pf.Records++
	}

	pf.ProjectedTonnes = math.Round(pf.PendingTonnes*p.cfg.Credits.ConversionProb*1000) / 1000
	for _, std := range order {
		pf.ByStandard = append(pf.ByStandard, *byStandard[std])
	}
	return pf, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
