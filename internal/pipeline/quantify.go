package pipeline

import (
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// Quantify converts findings into baseline-relative pillar increments. It
// is a deterministic function of the findings, the evidence's sector and
// region, and the submission date, so a historical re-run reproduces the
// same deltas. One increment is produced per finding; findings whose
// category does not resolve to any baseline factor yield none.
func (p *Pipeline) Quantify(findings []model.ExtractionFinding, ev model.Evidence) []model.PillarIncrement {
	increments := make([]model.PillarIncrement, 0, len(findings))
	for _, f := range findings {
		pillar := model.Pillar(f.Attr("category"))
		if !model.ValidPillar(pillar) {
			zap.L().Debug("finding without pillar category skipped",
				zap.String("evidence_id", ev.ID),
				zap.String("kind", string(f.Kind)),
			)
			continue
		}

		lookup, err := p.baselines.Factor(ev.Sector, ev.Region, pillar, ev.SubmittedAt)
		if err != nil {
			// ErrBaselineUnresolved: flagged at intake, not fatal here.
			zap.L().Warn("baseline unresolved for finding",
				zap.String("evidence_id", ev.ID),
				zap.String("sector", ev.Sector),
				zap.String("region", ev.Region),
				zap.String("pillar", string(pillar)),
			)
			continue
		}

		cap := p.cfg.Quantify.PillarCap(string(pillar))
		delta := model.Clamp(lookup.Entry.UnitImpact*f.Quantity, 0, cap)

		conf := f.Confidence
		if lookup.Fallback {
			conf /= 2
		}

		increments = append(increments, model.PillarIncrement{
			EvidenceID: ev.ID,
			Pillar:     pillar,
			Delta:      delta,
			Confidence: conf,
			Degraded:   lookup.Fallback,
		})
	}
	return increments
}

// sumByPillar folds increments into one total delta per pillar. Increments
// for the same pillar sum, never overwrite.
func sumByPillar(increments []model.PillarIncrement) map[model.Pillar]float64 {
	totals := make(map[model.Pillar]float64, len(model.Pillars))
	for _, inc := range increments {
		totals[inc.Pillar] += inc.Delta
	}
	return totals
}

// minConfidence is the weakest-link snapshot confidence: the minimum over
// contributing increments, 1.0 when there are none.
func minConfidence(increments []model.PillarIncrement) float64 {
	conf := 1.0
	for _, inc := range increments {
		if inc.Confidence < conf {
			conf = inc.Confidence
		}
	}
	return conf
}
