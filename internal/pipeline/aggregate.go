package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// buildCandidate computes the candidate snapshot from the user's prior
// score and the evidence batch's increments. Deterministic apart from the
// computed-at timestamp.
func (p *Pipeline) buildCandidate(ctx context.Context, ev model.Evidence, increments []model.PillarIncrement) (*model.GreenScoreSnapshot, error) {
	prior, err := p.store.LatestSnapshot(ctx, ev.OwnerID)
	if err != nil {
		return nil, err
	}

	var subs model.Subscores
	version := 1
	if prior != nil {
		subs = prior.Subscores
		version = prior.Version + 1
	}

	totals := sumByPillar(increments)
	for pillar, delta := range totals {
		subs.Set(pillar, subs.Get(pillar)+delta)
	}

	score := model.WeightedScore(subs)
	percentile, err := p.percentile(ctx, ev, score)
	if err != nil {
		return nil, err
	}

	explainers, actions := Explain(subs, totals, score, p.cfg.Score.ExplainThreshold)

	return &model.GreenScoreSnapshot{
		UserID:           ev.OwnerID,
		Version:          version,
		EvidenceID:       ev.ID,
		GreenScore:       score,
		Subscores:        subs,
		Confidence:       minConfidence(increments),
		SectorPercentile: percentile,
		Sector:           ev.Sector,
		Region:           ev.Region,
		Explainers:       explainers,
		Actions:          actions,
		ComputedAt:       time.Now().UTC(),
	}, nil
}

// percentile ranks the candidate score against the current snapshot of
// every other user in the same sector and region. On an exact tie the
// lower user id ranks lower. A user with no peers sits at the median.
func (p *Pipeline) percentile(ctx context.Context, ev model.Evidence, score float64) (float64, error) {
	peers, err := p.store.SectorScores(ctx, ev.Sector, ev.Region)
	if err != nil {
		return 0, err
	}

	others := 0
	below := 0
	for _, peer := range peers {
		if peer.UserID == ev.OwnerID {
			continue
		}
		others++
		if peer.Score < score || (peer.Score == score && peer.UserID < ev.OwnerID) {
			below++
		}
	}
	if others == 0 {
		return 50, nil
	}
	return model.Round1(float64(below) / float64(others) * 100), nil
}

// commitSnapshot appends the candidate to the user's score history.
// Another writer committing for the same user first surfaces as a version
// conflict; the candidate is then rebuilt from the new prior and retried,
// bounded by the configured write-retry budget.
func (p *Pipeline) commitSnapshot(ctx context.Context, ev model.Evidence, candidate *model.GreenScoreSnapshot, rebuild func(ctx context.Context) (*model.GreenScoreSnapshot, error)) (*model.GreenScoreSnapshot, error) {
	retries := p.cfg.Score.MaxWriteRetries
	if retries <= 0 {
		retries = 3
	}

	snap := candidate
	for attempt := 0; ; attempt++ {
		err := p.store.InsertSnapshot(ctx, *snap)
		if err == nil {
			zap.L().Info("snapshot committed",
				zap.String("user_id", snap.UserID),
				zap.Int("version", snap.Version),
				zap.Float64("greenscore", snap.GreenScore),
				zap.Float64("confidence", snap.Confidence),
			)
			return snap, nil
		}
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			return nil, err
		}

		// A retried apply may conflict with its own earlier commit; one
		// snapshot per evidence, so reuse it instead of re-applying deltas.
		latest, lerr := p.store.LatestSnapshot(ctx, snap.UserID)
		if lerr != nil {
			return nil, lerr
		}
		if latest != nil && latest.EvidenceID == ev.ID {
			return latest, nil
		}

		if attempt >= retries {
			return nil, eris.Wrapf(err, "snapshot write for %s exhausted %d retries", snap.UserID, retries)
		}

		zap.L().Debug("snapshot version conflict, recomputing",
			zap.String("user_id", snap.UserID),
			zap.Int("version", snap.Version),
		)
		snap, err = rebuild(ctx)
		if err != nil {
			return nil, err
		}
	}
}

func monthsAgo(months int) time.Time {
	return time.Now().UTC().AddDate(0, -months, 0)
}
