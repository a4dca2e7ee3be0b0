// Package pipeline turns submitted evidence into finalized GreenScore
// snapshots and carbon credit records. Stages run strictly in order per
// evidence id: intake, extraction, quantification, aggregation, gate,
// issuance. Everything after intake is asynchronous worker work.
package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/audit"
	"github.com/karibu-capital/greenscore-cli/internal/baseline"
	"github.com/karibu-capital/greenscore-cli/internal/blob"
	"github.com/karibu-capital/greenscore-cli/internal/config"
	"github.com/karibu-capital/greenscore-cli/internal/engine"
	"github.com/karibu-capital/greenscore-cli/internal/model"
	"github.com/karibu-capital/greenscore-cli/internal/store"
)

// Pipeline wires the scoring stages to their collaborators.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	blobs     blob.Store
	baselines *baseline.Dataset
	engine    engine.Engine
	chain     *audit.Chain
}

// New creates a Pipeline.
func New(cfg *config.Config, st store.Store, blobs blob.Store, ds *baseline.Dataset, eng engine.Engine) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		blobs:     blobs,
		baselines: ds,
		engine:    eng,
		chain:     audit.NewChain(cfg.Audit.HMACKey),
	}
}

// Process runs a claimed evidence item through extraction, quantification,
// aggregation, and the review gate. The item must be in EXTRACTING state
// (the queue claim owns the per-id processing lock). Failures that route
// the evidence to review are absorbed here; only infrastructure errors
// propagate to the worker.
func (p *Pipeline) Process(ctx context.Context, ev model.Evidence) error {
	log := zap.L().With(
		zap.String("evidence_id", ev.ID),
		zap.String("owner_id", ev.OwnerID),
	)
	log.Info("processing evidence", zap.String("type", string(ev.Type)))

	findings, ok, err := p.extract(ctx, &ev)
	if err != nil {
		return eris.Wrapf(err, "pipeline: extract %s", ev.ID)
	}
	if !ok {
		return nil
	}

	increments := p.Quantify(findings, ev)
	candidate, err := p.buildCandidate(ctx, ev, increments)
	if err != nil {
		return eris.Wrapf(err, "pipeline: aggregate %s", ev.ID)
	}

	if err := p.gate(ctx, ev, candidate, findings, increments); err != nil {
		return eris.Wrapf(err, "pipeline: gate %s", ev.ID)
	}
	return nil
}

// appendAudit chains a new entry onto the user's audit log.
func (p *Pipeline) appendAudit(ctx context.Context, userID, action string, payload any) error {
	last, err := p.store.LastAudit(ctx, userID)
	if err != nil {
		return eris.Wrap(err, "audit: load last entry")
	}
	e, err := p.chain.Next(last, userID, action, payload)
	if err != nil {
		return err
	}
	return p.store.AppendAudit(ctx, *e)
}

// verifyChain validates the user's full audit chain. A broken link returns
// IntegrityViolationError and the caller must not write for this user.
func (p *Pipeline) verifyChain(ctx context.Context, userID string) error {
	entries, err := p.store.ListAudit(ctx, userID)
	if err != nil {
		return eris.Wrap(err, "audit: list entries")
	}
	return p.chain.Verify(entries)
}

// CurrentScore returns the user's current snapshot, nil when the user has
// no finalized score yet.
func (p *Pipeline) CurrentScore(ctx context.Context, userID string) (*model.GreenScoreSnapshot, error) {
	return p.store.LatestSnapshot(ctx, userID)
}

// ScoreHistory returns the user's snapshots from the last months, newest
// first. months <= 0 means the full history.
func (p *Pipeline) ScoreHistory(ctx context.Context, userID string, months int) ([]model.GreenScoreSnapshot, error) {
	snaps, err := p.store.ListSnapshots(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	if months <= 0 {
		return snaps, nil
	}
	cutoff := monthsAgo(months)
	out := snaps[:0]
	for _, s := range snaps {
		if !s.ComputedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ReviewQueue is the review listing plus pending counts per reason.
type ReviewQueue struct {
	Cases  []model.ReviewCase         `json:"cases"`
	Counts map[model.ReviewReason]int `json:"counts"`
}

// ListReviewQueue returns cases matching the filter and a per-reason count
// of all pending cases.
func (p *Pipeline) ListReviewQueue(ctx context.Context, filter model.ReviewFilter) (*ReviewQueue, error) {
	cases, err := p.store.ListReviewCases(ctx, filter)
	if err != nil {
		return nil, err
	}
	pending, err := p.store.ListReviewCases(ctx, model.ReviewFilter{Decision: model.ReviewPending})
	if err != nil {
		return nil, err
	}
	counts := make(map[model.ReviewReason]int)
	for _, rc := range pending {
		counts[rc.Reason]++
	}
	return &ReviewQueue{Cases: cases, Counts: counts}, nil
}

// transition moves the evidence between states. A lost race surfaces as
// ErrConcurrencyConflict from the store.
func (p *Pipeline) transition(ctx context.Context, ev *model.Evidence, to model.EvidenceState) error {
	if err := p.store.TransitionEvidence(ctx, ev.ID, ev.State, to); err != nil {
		if errors.Is(err, model.ErrConcurrencyConflict) {
			zap.L().Warn("evidence state race",
				zap.String("evidence_id", ev.ID),
				zap.String("from", string(ev.State)),
				zap.String("to", string(to)),
			)
		}
		return err
	}
	ev.State = to
	return nil
}
