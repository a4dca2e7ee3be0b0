package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/blob"
	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// SubmitEvidence validates a submission, commits the payload to blob
// storage, and enqueues the evidence for asynchronous processing. The
// Evidence record is only created after the blob write commits, so a failed
// submission leaves no partial state and may be retried whole.
func (p *Pipeline) SubmitEvidence(ctx context.Context, sub model.Submission) (*model.Evidence, error) {
	if err := p.validateSubmission(sub); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	ref := fmt.Sprintf("evidence/%s/%s", sub.OwnerID, id)

	if err := p.blobs.Put(ctx, ref, sub.Payload); err != nil {
		return nil, err
	}

	ev := &model.Evidence{
		ID:                 id,
		OwnerID:            sub.OwnerID,
		Sector:             sub.Sector,
		Region:             sub.Region,
		Type:               sub.Type,
		Description:        sub.Description,
		BlobRef:            ref,
		BlobSHA256:         blob.SHA256(sub.Payload),
		BaselineUnresolved: !p.baselines.Resolvable(sub.Sector, sub.Region),
		State:              model.EvidenceStateUploaded,
		SubmittedAt:        now,
		UpdatedAt:          now,
	}
	if err := p.store.CreateEvidence(ctx, ev); err != nil {
		return nil, &model.StorageUnavailableError{Op: "create evidence", Err: err}
	}

	// The QUEUED state is the durable job queue; workers claim from it.
	if err := p.transition(ctx, ev, model.EvidenceStateQueued); err != nil {
		return nil, &model.StorageUnavailableError{Op: "enqueue evidence", Err: err}
	}

	zap.L().Info("evidence submitted",
		zap.String("evidence_id", ev.ID),
		zap.String("owner_id", ev.OwnerID),
		zap.String("type", string(ev.Type)),
		zap.Bool("baseline_unresolved", ev.BaselineUnresolved),
	)
	return ev, nil
}

func (p *Pipeline) validateSubmission(sub model.Submission) error {
	if sub.OwnerID == "" {
		return model.NewValidationError("owner_id", "required")
	}
	if sub.Sector == "" {
		return model.NewValidationError("sector", "required")
	}
	if sub.Region == "" {
		return model.NewValidationError("region", "required")
	}
	if !model.ValidEvidenceType(sub.Type) {
		return model.NewValidationError("type", "unrecognized evidence type %q", sub.Type)
	}
	if len(sub.Payload) == 0 {
		return model.NewValidationError("payload", "empty file")
	}
	if max := p.cfg.Intake.MaxUploadBytes; max > 0 && int64(len(sub.Payload)) > max {
		return model.NewValidationError("payload", "file exceeds %d bytes", max)
	}
	return nil
}
