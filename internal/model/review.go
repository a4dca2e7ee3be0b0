package model

import "time"

// ReviewReason explains why a candidate snapshot was routed to a human.
type ReviewReason string

const (
	ReviewReasonLowConfidence    ReviewReason = "low_confidence"
	ReviewReasonConflictDetected ReviewReason = "conflict_detected"
	ReviewReasonPolicyFlag       ReviewReason = "policy_flag"
)

// ReviewDecision is the adjudication outcome of a review case.
type ReviewDecision string

const (
	ReviewPending  ReviewDecision = "pending"
	ReviewApproved ReviewDecision = "approved"
	ReviewAdjusted ReviewDecision = "adjusted"
	ReviewRejected ReviewDecision = "rejected"
)

// Decided reports whether d is a terminal decision.
func (d ReviewDecision) Decided() bool {
	return d == ReviewApproved || d == ReviewAdjusted || d == ReviewRejected
}

// ReviewCase is a human adjudication unit. At most one open case exists per
// evidence id at a time.
type ReviewCase struct {
	ID         string         `json:"id"`
	EvidenceID string         `json:"evidence_id"`
	UserID     string         `json:"user_id"`
	Reason     ReviewReason   `json:"reason"`
	Candidate  *GreenScoreSnapshot `json:"candidate,omitempty"`
	Decision   ReviewDecision `json:"decision"`
	ReviewerID string         `json:"reviewer_id,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	OpenedAt   time.Time      `json:"opened_at"`
	DecidedAt  *time.Time     `json:"decided_at,omitempty"`
}

// ReviewFilter narrows a review queue listing.
type ReviewFilter struct {
	Decision ReviewDecision `json:"decision,omitempty"`
	Reason   ReviewReason   `json:"reason,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}
