package model

import "time"

// EvidenceState represents the current state of an evidence submission.
type EvidenceState string

const (
	EvidenceStateUploaded         EvidenceState = "uploaded"
	EvidenceStateQueued           EvidenceState = "queued"
	EvidenceStateExtracting       EvidenceState = "extracting"
	EvidenceStateExtractingDone   EvidenceState = "extracting_done"
	EvidenceStateExtractionFailed EvidenceState = "extraction_failed"
	EvidenceStatePendingReview    EvidenceState = "pending_review"
	EvidenceStateFinalized        EvidenceState = "finalized"
	EvidenceStateRejected         EvidenceState = "rejected"
)

// Terminal reports whether no further pipeline transitions are possible.
func (s EvidenceState) Terminal() bool {
	return s == EvidenceStateFinalized || s == EvidenceStateRejected
}

// EvidenceType classifies the kind of proof a user submitted.
type EvidenceType string

const (
	EvidenceTypeReceipt      EvidenceType = "receipt"
	EvidenceTypePhoto        EvidenceType = "photo"
	EvidenceTypeInvoice      EvidenceType = "invoice"
	EvidenceTypeCertificate  EvidenceType = "certificate"
	EvidenceTypeMeterReading EvidenceType = "meter_reading"
)

// KnownEvidenceTypes lists every recognized evidence type.
var KnownEvidenceTypes = []EvidenceType{
	EvidenceTypeReceipt,
	EvidenceTypePhoto,
	EvidenceTypeInvoice,
	EvidenceTypeCertificate,
	EvidenceTypeMeterReading,
}

// ValidEvidenceType reports whether t is a recognized evidence type.
func ValidEvidenceType(t EvidenceType) bool {
	for _, k := range KnownEvidenceTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Evidence is a single proof-of-practice submission. State transitions are
// owned exclusively by the pipeline; once FINALIZED or REJECTED the record
// is immutable apart from the audit trail.
type Evidence struct {
	ID                 string        `json:"id"`
	OwnerID            string        `json:"owner_id"`
	Sector             string        `json:"sector"`
	Region             string        `json:"region"`
	Type               EvidenceType  `json:"type"`
	Description        string        `json:"description,omitempty"`
	BlobRef            string        `json:"blob_ref"`
	BlobSHA256         string        `json:"blob_sha256"`
	BaselineUnresolved bool          `json:"baseline_unresolved,omitempty"`
	State              EvidenceState `json:"state"`
	Attempts           int           `json:"attempts"`
	SubmittedAt        time.Time     `json:"submitted_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Submission carries the caller-supplied fields of a new evidence upload.
type Submission struct {
	OwnerID     string       `json:"owner_id"`
	Sector      string       `json:"sector"`
	Region      string       `json:"region"`
	Type        EvidenceType `json:"type"`
	Description string       `json:"description,omitempty"`
	Payload     []byte       `json:"-"`
}
