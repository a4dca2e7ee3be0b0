package model

import "time"

// CreditStatus tracks a carbon credit record through issuance. The pipeline
// only ever creates pending records; the external registry flips them to
// issued.
type CreditStatus string

const (
	CreditPending CreditStatus = "pending"
	CreditIssued  CreditStatus = "issued"
)

// CarbonCreditRecord is a quantified emission reduction attributable to one
// finalized snapshot.
type CarbonCreditRecord struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	EvidenceID string       `json:"evidence_id"`
	Tonnes     float64      `json:"tonnes"`
	Standard   string       `json:"standard"`
	Status     CreditStatus `json:"status"`
	ValueUSD   float64      `json:"value_usd"`
	CreatedAt  time.Time    `json:"created_at"`
	IssuedAt   *time.Time   `json:"issued_at,omitempty"`
}

// StandardTotals breaks a portfolio down per credit standard.
type StandardTotals struct {
	Standard      string  `json:"standard"`
	IssuedTonnes  float64 `json:"issued_tonnes"`
	PendingTonnes float64 `json:"pending_tonnes"`
	ValueUSD      float64 `json:"value_usd"`
}

// Portfolio is a read-time aggregation over a user's credit records. It is
// derived on demand and never stored as independent truth.
type Portfolio struct {
	UserID          string           `json:"user_id"`
	IssuedTonnes    float64          `json:"issued_tonnes"`
	PendingTonnes   float64          `json:"pending_tonnes"`
	ProjectedTonnes float64          `json:"projected_tonnes"`
	IssuedValueUSD  float64          `json:"issued_value_usd"`
	PendingValueUSD float64          `json:"pending_value_usd"`
	ByStandard      []StandardTotals `json:"by_standard"`
	Records         int              `json:"records"`
}
