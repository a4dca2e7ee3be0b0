package model

// Pillar is one of the four scored sustainability dimensions.
type Pillar string

const (
	PillarEnergyEfficiency  Pillar = "energy_efficiency"
	PillarRenewableEnergy   Pillar = "renewable_energy"
	PillarWasteManagement   Pillar = "waste_management"
	PillarWaterConservation Pillar = "water_conservation"
)

// Pillars lists the four pillars in weight order.
var Pillars = []Pillar{
	PillarEnergyEfficiency,
	PillarRenewableEnergy,
	PillarWasteManagement,
	PillarWaterConservation,
}

// ValidPillar reports whether p names a scored pillar.
func ValidPillar(p Pillar) bool {
	for _, k := range Pillars {
		if p == k {
			return true
		}
	}
	return false
}

// FindingKind classifies a normalized extraction observation.
type FindingKind string

const (
	FindingEquipmentDetected FindingKind = "equipment_detected"
	FindingReceiptItem       FindingKind = "receipt_item"
	FindingCertificateClaim  FindingKind = "certificate_claim"
	FindingMeterDelta        FindingKind = "meter_delta"
)

// ExtractionFinding is a confidence-scored observation normalized from the
// extraction engine's raw output. Findings are never mutated; a re-extraction
// writes a new set under a higher version.
type ExtractionFinding struct {
	EvidenceID string            `json:"evidence_id"`
	Version    int               `json:"version"`
	Kind       FindingKind       `json:"kind"`
	Attributes map[string]string `json:"attributes"`
	Quantity   float64           `json:"quantity"`
	Confidence float64           `json:"confidence"`
}

// Attr returns the named attribute, or "" when absent.
func (f ExtractionFinding) Attr(key string) string {
	return f.Attributes[key]
}

// PillarIncrement is a baseline-relative impact delta derived from one
// finding. Increments are recomputable and persisted only for audit.
type PillarIncrement struct {
	EvidenceID string  `json:"evidence_id"`
	Pillar     Pillar  `json:"pillar"`
	Delta      float64 `json:"delta"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded,omitempty"` // baseline fallback was used
}
