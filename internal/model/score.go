package model

import (
	"math"
	"time"
)

// Pillar weights for the overall greenscore. Fixed by product definition;
// the sum is 1.0.
const (
	WeightEnergyEfficiency  = 0.3
	WeightRenewableEnergy   = 0.3
	WeightWasteManagement   = 0.2
	WeightWaterConservation = 0.2
)

// Subscores holds the four pillar subscores, each in [0,100].
type Subscores struct {
	EnergyEfficiency  float64 `json:"energy_efficiency"`
	RenewableEnergy   float64 `json:"renewable_energy"`
	WasteManagement   float64 `json:"waste_management"`
	WaterConservation float64 `json:"water_conservation"`
}

// Get returns the subscore for p.
func (s Subscores) Get(p Pillar) float64 {
	switch p {
	case PillarEnergyEfficiency:
		return s.EnergyEfficiency
	case PillarRenewableEnergy:
		return s.RenewableEnergy
	case PillarWasteManagement:
		return s.WasteManagement
	case PillarWaterConservation:
		return s.WaterConservation
	}
	return 0
}

// Set replaces the subscore for p, clamped to [0,100].
func (s *Subscores) Set(p Pillar, v float64) {
	v = Clamp(v, 0, 100)
	switch p {
	case PillarEnergyEfficiency:
		s.EnergyEfficiency = v
	case PillarRenewableEnergy:
		s.RenewableEnergy = v
	case PillarWasteManagement:
		s.WasteManagement = v
	case PillarWaterConservation:
		s.WaterConservation = v
	}
}

// Clamped returns a copy with every pillar clamped to [0,100].
func (s Subscores) Clamped() Subscores {
	return Subscores{
		EnergyEfficiency:  Clamp(s.EnergyEfficiency, 0, 100),
		RenewableEnergy:   Clamp(s.RenewableEnergy, 0, 100),
		WasteManagement:   Clamp(s.WasteManagement, 0, 100),
		WaterConservation: Clamp(s.WaterConservation, 0, 100),
	}
}

// WeightedScore computes the overall greenscore from subscores using the
// fixed pillar weights, rounded to one decimal.
func WeightedScore(s Subscores) float64 {
	raw := WeightEnergyEfficiency*s.EnergyEfficiency +
		WeightRenewableEnergy*s.RenewableEnergy +
		WeightWasteManagement*s.WasteManagement +
		WeightWaterConservation*s.WaterConservation
	return Round1(raw)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// GreenScoreSnapshot is one immutable entry in a user's append-only score
// history. The current score is the highest finalized version.
type GreenScoreSnapshot struct {
	UserID           string    `json:"user_id"`
	Version          int       `json:"version"`
	EvidenceID       string    `json:"evidence_id"`
	GreenScore       float64   `json:"greenscore"`
	Subscores        Subscores `json:"subscores"`
	Confidence       float64   `json:"confidence"`
	SectorPercentile float64   `json:"sector_percentile"`
	Sector           string    `json:"sector"`
	Region           string    `json:"region"`
	Explainers       []string  `json:"explainers"`
	Actions          []string  `json:"actions"`
	ComputedAt       time.Time `json:"computed_at"`
}
