package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightedScore(t *testing.T) {
	subs := Subscores{
		EnergyEfficiency:  50,
		RenewableEnergy:   52,
		WasteManagement:   40,
		WaterConservation: 30,
	}
	// 0.3*50 + 0.3*52 + 0.2*40 + 0.2*30 = 44.6
	assert.InDelta(t, 44.6, WeightedScore(subs), 1e-9)
	assert.InDelta(t, 0.0, WeightedScore(Subscores{}), 1e-9)
	full := Subscores{EnergyEfficiency: 100, RenewableEnergy: 100, WasteManagement: 100, WaterConservation: 100}
	assert.InDelta(t, 100.0, WeightedScore(full), 1e-9)
}

func TestSubscoresSetClamps(t *testing.T) {
	var subs Subscores
	subs.Set(PillarRenewableEnergy, 150)
	subs.Set(PillarWasteManagement, -5)
	assert.Equal(t, 100.0, subs.Get(PillarRenewableEnergy))
	assert.Equal(t, 0.0, subs.Get(PillarWasteManagement))
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 44.6, Round1(44.649))
	assert.Equal(t, 44.7, Round1(44.66))
	assert.Equal(t, 0.0, Round1(0))
}

func TestEvidenceStateTerminal(t *testing.T) {
	assert.True(t, EvidenceStateFinalized.Terminal())
	assert.True(t, EvidenceStateRejected.Terminal())
	assert.False(t, EvidenceStatePendingReview.Terminal())
	assert.False(t, EvidenceStateQueued.Terminal())
}

func TestReviewDecisionDecided(t *testing.T) {
	assert.False(t, ReviewPending.Decided())
	assert.True(t, ReviewApproved.Decided())
	assert.True(t, ReviewAdjusted.Decided())
	assert.True(t, ReviewRejected.Decided())
}
