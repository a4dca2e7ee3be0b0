package pipeline

import (
	"fmt"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// Explainer and action text is table-driven so the same inputs always
// produce the same output, in pillar weight order.

var pillarNames = map[model.Pillar]string{
	model.PillarEnergyEfficiency:  "Energy efficiency",
	model.PillarRenewableEnergy:   "Renewable energy",
	model.PillarWasteManagement:   "Waste management",
	model.PillarWaterConservation: "Water conservation",
}

var pillarPriorityActions = map[model.Pillar]string{
	model.PillarEnergyEfficiency:  "Priority: upgrade to energy-efficient equipment and lighting",
	model.PillarRenewableEnergy:   "Priority: adopt a renewable energy source such as solar",
	model.PillarWasteManagement:   "Priority: set up waste separation and recycling",
	model.PillarWaterConservation: "Priority: install water-saving irrigation or fixtures",
}

// scoreBands maps overall score thresholds to financing actions, highest
// band first.
var scoreBands = []struct {
	min    float64
	action string
}{
	{80, "Eligible for premium green financing rate"},
	{60, "Eligible for standard green financing discount"},
	{40, "Eligible for basic green financing discount"},
	{0, "Submit more verified evidence to unlock financing benefits"},
}

// lowPillarFraction marks a pillar as a priority when its subscore is under
// this fraction of full marks.
const lowPillarFraction = 0.3

// Explain generates the explainer and action strings for a candidate
// snapshot. An explainer is emitted for each pillar whose total delta
// magnitude meets the threshold; actions cover the overall score band and
// the weakest pillar.
func Explain(subs model.Subscores, totals map[model.Pillar]float64, score, threshold float64) (explainers, actions []string) {
	explainers = []string{}
	actions = []string{}

	for _, pillar := range model.Pillars {
		delta := totals[pillar]
		if delta >= threshold {
			explainers = append(explainers,
				fmt.Sprintf("%s improved by %.1f points from verified evidence", pillarNames[pillar], delta))
		} else if delta <= -threshold {
			explainers = append(explainers,
				fmt.Sprintf("%s declined by %.1f points", pillarNames[pillar], -delta))
		}
	}

	for _, band := range scoreBands {
		if score >= band.min {
			actions = append(actions, band.action)
			break
		}
	}

	if pillar, ok := weakestPillar(subs); ok {
		actions = append(actions, pillarPriorityActions[pillar])
	}
	return explainers, actions
}

// weakestPillar returns the lowest subscore pillar when it is under the low
// fraction of full marks. Ties resolve in pillar weight order.
func weakestPillar(subs model.Subscores) (model.Pillar, bool) {
	lowest := model.Pillars[0]
	for _, pillar := range model.Pillars[1:] {
		if subs.Get(pillar) < subs.Get(lowest) {
			lowest = pillar
		}
	}
	if subs.Get(lowest) < lowPillarFraction*100 {
		return lowest, true
	}
	return "", false
}
