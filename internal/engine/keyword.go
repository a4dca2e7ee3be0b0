package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// Keyword is the offline extraction provider. It matches known equipment
// and practice terms in the payload text, so results are fully
// deterministic. Used for development and as the fallback provider.
type Keyword struct{}

// NewKeyword creates the offline keyword provider.
func NewKeyword() *Keyword {
	return &Keyword{}
}

// item maps matched terms to a canonical label and scoring category.
type item struct {
	label    string
	category model.Pillar
	terms    []string
}

var catalog = []item{
	{"solar_panel", model.PillarRenewableEnergy, []string{"solar panel", "photovoltaic", "solar array", "pv module"}},
	{"inverter", model.PillarRenewableEnergy, []string{"inverter"}},
	{"biogas_digester", model.PillarRenewableEnergy, []string{"biogas"}},
	{"led_light", model.PillarEnergyEfficiency, []string{"led", "light bulb", "energy star"}},
	{"efficient_appliance", model.PillarEnergyEfficiency, []string{"energy efficient", "eco mode"}},
	{"water_pump", model.PillarWaterConservation, []string{"water pump", "irrigation pump"}},
	{"drip_irrigation", model.PillarWaterConservation, []string{"drip", "sprinkler", "rainwater"}},
	{"composter", model.PillarWasteManagement, []string{"compost"}},
	{"recycling", model.PillarWasteManagement, []string{"recycling", "recycled", "waste collection"}},
}

var certTerms = []string{"certificate", "certified", "iso 14001", "green energy", "renewable energy"}

var leadingQty = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*[xX]?\b`)
var number = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Extract scans the payload text for catalog terms. Line-based for receipts
// and invoices so per-line quantities attach to the right item.
func (k *Keyword) Extract(_ context.Context, ev model.Evidence, payload []byte) (*RawResult, error) {
	text := strings.ToLower(ev.Description + "\n" + string(payload))
	res := &RawResult{Engine: "keyword", Scale: 1.0}

	switch ev.Type {
	case model.EvidenceTypeReceipt, model.EvidenceTypeInvoice:
		res.Observations = scanLines(text, model.FindingReceiptItem, 0.9)
	case model.EvidenceTypePhoto:
		res.Observations = scanWhole(text, model.FindingEquipmentDetected, 0.6)
	case model.EvidenceTypeCertificate:
		res.Observations = scanCertificate(text)
	case model.EvidenceTypeMeterReading:
		res.Observations = scanMeter(text)
	}

	return res, nil
}

func scanLines(text string, kind model.FindingKind, conf float64) []Observation {
	var obs []Observation
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, it := range catalog {
			if !matchAny(line, it.terms) {
				continue
			}
			qty := 1.0
			if m := leadingQty.FindStringSubmatch(line); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
					qty = v
				}
			}
			obs = append(obs, Observation{
				Label:      it.label,
				Kind:       kind,
				Attributes: map[string]string{"item": it.label, "category": string(it.category)},
				Quantity:   qty,
				Confidence: conf,
			})
			break
		}
	}
	return obs
}

func scanWhole(text string, kind model.FindingKind, conf float64) []Observation {
	var obs []Observation
	for _, it := range catalog {
		if !matchAny(text, it.terms) {
			continue
		}
		obs = append(obs, Observation{
			Label:      it.label,
			Kind:       kind,
			Attributes: map[string]string{"item": it.label, "category": string(it.category)},
			Quantity:   1,
			Confidence: conf,
		})
	}
	return obs
}

func scanCertificate(text string) []Observation {
	if !matchAny(text, certTerms) {
		return nil
	}
	cat := model.PillarRenewableEnergy
	for _, it := range catalog {
		if matchAny(text, it.terms) {
			cat = it.category
			break
		}
	}
	return []Observation{{
		Label:      "certificate",
		Kind:       model.FindingCertificateClaim,
		Attributes: map[string]string{"category": string(cat)},
		Quantity:   1,
		Confidence: 0.8,
	}}
}

// scanMeter reads the first two numbers as previous and current readings;
// the observation quantity is the consumption delta.
func scanMeter(text string) []Observation {
	nums := number.FindAllString(text, 2)
	if len(nums) < 2 {
		return nil
	}
	prev, err1 := strconv.ParseFloat(nums[0], 64)
	curr, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	delta := prev - curr
	if delta < 0 {
		delta = -delta
	}
	return []Observation{{
		Label:      "meter_delta",
		Kind:       model.FindingMeterDelta,
		Attributes: map[string]string{"category": string(model.PillarEnergyEfficiency)},
		Quantity:   delta,
		Confidence: 0.85,
	}}
}

// matchAny requires word boundaries so that "led" does not match inside
// "recycled" or "installed".
func matchAny(text string, terms []string) bool {
	for _, t := range terms {
		for idx := strings.Index(text, t); idx >= 0; {
			before := idx == 0 || !isWord(text[idx-1])
			afterIdx := idx + len(t)
			after := afterIdx >= len(text) || !isWord(text[afterIdx])
			if before && after {
				return true
			}
			next := strings.Index(text[idx+1:], t)
			if next < 0 {
				break
			}
			idx += 1 + next
		}
	}
	return false
}

func isWord(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
