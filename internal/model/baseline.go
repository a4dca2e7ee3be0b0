package model

import "time"

// BaselineEntry is one sector/region/pillar conversion factor from the
// external reference dataset. Entries are versioned by effective date so
// historical scoring stays reproducible; the pipeline only reads them.
type BaselineEntry struct {
	Sector        string    `json:"sector" yaml:"sector"`
	Region        string    `json:"region" yaml:"region"`
	Pillar        Pillar    `json:"pillar" yaml:"pillar"`
	UnitImpact    float64   `json:"unit_impact_factor" yaml:"unit_impact_factor"`
	CO2KgPerUnit  float64   `json:"co2_kg_per_unit" yaml:"co2_kg_per_unit"`
	DataSource    string    `json:"data_source,omitempty" yaml:"data_source,omitempty"`
	EffectiveFrom time.Time `json:"effective_from" yaml:"effective_from"`
}

// Wildcard matches any sector or region in a baseline lookup.
const Wildcard = "*"
