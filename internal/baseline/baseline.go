// Package baseline loads and queries the sector/region impact-factor
// reference dataset. The pipeline reads factors; it never writes them.
package baseline

import (
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// Dataset is an in-memory index over baseline entries, keyed by
// (sector, region, pillar) with entries sorted by effective date.
type Dataset struct {
	entries map[key][]model.BaselineEntry
}

type key struct {
	sector string
	region string
	pillar model.Pillar
}

// Lookup is the result of a factor query, including whether a wildcard
// fallback was taken.
type Lookup struct {
	Entry    model.BaselineEntry
	Fallback bool
}

type datasetFile struct {
	Entries []model.BaselineEntry `yaml:"entries"`
}

// LoadFile reads a YAML dataset file.
func LoadFile(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "baseline: read %s", path)
	}
	return Parse(raw)
}

// Parse builds a Dataset from YAML bytes.
func Parse(raw []byte) (*Dataset, error) {
	var f datasetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrap(err, "baseline: unmarshal dataset")
	}
	return New(f.Entries), nil
}

// New indexes the given entries.
func New(entries []model.BaselineEntry) *Dataset {
	d := &Dataset{entries: make(map[key][]model.BaselineEntry)}
	for _, e := range entries {
		k := key{sector: e.Sector, region: e.Region, pillar: e.Pillar}
		d.entries[k] = append(d.entries[k], e)
	}
	for k := range d.entries {
		es := d.entries[k]
		sort.Slice(es, func(i, j int) bool {
			return es[i].EffectiveFrom.Before(es[j].EffectiveFrom)
		})
	}
	return d
}

// Resolvable reports whether any pillar has a factor for the exact
// sector/region pair. Intake uses this for the baseline-unresolved flag.
func (d *Dataset) Resolvable(sector, region string) bool {
	for _, p := range model.Pillars {
		if _, ok := d.latest(sector, region, p, time.Now().UTC()); ok {
			return true
		}
	}
	return false
}

// Factor returns the factor governing (sector, region, pillar) as of asOf:
// the most recent entry whose effective date is not after asOf. When no
// exact entry exists it degrades through sector-wide, region-wide, and
// global wildcards in that order; callers halve confidence on any fallback.
// Returns ErrBaselineUnresolved when nothing matches.
func (d *Dataset) Factor(sector, region string, pillar model.Pillar, asOf time.Time) (Lookup, error) {
	if e, ok := d.latest(sector, region, pillar, asOf); ok {
		return Lookup{Entry: e}, nil
	}
	for _, fb := range [][2]string{
		{sector, model.Wildcard},
		{model.Wildcard, region},
		{model.Wildcard, model.Wildcard},
	} {
		if e, ok := d.latest(fb[0], fb[1], pillar, asOf); ok {
			return Lookup{Entry: e, Fallback: true}, nil
		}
	}
	return Lookup{}, model.ErrBaselineUnresolved
}

func (d *Dataset) latest(sector, region string, pillar model.Pillar, asOf time.Time) (model.BaselineEntry, bool) {
	es := d.entries[key{sector: sector, region: region, pillar: pillar}]
	for i := len(es) - 1; i >= 0; i-- {
		if !es[i].EffectiveFrom.After(asOf) {
			return es[i], true
		}
	}
	return model.BaselineEntry{}, false
}

// Len returns the number of indexed entries.
func (d *Dataset) Len() int {
	n := 0
	for _, es := range d.entries {
		n += len(es)
	}
	return n
}
