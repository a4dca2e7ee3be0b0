package baseline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testDataset() *Dataset {
	return New([]model.BaselineEntry{
		{
			Sector: "agriculture", Region: "kenya", Pillar: model.PillarRenewableEnergy,
			UnitImpact: 12, CO2KgPerUnit: 40, DataSource: "irena-2024",
			EffectiveFrom: date("2024-01-01"),
		},
		{
			Sector: "agriculture", Region: "kenya", Pillar: model.PillarRenewableEnergy,
			UnitImpact: 14, CO2KgPerUnit: 42, DataSource: "irena-2025",
			EffectiveFrom: date("2025-06-01"),
		},
		{
			Sector: "agriculture", Region: model.Wildcard, Pillar: model.PillarWasteManagement,
			UnitImpact: 5, CO2KgPerUnit: 10, DataSource: "sector-avg",
			EffectiveFrom: date("2024-01-01"),
		},
		{
			Sector: model.Wildcard, Region: "kenya", Pillar: model.PillarWaterConservation,
			UnitImpact: 3, CO2KgPerUnit: 6, DataSource: "region-avg",
			EffectiveFrom: date("2024-01-01"),
		},
		{
			Sector: model.Wildcard, Region: model.Wildcard, Pillar: model.PillarEnergyEfficiency,
			UnitImpact: 2, CO2KgPerUnit: 4, DataSource: "global-avg",
			EffectiveFrom: date("2024-01-01"),
		},
	})
}

func TestFactor_ExactMatch(t *testing.T) {
	d := testDataset()

	lk, err := d.Factor("agriculture", "kenya", model.PillarRenewableEnergy, date("2024-06-01"))
	require.NoError(t, err)
	assert.False(t, lk.Fallback)
	assert.Equal(t, 12.0, lk.Entry.UnitImpact)
	assert.Equal(t, "irena-2024", lk.Entry.DataSource)
}

func TestFactor_EffectiveDating(t *testing.T) {
	d := testDataset()

	// After the 2025 revision takes effect, the newer factor governs.
	lk, err := d.Factor("agriculture", "kenya", model.PillarRenewableEnergy, date("2025-07-01"))
	require.NoError(t, err)
	assert.Equal(t, 14.0, lk.Entry.UnitImpact)

	// Before any entry is effective, nothing matches.
	_, err = d.Factor("agriculture", "kenya", model.PillarRenewableEnergy, date("2023-01-01"))
	assert.ErrorIs(t, err, model.ErrBaselineUnresolved)
}

func TestFactor_FallbackOrder(t *testing.T) {
	d := testDataset()
	asOf := date("2025-01-01")

	tests := []struct {
		name   string
		sector string
		region string
		pillar model.Pillar
		impact float64
	}{
		{"sector wildcard", "agriculture", "brazil", model.PillarWasteManagement, 5},
		{"region wildcard", "manufacturing", "kenya", model.PillarWaterConservation, 3},
		{"global wildcard", "manufacturing", "brazil", model.PillarEnergyEfficiency, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lk, err := d.Factor(tt.sector, tt.region, tt.pillar, asOf)
			require.NoError(t, err)
			assert.True(t, lk.Fallback)
			assert.Equal(t, tt.impact, lk.Entry.UnitImpact)
		})
	}
}

func TestFactor_Unresolved(t *testing.T) {
	d := testDataset()

	_, err := d.Factor("manufacturing", "brazil", model.PillarRenewableEnergy, date("2025-01-01"))
	assert.ErrorIs(t, err, model.ErrBaselineUnresolved)
}

func TestResolvable(t *testing.T) {
	d := testDataset()

	assert.True(t, d.Resolvable("agriculture", "kenya"))
	assert.False(t, d.Resolvable("manufacturing", "brazil"))
}

func TestParse(t *testing.T) {
	raw := []byte(`
entries:
  - sector: agriculture
    region: kenya
    pillar: renewable_energy
    unit_impact_factor: 12
    co2_kg_per_unit: 40
    data_source: irena-2024
    effective_from: 2024-01-01T00:00:00Z
`)
	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())

	lk, err := d.Factor("agriculture", "kenya", model.PillarRenewableEnergy, date("2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 12.0, lk.Entry.UnitImpact)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("entries: {not a list}"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	d, err := LoadFile(filepath.Join("..", "..", "testdata", "baselines.yaml"))
	require.NoError(t, err)
	assert.Greater(t, d.Len(), 0)

	lk, err := d.Factor("agriculture", "kenya", model.PillarRenewableEnergy, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 12.0, lk.Entry.UnitImpact)
}

func TestInstallFile_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baselines.yaml")

	require.NoError(t, installFile(path, []byte("entries: []\n")))
	require.NoError(t, installFile(path, []byte("entries: []\n# v2\n")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "v2")

	// No temp files left behind.
	matches, err := filepath.Glob(filepath.Join(dir, ".baselines-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
