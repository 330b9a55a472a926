package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifs-sim/ifs-sim/ifs"
)

func TestLoadInstruments_ShippedCatalog(t *testing.T) {
	file, err := LoadInstruments(DEFAULT_INSTRUMENTS_FILEPATH)
	require.NoError(t, err)
	require.NotEmpty(t, file.Instruments)

	wfirst := file.FindInstrument("wfirst")
	require.NotNil(t, wfirst)
	assert.Equal(t, 108, wfirst.NLens)
	assert.Equal(t, 50.0, wfirst.Resolution)

	pisces := file.FindInstrument("pisces")
	require.NotNil(t, pisces)
	assert.Equal(t, 70.0, pisces.Resolution)

	assert.Nil(t, file.FindInstrument("hubble"))
}

func TestLoadInstruments_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	body := "version: \"1.0\"\ninstruments:\n  - name: x\n    npix: 64\n    warp_drive: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := LoadInstruments(path)
	assert.Error(t, err)
}

func TestLoadInstruments_MissingFile(t *testing.T) {
	_, err := LoadInstruments("no-such-catalog.yaml")
	assert.Error(t, err)
}

func TestBuildInstrument_ShippedPresetsAreValid(t *testing.T) {
	file, err := LoadInstruments(DEFAULT_INSTRUMENTS_FILEPATH)
	require.NoError(t, err)

	for _, preset := range file.Instruments {
		cfg, grid, lib, err := BuildInstrument(&preset)
		require.NoError(t, err, preset.Name)
		require.NotNil(t, grid, preset.Name)
		require.NotNil(t, lib, preset.Name)

		// every band wavelength must have a kernel
		for _, lam := range []float64{cfg.MinLam, (cfg.MinLam + cfg.MaxLam) / 2, cfg.MaxLam} {
			_, err := lib.KernelAt(lam)
			assert.NoError(t, err, "%s at %.0f nm", preset.Name, lam)
		}

		// traces must stay on the detector
		last := preset.NLens*preset.NLens - 1
		x, y := grid.Nominal(ifs.LensletID(last), cfg.MaxLam)
		assert.Less(t, x+float64(cfg.KernelSizePx), float64(cfg.NPix), preset.Name)
		assert.Less(t, y+float64(cfg.KernelSizePx), float64(cfg.NPix), preset.Name)
	}
}

func TestBuildInstrument_RejectsBadPreset(t *testing.T) {
	bad := InstrumentPreset{Name: "broken", NPix: 0}
	_, _, _, err := BuildInstrument(&bad)
	assert.Error(t, err)
}
