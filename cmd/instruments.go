package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ifs-sim/ifs-sim/ifs"
)

const DEFAULT_INSTRUMENTS_FILEPATH string = "instruments.yaml"

// InstrumentsFile is the on-disk preset catalog.
type InstrumentsFile struct {
	Version     string             `yaml:"version"`
	Instruments []InstrumentPreset `yaml:"instruments"`
}

// InstrumentPreset is one named instrument geometry: detector, lenslet array,
// dispersion, and kernel tabulation parameters.
type InstrumentPreset struct {
	Name         string  `yaml:"name"`
	NPix         int     `yaml:"npix"`
	NLens        int     `yaml:"nlens"`
	PitchPx      float64 `yaml:"pitch_px"`
	OriginX      float64 `yaml:"origin_x"`
	OriginY      float64 `yaml:"origin_y"`
	Dispersion   float64 `yaml:"dispersion_px_per_nm"`
	MinLam       float64 `yaml:"min_lam_nm"`
	MaxLam       float64 `yaml:"max_lam_nm"`
	Resolution   float64 `yaml:"resolution"`
	FWHM         float64 `yaml:"fwhm_px"`
	FWHMSlope    float64 `yaml:"fwhm_slope"`
	KernelSizePx int     `yaml:"kernel_size_px"`
	Oversample   int     `yaml:"oversample"`
	KernelTab    int     `yaml:"kernel_tab_points"`
}

// LoadInstruments reads and strictly decodes a preset catalog: unknown yaml
// fields are errors, so a typo in a preset never silently becomes a default.
func LoadInstruments(path string) (*InstrumentsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("instruments: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f InstrumentsFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("instruments: parse %s: %w", path, err)
	}
	return &f, nil
}

// FindInstrument returns the named preset, or nil.
func (f *InstrumentsFile) FindInstrument(name string) *InstrumentPreset {
	for i := range f.Instruments {
		if f.Instruments[i].Name == name {
			return &f.Instruments[i]
		}
	}
	return nil
}

// BuildInstrument turns a preset into validated simulation inputs: the
// instrument config, the lenslet grid, and a Gaussian kernel library
// tabulated across the band.
func BuildInstrument(p *InstrumentPreset) (ifs.InstrumentConfig, *ifs.LensletGrid, *ifs.Library, error) {
	cfg := ifs.InstrumentConfig{
		NPix:         p.NPix,
		Oversample:   p.Oversample,
		KernelSizePx: p.KernelSizePx,
		FWHM:         p.FWHM,
		FWHMSlope:    p.FWHMSlope,
		LamRef:       p.MinLam,
		MinLam:       p.MinLam,
		MaxLam:       p.MaxLam,
		Resolution:   p.Resolution,
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, err
	}

	grid := &ifs.LensletGrid{
		NLens:      p.NLens,
		PitchPx:    p.PitchPx,
		OriginX:    p.OriginX,
		OriginY:    p.OriginY,
		Dispersion: p.Dispersion,
		LamRef:     p.MinLam,
	}
	if err := grid.Validate(); err != nil {
		return cfg, nil, nil, err
	}

	tabPoints := p.KernelTab
	if tabPoints < 2 {
		tabPoints = 5
	}
	_, tab := ifs.WaveListN(p.MinLam, p.MaxLam, tabPoints-1)
	lib, err := ifs.NewGaussianLibrary(tab, cfg.FWHMAt, p.KernelSizePx, p.Oversample)
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, grid, lib, nil
}
