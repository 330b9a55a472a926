package ifs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample_UniformScenePartitionsFlux(t *testing.T) {
	inst := newTestInstrument(t)
	cube := UniformSceneCube(inst.lams, 64, 1.0)

	spectra, err := Sample(cube, inst.grid, SampleAreaWeighted)
	require.NoError(t, err)
	require.Len(t, spectra.Flux, inst.grid.NumLenslets())

	// 64x64 samples over a 4x4 lenslet array: 256 samples per lenslet
	for id, flux := range spectra.Flux {
		for si, f := range flux {
			assert.InDelta(t, 256.0, f, 1e-9, "lenslet %d slice %d", id, si)
		}
	}
}

func TestSample_TotalFluxConserved(t *testing.T) {
	inst := newTestInstrument(t)
	cube := UniformSceneCube(inst.lams, 50, 1.0)
	// scene samples don't divide evenly into lenslets; fractional-overlap
	// weighting still accounts for every sample exactly once
	cube.Slices[0].Set(13, 29, 42)

	spectra, err := Sample(cube, inst.grid, SampleAreaWeighted)
	require.NoError(t, err)

	total := 0.0
	for _, flux := range spectra.Flux {
		total += flux[0]
	}
	assert.InDelta(t, cube.Slices[0].Sum(), total, 1e-9)
}

func TestSample_NearestPicksCenterSample(t *testing.T) {
	inst := newTestInstrument(t)
	cube := UniformSceneCube(inst.lams[:1], 64, 0)
	// center of lenslet (0,0)'s 16x16 footprint
	cube.Slices[0].Set(8, 8, 3)

	spectra, err := Sample(cube, inst.grid, SampleNearest)
	require.NoError(t, err)
	assert.InDelta(t, 3*16*16, spectra.Flux[0][0], 1e-9)
	assert.Equal(t, 0.0, spectra.Flux[1][0])
}

func TestLensletFlat_FlagsVignettedLenslets(t *testing.T) {
	inst := newTestInstrument(t)
	cube := UniformSceneCube(inst.lams, 64, 1.0)
	spectra, err := Sample(cube, inst.grid, SampleAreaWeighted)
	require.NoError(t, err)

	// dim one lenslet to a tenth of nominal
	for si := range spectra.Flux[5] {
		spectra.Flux[5][si] *= 0.1
	}

	flat, good := LensletFlat(spectra, 0.5)
	assert.InDelta(t, 1.0, flat[0], 1e-9)
	assert.InDelta(t, 0.1, flat[5], 1e-9)
	assert.True(t, good[0])
	assert.False(t, good[5])
}

func TestSceneCube_ValidateRejectsMalformed(t *testing.T) {
	cube := UniformSceneCube([]float64{600, 650}, 8, 1)
	require.NoError(t, cube.Validate())

	cube.Slices[1] = NewFrame(4, 4)
	assert.Error(t, cube.Validate())

	cube = UniformSceneCube([]float64{650, 600}, 8, 1)
	assert.Error(t, cube.Validate())

	cube = &SceneCube{Lam: []float64{600}, Slices: nil}
	assert.Error(t, cube.Validate())
}
