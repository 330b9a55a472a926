package ifs

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripFrame(t *testing.T, inst *testInstrument, fluxes map[LensletID][]float64) *Frame {
	t.Helper()
	spectra := pointSpectra(inst.grid, inst.lams, fluxes)
	frame, err := Disperse(spectra, inst.sol, inst.lib, DisperseConfig{NPix: testNPix})
	require.NoError(t, err)
	return frame
}

func allLensletFluxes(grid *LensletGrid, nslices int) map[LensletID][]float64 {
	fluxes := make(map[LensletID][]float64)
	for id := 0; id < grid.NumLenslets(); id++ {
		f := make([]float64, nslices)
		for si := range f {
			f[si] = 100 + 3*float64(id) + 10*float64(si)
		}
		fluxes[LensletID(id)] = f
	}
	return fluxes
}

func TestExtract_OptimalRoundTrip(t *testing.T) {
	inst := newTestInstrument(t)
	fluxes := allLensletFluxes(inst.grid, len(inst.lams))
	frame := roundTripFrame(t, inst, fluxes)

	cube, err := Extract(frame, nil, inst.sol, inst.lib, inst.lams, ModeOptimal, ExtractConfig{})
	require.NoError(t, err)
	assert.Empty(t, cube.Failures)

	for id := 0; id < inst.grid.NumLenslets(); id++ {
		sp := cube.Spectra[id]
		for si := range inst.lams {
			require.False(t, sp.NoSolution[si])
			assert.Less(t, relErr(sp.Flux[si], fluxes[LensletID(id)][si]), 1e-4,
				"lenslet %d slice %d", id, si)
			assert.Greater(t, sp.Variance[si], 0.0)
		}
	}
}

func TestExtract_LeastSquaresRoundTripIsExact(t *testing.T) {
	inst := newTestInstrument(t)
	fluxes := allLensletFluxes(inst.grid, len(inst.lams))
	frame := roundTripFrame(t, inst, fluxes)

	cube, err := Extract(frame, nil, inst.sol, inst.lib, inst.lams, ModeLeastSquares,
		ExtractConfig{NeighborRadius: 1})
	require.NoError(t, err)
	assert.Empty(t, cube.Failures)

	for id := 0; id < inst.grid.NumLenslets(); id++ {
		sp := cube.Spectra[id]
		for si := range inst.lams {
			require.False(t, sp.NoSolution[si])
			assert.Less(t, relErr(sp.Flux[si], fluxes[LensletID(id)][si]), 1e-6,
				"lenslet %d slice %d", id, si)
		}
	}
}

func TestExtract_OptimalHonorsThroughput(t *testing.T) {
	inst := newTestInstrument(t)
	inst.sol.Throughput[5] = 0.5
	fluxes := map[LensletID][]float64{5: {100, 100, 100}}
	frame := roundTripFrame(t, inst, fluxes)

	cube, err := Extract(frame, nil, inst.sol, inst.lib, inst.lams, ModeOptimal, ExtractConfig{})
	require.NoError(t, err)
	// half the photons reach the detector; the estimate still reports the
	// lenslet's input flux
	assert.Less(t, relErr(cube.Spectra[5].Flux[0], 100), 1e-4)
}

// crosstalkInstrument packs two lenslet rows three pixels apart so their
// traces genuinely blend, the regime the joint solve exists for.
func crosstalkInstrument(t *testing.T) *testInstrument {
	t.Helper()
	grid := &LensletGrid{
		NLens:      2,
		PitchPx:    3,
		OriginX:    40,
		OriginY:    60,
		Dispersion: 0.15,
		LamRef:     testMinLam,
	}
	return &testInstrument{
		grid: grid,
		lib:  newTestLibrary(t),
		sol:  IdealSolution(grid, testMinLam, testMaxLam),
		lams: []float64{610, 660, 710},
	}
}

func TestExtract_OverlappingTraces(t *testing.T) {
	inst := crosstalkInstrument(t)
	fluxA := []float64{100, 200, 150}
	fluxB := []float64{150, 80, 120}
	fluxes := map[LensletID][]float64{
		inst.grid.ID(0, 0): fluxA,
		inst.grid.ID(1, 0): fluxB,
	}
	frame := roundTripFrame(t, inst, fluxes)

	lsq, err := Extract(frame, nil, inst.sol, inst.lib, inst.lams, ModeLeastSquares,
		ExtractConfig{NeighborRadius: 1})
	require.NoError(t, err)
	assert.Empty(t, lsq.Failures)

	opt, err := Extract(frame, nil, inst.sol, inst.lib, inst.lams, ModeOptimal, ExtractConfig{})
	require.NoError(t, err)

	idA := inst.grid.ID(0, 0)
	idB := inst.grid.ID(1, 0)
	for si := range inst.lams {
		// the joint solve deconvolves the blend
		assert.Less(t, relErr(lsq.Spectra[idA].Flux[si], fluxA[si]), 1e-5, "slice %d", si)
		assert.Less(t, relErr(lsq.Spectra[idB].Flux[si], fluxB[si]), 1e-5, "slice %d", si)

		// the profile sum cannot: its error is the neighbor's bleed-through
		optErr := relErr(opt.Spectra[idA].Flux[si], fluxA[si])
		assert.Greater(t, optErr, 1e-3, "slice %d", si)
		assert.Less(t, optErr, 0.2, "slice %d", si)
		assert.Greater(t, optErr, relErr(lsq.Spectra[idA].Flux[si], fluxA[si]))
	}
}

func TestExtract_UnresolvedLensletYieldsSentinel(t *testing.T) {
	inst := newTestInstrument(t)
	frame := roundTripFrame(t, inst, allLensletFluxes(inst.grid, len(inst.lams)))
	inst.sol.Resolved[5] = false

	for _, mode := range []ExtractMode{ModeOptimal, ModeLeastSquares} {
		cube, err := Extract(frame, nil, inst.sol, inst.lib, inst.lams, mode,
			ExtractConfig{NeighborRadius: 1})
		require.NoError(t, err)
		sp := cube.Spectra[5]
		for si := range inst.lams {
			assert.True(t, sp.NoSolution[si], "%s slice %d", mode, si)
			assert.True(t, math.IsNaN(sp.Flux[si]), "%s slice %d", mode, si)
			assert.True(t, math.IsNaN(sp.Variance[si]), "%s slice %d", mode, si)
		}
		// an unresolved lenslet is an expected condition, not a failure
		assert.Empty(t, cube.Failures)
	}
}

func TestExtract_DegenerateNeighborhoodIsSingular(t *testing.T) {
	inst := newTestInstrument(t)
	frame := roundTripFrame(t, inst, allLensletFluxes(inst.grid, len(inst.lams)))

	// two lenslets sharing one trace make their design columns identical
	inst.sol.XCoef[6] = append([]float64(nil), inst.sol.XCoef[5]...)
	inst.sol.YCoef[6] = append([]float64(nil), inst.sol.YCoef[5]...)

	cube, err := Extract(frame, nil, inst.sol, inst.lib, inst.lams, ModeLeastSquares,
		ExtractConfig{NeighborRadius: 1})
	require.NoError(t, err)
	require.NotEmpty(t, cube.Failures)

	var singular *SingularSystemError
	assert.True(t, errors.As(cube.Failures[0], &singular))
	for si := range inst.lams {
		assert.True(t, cube.Spectra[5].NoSolution[si])
	}
}

func TestExtract_VarianceWeightsMatchUniformForFlatVariance(t *testing.T) {
	inst := newTestInstrument(t)
	fluxes := allLensletFluxes(inst.grid, len(inst.lams))
	frame := roundTripFrame(t, inst, fluxes)
	variance := NewFrame(testNPix, testNPix)
	variance.Fill(4.0)

	cube, err := Extract(frame, variance, inst.sol, inst.lib, inst.lams, ModeOptimal, ExtractConfig{})
	require.NoError(t, err)
	for id := 0; id < inst.grid.NumLenslets(); id++ {
		for si := range inst.lams {
			assert.Less(t, relErr(cube.Spectra[id].Flux[si], fluxes[LensletID(id)][si]), 1e-4)
		}
	}
}

func TestExtract_InputValidation(t *testing.T) {
	inst := newTestInstrument(t)
	frame := NewFrame(testNPix, testNPix)

	_, err := Extract(nil, nil, inst.sol, inst.lib, inst.lams, ModeOptimal, ExtractConfig{})
	assert.Error(t, err)

	_, err = Extract(frame, NewFrame(4, 4), inst.sol, inst.lib, inst.lams, ModeOptimal, ExtractConfig{})
	assert.Error(t, err)

	_, err = Extract(frame, nil, inst.sol, inst.lib, nil, ModeOptimal, ExtractConfig{})
	assert.Error(t, err)

	_, err = Extract(frame, nil, inst.sol, inst.lib, []float64{900}, ModeOptimal, ExtractConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}
