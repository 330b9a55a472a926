package ifs

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

// testInstrument is a small synthetic IFS every test can share: a 4x4
// lenslet array on a 128 px detector with well separated traces, achromatic
// 2 px FWHM kernels, and three spectral samples spaced far enough apart that
// adjacent slices of one trace do not blend.
type testInstrument struct {
	grid *LensletGrid
	lib  *Library
	sol  *PSFLetSolution
	lams []float64
}

const (
	testNPix       = 128
	testFWHM       = 2.0
	testKernelSize = 9
	testOversample = 5
	testMinLam     = 600.0
	testMaxLam     = 720.0
)

func newTestInstrument(t *testing.T) *testInstrument {
	t.Helper()
	grid := &LensletGrid{
		NLens:      4,
		PitchPx:    24,
		OriginX:    16,
		OriginY:    16,
		Dispersion: 0.15, // 18 px of trace over the 120 nm span
		LamRef:     testMinLam,
	}
	lams := []float64{610, 660, 710} // adjacent slice centroids 7.5 px apart
	lib := newTestLibrary(t)
	sol := IdealSolution(grid, testMinLam, testMaxLam)
	return &testInstrument{grid: grid, lib: lib, sol: sol, lams: lams}
}

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	tab := []float64{testMinLam, 640, 680, testMaxLam}
	lib, err := NewGaussianLibrary(tab, func(float64) float64 { return testFWHM }, testKernelSize, testOversample)
	require.NoError(t, err)
	return lib
}

// pointSpectra builds lenslet spectra that are zero everywhere except the
// given lenslet fluxes: fluxes maps lenslet ID -> per-slice flux.
func pointSpectra(grid *LensletGrid, lams []float64, fluxes map[LensletID][]float64) *LensletSpectra {
	sp := &LensletSpectra{
		Lam:  append([]float64(nil), lams...),
		Flux: make([][]float64, grid.NumLenslets()),
	}
	for id := range sp.Flux {
		sp.Flux[id] = make([]float64, len(lams))
		if f, ok := fluxes[LensletID(id)]; ok {
			copy(sp.Flux[id], f)
		}
	}
	return sp
}

// calibrationFrames synthesizes one monochromatic frame per calibration
// wavelength by depositing a kernel at every lenslet's nominal position.
// With sigma > 0, Gaussian noise seeded from the calibration subsystem is
// added and a matching variance frame attached.
func calibrationFrames(t *testing.T, inst *testInstrument, lams []float64, flux, sigma float64, seed int64) []CalibrationFrame {
	t.Helper()
	frames := make([]CalibrationFrame, len(lams))
	var src *rand.Rand
	if sigma > 0 {
		src = NewPartitionedRNG(NewSimulationKey(seed)).ForSubsystem(SubsystemCalibration)
	}
	for i, lam := range lams {
		img := NewFrame(testNPix, testNPix)
		k, err := inst.lib.KernelAt(lam)
		require.NoError(t, err)
		for id := 0; id < inst.grid.NumLenslets(); id++ {
			x, y := inst.grid.Nominal(LensletID(id), lam)
			DepositKernel(img, k, x, y, flux)
		}
		frames[i] = CalibrationFrame{Lam: lam, Image: img}
		if sigma > 0 {
			dist := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
			for p := range img.Pix {
				img.Pix[p] += dist.Rand()
			}
			varFrame := NewFrame(testNPix, testNPix)
			varFrame.Fill(sigma * sigma)
			frames[i].Variance = varFrame
		}
	}
	return frames
}

func defaultLocateConfig() LocateConfig {
	return LocateConfig{
		WindowPx:          5,
		FWHM:              testFWHM,
		TraceOrder:        2,
		ResidualThreshold: 1.0,
		MaxBadFraction:    0.5,
		Workers:           2,
	}
}

func relErr(got, want float64) float64 {
	if want == 0 {
		return math.Abs(got)
	}
	return math.Abs(got-want) / math.Abs(want)
}
