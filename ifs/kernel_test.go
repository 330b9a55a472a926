package ifs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianKernel_UnitSum(t *testing.T) {
	k := GaussianKernel(660, testFWHM, testKernelSize, testOversample)
	assert.InDelta(t, 1.0, k.Stamp.Sum(), 1e-12)
	assert.Equal(t, testOversample, k.Oversample)
	assert.False(t, k.Extrapolated)
}

func TestGaussianKernel_Symmetric(t *testing.T) {
	k := GaussianKernel(660, testFWHM, testKernelSize, testOversample)
	n := k.Stamp.Nx
	for y := 0; y < n; y++ {
		for x := 0; x < n/2; x++ {
			assert.InDelta(t, k.Stamp.At(x, y), k.Stamp.At(n-1-x, y), 1e-14)
		}
	}
}

func TestLibrary_KernelAtTabulated(t *testing.T) {
	lib := newTestLibrary(t)
	k, err := lib.KernelAt(640)
	require.NoError(t, err)
	assert.Equal(t, 640.0, k.Lam)
	assert.False(t, k.Extrapolated)
	assert.InDelta(t, 1.0, k.Stamp.Sum(), 1e-12)
}

func TestLibrary_KernelAtBlends(t *testing.T) {
	lib := newTestLibrary(t)
	k, err := lib.KernelAt(650)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, k.Stamp.Sum(), 1e-12)

	// halfway between 640 and 660 tabulation, the blend is the average
	k640, err := lib.KernelAt(640)
	require.NoError(t, err)
	k660, err := lib.KernelAt(660)
	require.NoError(t, err)
	for i := range k.Stamp.Pix {
		want := 0.5*k640.Stamp.Pix[i] + 0.5*k660.Stamp.Pix[i]
		assert.InDelta(t, want, k.Stamp.Pix[i], 1e-12)
	}
}

func TestLibrary_OutOfRange(t *testing.T) {
	lib := newTestLibrary(t)
	_, err := lib.KernelAt(900)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestLibrary_ExtrapolationClampsAndFlags(t *testing.T) {
	lib := newTestLibrary(t)
	lib.AllowExtrapolation = true
	k, err := lib.KernelAt(900)
	require.NoError(t, err)
	assert.True(t, k.Extrapolated)
	assert.Equal(t, 900.0, k.Lam)

	edge, err := lib.KernelAt(testMaxLam)
	require.NoError(t, err)
	assert.Equal(t, edge.Stamp.Pix, k.Stamp.Pix)
}

func TestNewLibrary_RejectsMismatchedStamps(t *testing.T) {
	a := GaussianKernel(600, 2, 9, 5)
	b := GaussianKernel(700, 2, 11, 5)
	_, err := NewLibrary([]Kernel{a, b})
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestDepositKernel_ConservesFluxAtFractionalCentroid(t *testing.T) {
	k := GaussianKernel(660, testFWHM, testKernelSize, testOversample)
	canvas := NewFrame(64, 64)
	DepositKernel(canvas, k, 31.37, 30.81, 2.5)
	assert.InDelta(t, 2.5, canvas.Sum(), 2.5*1e-9)
}

func TestDepositKernel_SubPixelRegistration(t *testing.T) {
	k := GaussianKernel(660, testFWHM, testKernelSize, testOversample)
	canvas := NewFrame(64, 64)
	xc, yc := 31.3, 30.7
	DepositKernel(canvas, k, xc, yc, 1.0)

	var sum, sx, sy float64
	for y := 0; y < canvas.Ny; y++ {
		for x := 0; x < canvas.Nx; x++ {
			v := canvas.At(x, y)
			sum += v
			sx += v * float64(x)
			sy += v * float64(y)
		}
	}
	// the deposited image's first moment tracks the requested centroid to a
	// fraction of the sub-pixel cell size
	assert.InDelta(t, xc, sx/sum, 0.05)
	assert.InDelta(t, yc, sy/sum, 0.05)
}

func TestLibrary_MaxFootprintPx(t *testing.T) {
	lib := newTestLibrary(t)
	assert.Equal(t, testKernelSize, lib.MaxFootprintPx())
}
