package ifs

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PSFLetSolution is the calibrated geometric+spectral mapping from
// (lenslet, wavelength) to detector position. It is the shared, read-only
// contract between the forward (dispersion) and inverse (extraction) paths:
// both evaluate the same per-lenslet trace polynomials.
//
// Traces are stored as low-order polynomials in the normalized wavelength
// t = (lam - LamMin) / (LamMax - LamMin), which keeps the Vandermonde fits
// well conditioned across any wavelength range.
type PSFLetSolution struct {
	Grid           *LensletGrid
	LamMin, LamMax float64

	// XCoef and YCoef hold, per lenslet, the trace polynomial coefficients
	// in ascending power of t. Unresolved lenslets have nil coefficients.
	XCoef, YCoef [][]float64

	// Throughput is the per-lenslet flux normalization factor relative to
	// the array median, measured from calibration amplitudes. 1.0 for an
	// ideal solution.
	Throughput []float64

	// Resolved marks lenslets whose calibration converged. Consumers must
	// treat unresolved lenslets as having no solution, never as zero.
	Resolved []bool

	// Failures records every per-(lenslet, wavelength) fit failure observed
	// while building the solution.
	Failures []CalibrationFitFailure
}

// NumResolved returns the count of lenslets with a usable trace solution.
func (s *PSFLetSolution) NumResolved() int {
	n := 0
	for _, ok := range s.Resolved {
		if ok {
			n++
		}
	}
	return n
}

func (s *PSFLetSolution) norm(lam float64) float64 {
	return (lam - s.LamMin) / (s.LamMax - s.LamMin)
}

// Centroid evaluates the trace polynomials for a lenslet at the given
// wavelength. ok is false for unresolved lenslets.
func (s *PSFLetSolution) Centroid(id LensletID, lam float64) (x, y float64, ok bool) {
	if !s.Resolved[id] {
		return 0, 0, false
	}
	t := s.norm(lam)
	return polyval(s.XCoef[id], t), polyval(s.YCoef[id], t), true
}

// Trace returns a lenslet's trace polynomial coefficients in ascending power
// of normalized wavelength, or ErrNoSolution when calibration did not resolve
// the lenslet.
func (s *PSFLetSolution) Trace(id LensletID) (xCoef, yCoef []float64, err error) {
	if !s.Resolved[id] {
		return nil, nil, fmt.Errorf("lenslet %d: %w", id, ErrNoSolution)
	}
	return s.XCoef[id], s.YCoef[id], nil
}

// StrictlyMonotonicX reports whether the fitted x(lam) mapping is strictly
// monotonic across the calibrated wavelength range for the given lenslet.
// Checked by sampling the trace densely; false for unresolved lenslets.
func (s *PSFLetSolution) StrictlyMonotonicX(id LensletID) bool {
	if !s.Resolved[id] {
		return false
	}
	const samples = 64
	prev := polyval(s.XCoef[id], 0)
	increasing := polyval(s.XCoef[id], 1) > prev
	for i := 1; i <= samples; i++ {
		t := float64(i) / samples
		x := polyval(s.XCoef[id], t)
		if increasing && x <= prev || !increasing && x >= prev {
			return false
		}
		prev = x
	}
	return true
}

// polyval evaluates a polynomial with ascending-power coefficients at t.
func polyval(coef []float64, t float64) float64 {
	v := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*t + coef[i]
	}
	return v
}

// polyfit fits a polynomial of the given order through (ts, vals) by linear
// least squares on the Vandermonde matrix. Returns nil when the system is
// underdetermined or rank deficient.
func polyfit(ts, vals []float64, order int) []float64 {
	n := len(ts)
	if n < order+1 {
		return nil
	}
	a := mat.NewDense(n, order+1, nil)
	for i, t := range ts {
		p := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, p)
			p *= t
		}
	}
	b := mat.NewVecDense(n, vals)

	var qr mat.QR
	qr.Factorize(a)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return nil
	}
	coef := make([]float64, order+1)
	copy(coef, sol.RawVector().Data)
	return coef
}

// IdealSolution builds the exact PSFLet solution implied by the nominal grid
// geometry, with unit throughput and every lenslet resolved. It is what a
// perfect calibration would recover, and the reference the forward simulator
// and the locator regression tests are built on.
func IdealSolution(grid *LensletGrid, lamMin, lamMax float64) *PSFLetSolution {
	n := grid.NumLenslets()
	s := &PSFLetSolution{
		Grid:       grid,
		LamMin:     lamMin,
		LamMax:     lamMax,
		XCoef:      make([][]float64, n),
		YCoef:      make([][]float64, n),
		Throughput: make([]float64, n),
		Resolved:   make([]bool, n),
	}
	span := lamMax - lamMin
	for id := 0; id < n; id++ {
		x0, y0 := grid.Nominal(LensletID(id), lamMin)
		// x is linear in wavelength under the nominal model, y constant
		s.XCoef[id] = []float64{x0, grid.Dispersion * span}
		s.YCoef[id] = []float64{y0}
		s.Throughput[id] = 1.0
		s.Resolved[id] = true
	}
	return s
}
