package ifs

import "math"

// WaveList computes the wavelength sampling implied by a spectral resolution
// target R = lambda/dlambda over [minLam, maxLam]. Bins are log-spaced so
// that every bin has the same resolving power. It returns the bin midpoints
// (the wavelengths a spectral cube is sampled at) and the n+1 bin endpoints.
func WaveList(minLam, maxLam, resolution float64) (midpts, endpts []float64) {
	n := int(math.Ceil(resolution * math.Log(maxLam/minLam)))
	if n < 1 {
		n = 1
	}
	return WaveListN(minLam, maxLam, n)
}

// WaveListN is WaveList with an explicit bin count, used when the caller
// wants a fixed number of spectral samples regardless of resolution.
func WaveListN(minLam, maxLam float64, n int) (midpts, endpts []float64) {
	endpts = make([]float64, n+1)
	step := math.Log(maxLam/minLam) / float64(n)
	for i := 0; i <= n; i++ {
		endpts[i] = minLam * math.Exp(float64(i)*step)
	}
	midpts = make([]float64, n)
	for i := 0; i < n; i++ {
		// geometric mean keeps midpoints log-centered in their bin
		midpts[i] = math.Sqrt(endpts[i] * endpts[i+1])
	}
	return midpts, endpts
}
