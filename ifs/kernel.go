package ifs

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Kernel is a monochromatic PSF stamp tabulated on a sub-pixel grid. The
// stamp integrates to unit flux; placement scales it by the lenslet's flux.
//
// The stamp's registration is explicit: CenterX/CenterY give the position of
// the PSF center in stamp-cell coordinates, and Oversample gives the number
// of stamp cells per detector pixel. Interpolation and deposition both work
// from these fields, never from implicit array-index conventions.
type Kernel struct {
	Stamp      *Frame  // oversampled intensity stamp, unit sum
	Lam        float64 // source wavelength, nm
	Oversample int     // stamp cells per detector pixel
	CenterX    float64 // PSF center in stamp-cell coordinates
	CenterY    float64
	// Extrapolated is set when the kernel was clamped to the nearest
	// tabulated wavelength instead of interpolated.
	Extrapolated bool
}

// FootprintPx returns the stamp's extent in detector pixels, rounded up.
func (k Kernel) FootprintPx() int {
	return (k.Stamp.Nx + k.Oversample - 1) / k.Oversample
}

// GaussianKernel builds a pixel-integrated Gaussian PSF stamp. Each stamp
// cell holds the flux integrated over its sub-pixel extent, computed from
// erf differences, so depositing the stamp onto the detector grid conserves
// flux exactly. fwhmPx is the PSF full width at half maximum in detector
// pixels; sizePx the stamp extent in detector pixels.
func GaussianKernel(lam, fwhmPx float64, sizePx, oversample int) Kernel {
	n := sizePx * oversample
	stamp := NewFrame(n, n)
	center := float64(n-1) / 2
	sigma := fwhmPx / 2.35
	half := 0.5 / float64(oversample) // half cell width in detector pixels
	s2 := math.Sqrt2 * sigma

	marginal := make([]float64, n)
	for i := 0; i < n; i++ {
		u := (float64(i) - center) / float64(oversample)
		marginal[i] = math.Erf((u+half)/s2) - math.Erf((u-half)/s2)
	}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			stamp.Pix[y*n+x] = marginal[x] * marginal[y]
		}
	}
	normalize(stamp)
	return Kernel{Stamp: stamp, Lam: lam, Oversample: oversample, CenterX: center, CenterY: center}
}

func normalize(stamp *Frame) {
	if s := stamp.Sum(); s > 0 {
		floats.Scale(1/s, stamp.Pix)
	}
}

// Library tabulates monochromatic kernels by wavelength and interpolates
// between them. Immutable once constructed.
type Library struct {
	kernels []Kernel // sorted by Lam, all same stamp shape and registration

	// AllowExtrapolation clamps out-of-envelope requests to the nearest
	// tabulated kernel (flagged Extrapolated) instead of failing.
	AllowExtrapolation bool
}

// NewLibrary builds a Library from tabulated kernels. All stamps must share
// shape, oversampling, and registration so they can be blended cell-wise.
func NewLibrary(kernels []Kernel) (*Library, error) {
	if len(kernels) == 0 {
		return nil, &ConfigurationError{Field: "kernels", Reason: "library needs at least one kernel"}
	}
	ks := make([]Kernel, len(kernels))
	copy(ks, kernels)
	sort.Slice(ks, func(i, j int) bool { return ks[i].Lam < ks[j].Lam })
	ref := ks[0]
	for _, k := range ks[1:] {
		if !k.Stamp.SameShape(ref.Stamp) || k.Oversample != ref.Oversample ||
			k.CenterX != ref.CenterX || k.CenterY != ref.CenterY {
			return nil, &ConfigurationError{Field: "kernels",
				Reason: "all kernels must share stamp shape, oversampling, and registration"}
		}
	}
	return &Library{kernels: ks}, nil
}

// NewGaussianLibrary tabulates pixel-integrated Gaussian kernels at the
// given wavelengths. fwhmAt maps wavelength to PSF FWHM in detector pixels,
// modeling the wavelength-dependent PSF of the instrument.
func NewGaussianLibrary(lams []float64, fwhmAt func(lam float64) float64, sizePx, oversample int) (*Library, error) {
	ks := make([]Kernel, len(lams))
	for i, lam := range lams {
		ks[i] = GaussianKernel(lam, fwhmAt(lam), sizePx, oversample)
	}
	return NewLibrary(ks)
}

// MinLam returns the shortest tabulated wavelength.
func (l *Library) MinLam() float64 { return l.kernels[0].Lam }

// MaxLam returns the longest tabulated wavelength.
func (l *Library) MaxLam() float64 { return l.kernels[len(l.kernels)-1].Lam }

// MaxFootprintPx returns the largest kernel footprint in detector pixels,
// used to size extraction windows and the least-squares banding.
func (l *Library) MaxFootprintPx() int {
	maxFp := 0
	for _, k := range l.kernels {
		if fp := k.FootprintPx(); fp > maxFp {
			maxFp = fp
		}
	}
	return maxFp
}

// KernelAt interpolates a kernel for the requested wavelength.
//
// Interpolation is a linear blend of the two bracketing tabulated stamps,
// weighted by inverse wavelength distance and renormalized to unit sum.
// Requests outside the tabulated envelope return ErrOutOfRange unless
// AllowExtrapolation is set, in which case the nearest tabulated kernel is
// returned with Extrapolated set.
func (l *Library) KernelAt(lam float64) (Kernel, error) {
	ks := l.kernels
	if lam < l.MinLam() || lam > l.MaxLam() {
		if !l.AllowExtrapolation {
			return Kernel{}, fmt.Errorf("kernel at %.1f nm (tabulated %.1f-%.1f): %w",
				lam, l.MinLam(), l.MaxLam(), ErrOutOfRange)
		}
		k := ks[0]
		if lam > l.MaxLam() {
			k = ks[len(ks)-1]
		}
		clamped := k
		clamped.Stamp = k.Stamp.Clone()
		clamped.Lam = lam
		clamped.Extrapolated = true
		return clamped, nil
	}

	hi := sort.Search(len(ks), func(i int) bool { return ks[i].Lam >= lam })
	if ks[hi].Lam == lam || hi == 0 {
		exact := ks[hi]
		exact.Stamp = ks[hi].Stamp.Clone()
		return exact, nil
	}
	lo := hi - 1

	wLo := (ks[hi].Lam - lam) / (ks[hi].Lam - ks[lo].Lam)
	stamp := NewFrame(ks[lo].Stamp.Nx, ks[lo].Stamp.Ny)
	floats.AddScaled(stamp.Pix, wLo, ks[lo].Stamp.Pix)
	floats.AddScaled(stamp.Pix, 1-wLo, ks[hi].Stamp.Pix)
	normalize(stamp)

	return Kernel{
		Stamp:      stamp,
		Lam:        lam,
		Oversample: ks[lo].Oversample,
		CenterX:    ks[lo].CenterX,
		CenterY:    ks[lo].CenterY,
	}, nil
}
