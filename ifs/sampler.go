package ifs

import (
	"fmt"
	"math"
	"sort"
)

// SceneCube is an ordered sequence of 2-D flux slices indexed by wavelength,
// spatially registered to a common field-of-view grid. Produced externally,
// consumed read-only.
type SceneCube struct {
	Lam    []float64 // slice wavelengths, nm, ascending
	Slices []*Frame
}

// Validate rejects malformed cubes before any simulation work: shape
// mismatches are whole-frame failures, not per-lenslet ones.
func (c *SceneCube) Validate() error {
	if len(c.Lam) == 0 || len(c.Lam) != len(c.Slices) {
		return fmt.Errorf("scene cube: %d wavelengths for %d slices", len(c.Lam), len(c.Slices))
	}
	ref := c.Slices[0]
	for i, s := range c.Slices {
		if s == nil || !s.SameShape(ref) {
			return fmt.Errorf("scene cube: slice %d shape differs from slice 0", i)
		}
	}
	for i := 1; i < len(c.Lam); i++ {
		if c.Lam[i] <= c.Lam[i-1] {
			return fmt.Errorf("scene cube: wavelengths not ascending at slice %d", i)
		}
	}
	return nil
}

// UniformSceneCube builds an npix x npix cube with every sample set to
// pixval at each of the given wavelengths. The polychromatic flatfield input
// used by calibration and self tests.
func UniformSceneCube(lams []float64, npix int, pixval float64) *SceneCube {
	slices := make([]*Frame, len(lams))
	for i := range lams {
		s := NewFrame(npix, npix)
		s.Fill(pixval)
		slices[i] = s
	}
	lamCopy := make([]float64, len(lams))
	copy(lamCopy, lams)
	return &SceneCube{Lam: lamCopy, Slices: slices}
}

// SampleMode selects how scene flux is integrated over a lenslet footprint.
type SampleMode int

const (
	// SampleAreaWeighted integrates scene samples weighted by their
	// fractional overlap with the lenslet footprint.
	SampleAreaWeighted SampleMode = iota

	// SampleNearest takes the single scene sample nearest the lenslet
	// center.
	SampleNearest
)

// LensletSpectra holds one input spectrum per lenslet: the flux each lenslet
// feeds into the spectrograph at each scene wavelength. Transient,
// regenerated per simulation run.
type LensletSpectra struct {
	Lam  []float64   // scene wavelengths, nm
	Flux [][]float64 // [lenslet][slice]
}

// Sample resamples a scene cube onto the lenslet grid. The scene field of
// view maps linearly onto the full lenslet array; each lenslet integrates
// the scene flux over its angular footprint per wavelength slice. Lenslets
// whose footprint falls outside the scene receive zero flux.
func Sample(cube *SceneCube, grid *LensletGrid, mode SampleMode) (*LensletSpectra, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	n := grid.NumLenslets()
	out := &LensletSpectra{
		Lam:  make([]float64, len(cube.Lam)),
		Flux: make([][]float64, n),
	}
	copy(out.Lam, cube.Lam)
	for id := range out.Flux {
		out.Flux[id] = make([]float64, len(cube.Lam))
	}

	// scene samples per lenslet along each axis
	sx := float64(cube.Slices[0].Nx) / float64(grid.NLens)
	sy := float64(cube.Slices[0].Ny) / float64(grid.NLens)

	for id := 0; id < n; id++ {
		row, col := grid.RowCol(LensletID(id))
		x0, x1 := float64(col)*sx, float64(col+1)*sx
		y0, y1 := float64(row)*sy, float64(row+1)*sy
		for si, slice := range cube.Slices {
			switch mode {
			case SampleNearest:
				x := int(math.Floor((x0 + x1) / 2))
				y := int(math.Floor((y0 + y1) / 2))
				out.Flux[id][si] = slice.At(x, y) * sx * sy
			default:
				out.Flux[id][si] = integrateFootprint(slice, x0, x1, y0, y1)
			}
		}
	}
	return out, nil
}

// LensletFlat reduces a flatfield exposure's lenslet spectra to a per-lenslet
// relative response, normalized to the array median. Lenslets whose response
// falls below threshold are flagged bad; they vignette or sit off the field.
func LensletFlat(spectra *LensletSpectra, threshold float64) (flat []float64, good []bool) {
	n := len(spectra.Flux)
	flat = make([]float64, n)
	for id, fl := range spectra.Flux {
		sum := 0.0
		for _, f := range fl {
			sum += f
		}
		flat[id] = sum / float64(len(fl))
	}

	sorted := make([]float64, n)
	copy(sorted, flat)
	sort.Float64s(sorted)
	med := sorted[n/2]

	good = make([]bool, n)
	for id := range flat {
		if med > 0 {
			flat[id] /= med
		}
		good[id] = flat[id] >= threshold
	}
	return flat, good
}

// integrateFootprint sums scene samples over [x0,x1) x [y0,y1) with
// fractional-overlap weights at the footprint edges.
func integrateFootprint(slice *Frame, x0, x1, y0, y1 float64) float64 {
	total := 0.0
	for y := int(math.Floor(y0)); y < int(math.Ceil(y1)); y++ {
		wy := overlap(float64(y), float64(y+1), y0, y1)
		if wy == 0 {
			continue
		}
		for x := int(math.Floor(x0)); x < int(math.Ceil(x1)); x++ {
			wx := overlap(float64(x), float64(x+1), x0, x1)
			if wx == 0 {
				continue
			}
			total += slice.At(x, y) * wx * wy
		}
	}
	return total
}

// overlap returns the length of [a0,a1) ∩ [b0,b1).
func overlap(a0, a1, b0, b1 float64) float64 {
	lo, hi := math.Max(a0, b0), math.Min(a1, b1)
	if hi <= lo {
		return 0
	}
	return hi - lo
}
