package ifs

// LensletID indexes one element of the microlens array, row-major over the
// nominal lenslet grid.
type LensletID int

// LensletGrid holds the nominal geometry of the lenslet array projected onto
// the detector: where each lenslet's trace starts and how fast it moves with
// wavelength. It is the prior the PSFLet locator refines and the geometry
// the ideal (noise-free) solution is built from.
//
// The trace model is x(lam) = baseX + Dispersion*(lam - LamRef), y = baseY:
// dispersion runs along the detector x axis and adjacent lenslet rows are
// separated by PitchPx in y, so traces of distinct lenslets never cross.
type LensletGrid struct {
	NLens      int     // lenslets per side (NLens x NLens array)
	PitchPx    float64 // detector pixels between adjacent lenslet traces
	OriginX    float64 // detector x of lenslet (0,0) at LamRef
	OriginY    float64 // detector y of lenslet (0,0)
	Dispersion float64 // trace motion along x, px per nm (must be nonzero)
	LamRef     float64 // wavelength at the nominal trace origin, nm
}

// NumLenslets returns the total lenslet count.
func (g *LensletGrid) NumLenslets() int {
	return g.NLens * g.NLens
}

// ID maps (row, col) to a LensletID.
func (g *LensletGrid) ID(row, col int) LensletID {
	return LensletID(row*g.NLens + col)
}

// RowCol maps a LensletID back to (row, col).
func (g *LensletGrid) RowCol(id LensletID) (row, col int) {
	return int(id) / g.NLens, int(id) % g.NLens
}

// Nominal returns the nominal detector position of a lenslet's PSFLet at
// the given wavelength.
func (g *LensletGrid) Nominal(id LensletID, lam float64) (x, y float64) {
	row, col := g.RowCol(id)
	x = g.OriginX + float64(col)*g.PitchPx + g.Dispersion*(lam-g.LamRef)
	y = g.OriginY + float64(row)*g.PitchPx
	return x, y
}

// Neighbors returns the IDs of lenslets within radius grid steps of id
// (Chebyshev distance), excluding id itself. Used to bound the least-squares
// design matrix to the traces that can actually overlap a lenslet's own.
func (g *LensletGrid) Neighbors(id LensletID, radius int) []LensletID {
	row, col := g.RowCol(id)
	out := make([]LensletID, 0, (2*radius+1)*(2*radius+1)-1)
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			r, c := row+dr, col+dc
			if r < 0 || r >= g.NLens || c < 0 || c >= g.NLens {
				continue
			}
			out = append(out, g.ID(r, c))
		}
	}
	return out
}

// Validate checks the grid for internally consistent geometry.
func (g *LensletGrid) Validate() error {
	if g.NLens <= 0 {
		return &ConfigurationError{Field: "NLens", Reason: "must be positive"}
	}
	if g.PitchPx <= 0 {
		return &ConfigurationError{Field: "PitchPx", Reason: "must be positive"}
	}
	if g.Dispersion == 0 {
		return &ConfigurationError{Field: "Dispersion", Reason: "must be nonzero"}
	}
	return nil
}
