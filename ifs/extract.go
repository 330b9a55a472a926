package ifs

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// ExtractedSpectrum is the recovered spectrum of one lenslet: flux and
// variance per requested wavelength, with a sentinel flag marking entries
// that come from a known failure mode rather than a genuine estimate.
// Never mutated after creation.
type ExtractedSpectrum struct {
	Lam        []float64
	Flux       []float64
	Variance   []float64
	NoSolution []bool
}

// SpectralCube is the extraction engine's output: one spectrum per lenslet
// plus the per-lenslet failures recorded along the way.
type SpectralCube struct {
	Spectra  []ExtractedSpectrum
	Failures []error
}

// svdRankTol marks singular values below tol*s_max as rank deficiency.
const svdRankTol = 1e-10

// minNeighborOverlap is the minimum profile energy a neighbor must place on
// the center lenslet's pixels to earn a column in the joint solve. Neighbors
// below it are effectively disjoint and would only pad the system with
// near-zero columns.
const minNeighborOverlap = 1e-6

// Extract inverts a detector frame against the PSFLet solution, recovering
// per-lenslet spectra at the requested wavelengths.
//
// frame must be in the linear deposition units of the forward model
// (photo-electrons): exposed frames go through DetectorConfig.ToElectrons
// first to undo the gain and bias conversion.
//
// variance supplies the per-pixel variance of the frame in the same units
// squared (from VarianceMap for synthetic data, or measured externally for
// real data); nil weights all pixels uniformly, which is only appropriate
// for noiseless frames.
//
// Unresolved lenslets yield NaN flux with the NoSolution flag set, never a
// silently wrong numeric value. A rank-deficient least-squares neighborhood
// is recorded as a SingularSystemError and flagged the same way.
func Extract(frame, variance *Frame, sol *PSFLetSolution, lib *Library, lams []float64, mode ExtractMode, cfg ExtractConfig) (*SpectralCube, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, fmt.Errorf("extract: nil detector frame")
	}
	if variance != nil && !variance.SameShape(frame) {
		return nil, fmt.Errorf("extract: variance shape %dx%d does not match frame %dx%d",
			variance.Nx, variance.Ny, frame.Nx, frame.Ny)
	}
	if len(lams) == 0 {
		return nil, fmt.Errorf("extract: no wavelengths requested")
	}
	if variance == nil {
		logrus.Debug("extract: no variance supplied, weighting pixels uniformly")
	}

	kernels := make([]Kernel, len(lams))
	for i, lam := range lams {
		k, err := lib.KernelAt(lam)
		if err != nil {
			return nil, fmt.Errorf("extract: wavelength %d: %w", i, err)
		}
		kernels[i] = k
	}

	n := sol.Grid.NumLenslets()
	cube := &SpectralCube{Spectra: make([]ExtractedSpectrum, n)}
	perLensletErr := make([]error, n)

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * n / workers
		hi := (w + 1) * n / workers
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for id := lo; id < hi; id++ {
				sp, err := extractLenslet(frame, variance, sol, kernels, lams, mode, cfg, LensletID(id))
				cube.Spectra[id] = sp
				perLensletErr[id] = err
			}
		}(lo, hi)
	}
	wg.Wait()

	for _, err := range perLensletErr {
		if err != nil {
			cube.Failures = append(cube.Failures, err)
		}
	}
	if len(cube.Failures) > 0 {
		logrus.Warnf("extract: %d lenslet neighborhoods failed", len(cube.Failures))
	}
	return cube, nil
}

func extractLenslet(frame, variance *Frame, sol *PSFLetSolution, kernels []Kernel, lams []float64, mode ExtractMode, cfg ExtractConfig, id LensletID) (ExtractedSpectrum, error) {
	sp := newSentinelSpectrum(lams)
	if !sol.Resolved[id] {
		return sp, nil
	}
	switch mode {
	case ModeLeastSquares:
		if err := extractLeastSquares(frame, variance, sol, kernels, lams, cfg, id, &sp); err != nil {
			return newSentinelSpectrum(lams), err
		}
	default:
		extractOptimal(frame, variance, sol, kernels, lams, id, &sp)
	}
	return sp, nil
}

// newSentinelSpectrum returns a spectrum with every entry flagged as having
// no solution.
func newSentinelSpectrum(lams []float64) ExtractedSpectrum {
	sp := ExtractedSpectrum{
		Lam:        make([]float64, len(lams)),
		Flux:       make([]float64, len(lams)),
		Variance:   make([]float64, len(lams)),
		NoSolution: make([]bool, len(lams)),
	}
	copy(sp.Lam, lams)
	for i := range sp.Flux {
		sp.Flux[i] = math.NaN()
		sp.Variance[i] = math.NaN()
		sp.NoSolution[i] = true
	}
	return sp
}

// extractOptimal recovers each wavelength sample with a variance-weighted
// profile sum over the lenslet's own footprint: the Horne estimator
// f = sum(w p D) / sum(w p^2) with w = 1/sigma^2, whose variance is
// 1 / sum(p^2/sigma^2). Exact for isolated traces; biased where neighboring
// traces overlap the footprint.
func extractOptimal(frame, variance *Frame, sol *PSFLetSolution, kernels []Kernel, lams []float64, id LensletID, sp *ExtractedSpectrum) {
	for si, lam := range lams {
		xc, yc, ok := sol.Centroid(id, lam)
		if !ok {
			continue
		}
		prof, px0, py0 := profileWindow(kernels[si], xc, yc)

		var num, den float64
		for wy := 0; wy < prof.Ny; wy++ {
			for wx := 0; wx < prof.Nx; wx++ {
				p := prof.Pix[wy*prof.Nx+wx]
				if p == 0 {
					continue
				}
				w := 1.0
				if variance != nil {
					if v := variance.At(px0+wx, py0+wy); v > 0 {
						w = 1 / v
					} else {
						continue
					}
				}
				num += w * p * frame.At(px0+wx, py0+wy)
				den += w * p * p
			}
		}
		if den <= 0 {
			continue
		}
		t := sol.Throughput[id]
		sp.Flux[si] = num / den / t
		sp.Variance[si] = 1 / den / (t * t)
		sp.NoSolution[si] = false
	}
}

// extractLeastSquares jointly solves for the fluxes of a lenslet and its
// resolved neighbors over the pixels under the lenslet's trace, correctly
// apportioning counts where traces overlap. The local system is solved by
// SVD; near-zero singular values surface as a SingularSystemError.
func extractLeastSquares(frame, variance *Frame, sol *PSFLetSolution, kernels []Kernel, lams []float64, cfg ExtractConfig, id LensletID, sp *ExtractedSpectrum) error {
	// unknown columns: this lenslet first, then resolved neighbors
	members := []LensletID{id}
	for _, nb := range sol.Grid.Neighbors(id, cfg.NeighborRadius) {
		if sol.Resolved[nb] {
			members = append(members, nb)
		}
	}

	// pixel rows: union of this lenslet's footprint windows, in
	// deterministic first-seen order
	pixRow := make(map[int]int)
	var pixels []int
	for si, lam := range lams {
		xc, yc, _ := sol.Centroid(id, lam)
		prof, px0, py0 := profileWindow(kernels[si], xc, yc)
		for wy := 0; wy < prof.Ny; wy++ {
			for wx := 0; wx < prof.Nx; wx++ {
				if prof.Pix[wy*prof.Nx+wx] == 0 {
					continue
				}
				x, y := px0+wx, py0+wy
				if x < 0 || x >= frame.Nx || y < 0 || y >= frame.Ny {
					continue
				}
				key := y*frame.Nx + x
				if _, seen := pixRow[key]; !seen {
					pixRow[key] = len(pixels)
					pixels = append(pixels, key)
				}
			}
		}
	}

	// keep only neighbors whose traces actually land on those pixels
	kept := members[:1]
	for _, member := range members[1:] {
		if neighborOverlap(frame, sol, kernels, lams, pixRow, member) >= minNeighborOverlap {
			kept = append(kept, member)
		}
	}
	members = kept

	nrows := len(pixels)
	ncols := len(members) * len(lams)
	if nrows < ncols {
		return &SingularSystemError{Lenslet: id}
	}

	a := mat.NewDense(nrows, ncols, nil)
	b := mat.NewVecDense(nrows, nil)
	for row, key := range pixels {
		w := 1.0
		if variance != nil {
			if v := variance.Pix[key]; v > 0 {
				w = 1 / math.Sqrt(v)
			} else {
				w = 0
			}
		}
		b.SetVec(row, w*frame.Pix[key])
	}

	for mi, member := range members {
		t := sol.Throughput[member]
		for si, lam := range lams {
			xc, yc, ok := sol.Centroid(member, lam)
			if !ok {
				continue
			}
			col := mi*len(lams) + si
			prof, px0, py0 := profileWindow(kernels[si], xc, yc)
			for wy := 0; wy < prof.Ny; wy++ {
				for wx := 0; wx < prof.Nx; wx++ {
					p := prof.Pix[wy*prof.Nx+wx]
					if p == 0 {
						continue
					}
					x, y := px0+wx, py0+wy
					if x < 0 || x >= frame.Nx || y < 0 || y >= frame.Ny {
						continue
					}
					key := y*frame.Nx + x
					row, in := pixRow[key]
					if !in {
						continue
					}
					w := 1.0
					if variance != nil {
						if v := variance.Pix[key]; v > 0 {
							w = 1 / math.Sqrt(v)
						} else {
							w = 0
						}
					}
					a.Set(row, col, a.At(row, col)+w*p*t)
				}
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return &SingularSystemError{Lenslet: id}
	}
	s := svd.Values(nil)
	if s[0] == 0 || s[len(s)-1] < svdRankTol*s[0] {
		return &SingularSystemError{Lenslet: id}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// x = V S^-1 U^T b; Var(x_k) = sum_j V[k,j]^2 / s_j^2 for whitened rows
	utb := make([]float64, ncols)
	for j := 0; j < ncols; j++ {
		var dot float64
		for row := 0; row < nrows; row++ {
			dot += u.At(row, j) * b.AtVec(row)
		}
		utb[j] = dot / s[j]
	}
	for si := range lams {
		var flux, vv float64
		for j := 0; j < ncols; j++ {
			flux += v.At(si, j) * utb[j]
			vv += v.At(si, j) * v.At(si, j) / (s[j] * s[j])
		}
		sp.Flux[si] = flux
		sp.Variance[si] = vv
		sp.NoSolution[si] = false
	}
	return nil
}

// neighborOverlap sums the squared profile weight a lenslet deposits on the
// given pixel set across all wavelengths.
func neighborOverlap(frame *Frame, sol *PSFLetSolution, kernels []Kernel, lams []float64, pixRow map[int]int, id LensletID) float64 {
	var energy float64
	for si, lam := range lams {
		xc, yc, ok := sol.Centroid(id, lam)
		if !ok {
			continue
		}
		prof, px0, py0 := profileWindow(kernels[si], xc, yc)
		for wy := 0; wy < prof.Ny; wy++ {
			for wx := 0; wx < prof.Nx; wx++ {
				p := prof.Pix[wy*prof.Nx+wx]
				if p == 0 {
					continue
				}
				x, y := px0+wx, py0+wy
				if x < 0 || x >= frame.Nx || y < 0 || y >= frame.Ny {
					continue
				}
				if _, in := pixRow[y*frame.Nx+x]; in {
					energy += p * p
				}
			}
		}
	}
	return energy
}

// profileWindow deposits a unit-flux kernel at (xc, yc) into a window-local
// frame, returning the pixel weights of the PSFLet footprint and the
// detector coordinates of the window origin. Extraction weights come from
// the same deposition path the dispersion engine uses, so the forward and
// inverse models agree exactly.
func profileWindow(k Kernel, xc, yc float64) (prof *Frame, px0, py0 int) {
	half := k.FootprintPx()/2 + 2
	px0 = int(math.Floor(xc+0.5)) - half
	py0 = int(math.Floor(yc+0.5)) - half
	prof = NewFrame(2*half+1, 2*half+1)
	DepositKernel(prof, k, xc-float64(px0), yc-float64(py0), 1.0)
	return prof, px0, py0
}
