package ifs

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// Disperse forward-projects lenslet spectra through the PSFLet solution onto
// a noiseless detector canvas. For every resolved lenslet and wavelength
// slice it interpolates a kernel, scales it by the lenslet's flux and
// throughput, and deposits it additively at the trace centroid.
//
// Lenslets are partitioned across workers, each accumulating into a private
// canvas; the canvases are summed in worker order at the end, so the result
// is independent of scheduling up to a fixed floating-point summation order.
func Disperse(spectra *LensletSpectra, sol *PSFLetSolution, lib *Library, cfg DisperseConfig) (*Frame, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(spectra.Flux) != sol.Grid.NumLenslets() {
		return nil, fmt.Errorf("disperse: %d lenslet spectra for %d lenslets",
			len(spectra.Flux), sol.Grid.NumLenslets())
	}

	// one interpolated kernel per slice, shared read-only by all workers
	kernels := make([]Kernel, len(spectra.Lam))
	for i, lam := range spectra.Lam {
		k, err := lib.KernelAt(lam)
		if err != nil {
			return nil, fmt.Errorf("disperse: slice %d: %w", i, err)
		}
		kernels[i] = k
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	n := sol.Grid.NumLenslets()
	if workers > n {
		workers = n
	}

	canvases := make([]*Frame, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		canvases[w] = NewFrame(cfg.NPix, cfg.NPix)
		lo := w * n / workers
		hi := (w + 1) * n / workers
		wg.Add(1)
		go func(canvas *Frame, lo, hi int) {
			defer wg.Done()
			for id := lo; id < hi; id++ {
				disperseLenslet(canvas, spectra, sol, kernels, LensletID(id))
			}
		}(canvases[w], lo, hi)
	}
	wg.Wait()

	out := canvases[0]
	for _, c := range canvases[1:] {
		out.AddFrame(c)
	}
	logrus.Debugf("dispersed %d lenslets x %d slices onto %dx%d canvas",
		n, len(spectra.Lam), cfg.NPix, cfg.NPix)
	return out, nil
}

func disperseLenslet(canvas *Frame, spectra *LensletSpectra, sol *PSFLetSolution, kernels []Kernel, id LensletID) {
	for si, lam := range spectra.Lam {
		flux := spectra.Flux[id][si] * sol.Throughput[id]
		if flux == 0 {
			continue
		}
		x, y, ok := sol.Centroid(id, lam)
		if !ok {
			// unresolved lenslets contribute nothing to the frame
			return
		}
		DepositKernel(canvas, kernels[si], x, y, flux)
	}
}

// DepositKernel additively places a kernel scaled by flux at the sub-pixel
// centroid (xc, yc). Every stamp cell is mapped through the kernel's own
// sub-pixel grid to the detector pixel containing it, so fractional-pixel
// placement costs no flux: the deposited total is exactly flux times the
// stamp sum (less any spill off the canvas edge).
func DepositKernel(canvas *Frame, k Kernel, xc, yc, flux float64) {
	o := float64(k.Oversample)
	for cy := 0; cy < k.Stamp.Ny; cy++ {
		y := yc + (float64(cy)-k.CenterY)/o
		py := int(math.Floor(y + 0.5))
		if py < 0 || py >= canvas.Ny {
			continue
		}
		rowOff := py * canvas.Nx
		for cx := 0; cx < k.Stamp.Nx; cx++ {
			x := xc + (float64(cx)-k.CenterX)/o
			px := int(math.Floor(x + 0.5))
			if px < 0 || px >= canvas.Nx {
				continue
			}
			canvas.Pix[rowOff+px] += flux * k.Stamp.Pix[cy*k.Stamp.Nx+cx]
		}
	}
}
