package ifs

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/optimize"
)

// CalibrationFrame is one monochromatic calibration exposure: the detector
// image taken with the instrument illuminated at a single known wavelength.
type CalibrationFrame struct {
	Lam      float64
	Image    *Frame
	Variance *Frame // optional per-pixel variance; nil means uniform weights
}

// fitResult is the outcome of one (lenslet, wavelength) centroid fit.
type fitResult struct {
	lam       float64
	x, y, amp float64
	ok        bool
	reason    string
}

// Locate builds a PSFLet solution from a set of monochromatic calibration
// frames and the nominal lenslet grid geometry.
//
// For every lenslet and calibration wavelength it refines the sub-pixel
// centroid by fitting a pixel-integrated Gaussian template inside a bounded
// window around the nominal position, then fits a low-order polynomial
// trace through the refined centroids, rejecting outliers beyond the
// residual threshold. Lenslets whose fits fail at too many wavelengths, or
// converge at fewer than two, are marked unresolved; the locate call itself
// only fails on malformed input.
//
// Fits are pure per-lenslet functions dispatched across a bounded worker
// pool; output is deterministic for deterministic input.
func Locate(frames []CalibrationFrame, grid *LensletGrid, cfg LocateConfig) (*PSFLetSolution, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if len(frames) < 2 {
		return nil, fmt.Errorf("locate: need at least 2 calibration frames, got %d", len(frames))
	}
	sorted := make([]CalibrationFrame, len(frames))
	copy(sorted, frames)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lam < sorted[j].Lam })
	for i, f := range sorted {
		if f.Image == nil {
			return nil, fmt.Errorf("locate: calibration frame %d has no image", i)
		}
	}

	n := grid.NumLenslets()
	sol := &PSFLetSolution{
		Grid:       grid,
		LamMin:     sorted[0].Lam,
		LamMax:     sorted[len(sorted)-1].Lam,
		XCoef:      make([][]float64, n),
		YCoef:      make([][]float64, n),
		Throughput: make([]float64, n),
		Resolved:   make([]bool, n),
	}

	amps := make([]float64, n) // median fitted amplitude per lenslet
	failures := make([][]CalibrationFitFailure, n)

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
				locateLenslet(sol, sorted, cfg, LensletID(id), amps, failures)
			}
		}(lo, hi)
	}
	wg.Wait()

	for _, fs := range failures {
		sol.Failures = append(sol.Failures, fs...)
	}

	// normalize throughputs by the array median so the solution's flux
	// scale is relative, not tied to lamp brightness
	if med := medianOf(amps, sol.Resolved); med > 0 {
		for id := range amps {
			if sol.Resolved[id] {
				sol.Throughput[id] = amps[id] / med
			}
		}
	}

	logrus.Infof("locate: %d/%d lenslets resolved, %d fit failures recorded",
		sol.NumResolved(), n, len(sol.Failures))
	return sol, nil
}

func locateLenslet(sol *PSFLetSolution, frames []CalibrationFrame, cfg LocateConfig, id LensletID, amps []float64, failures [][]CalibrationFitFailure) {
	fits := make([]fitResult, 0, len(frames))
	for _, f := range frames {
		nx, ny := sol.Grid.Nominal(id, f.Lam)
		r := fitCentroid(f, nx, ny, cfg)
		if !r.ok {
			failures[id] = append(failures[id], CalibrationFitFailure{
				Lenslet: id, Wavelength: f.Lam, Reason: r.reason,
			})
			continue
		}
		r.lam = f.Lam
		fits = append(fits, r)
	}

	if len(fits) < 2 {
		// cannot even extrapolate a linear trace
		return
	}
	badFrac := float64(len(frames)-len(fits)) / float64(len(frames))
	if badFrac > cfg.MaxBadFraction {
		return
	}

	ts := make([]float64, len(fits))
	xs := make([]float64, len(fits))
	ys := make([]float64, len(fits))
	fitAmps := make([]float64, len(fits))
	for i, r := range fits {
		ts[i] = sol.norm(r.lam)
		xs[i] = r.x
		ys[i] = r.y
		fitAmps[i] = r.amp
	}

	order := cfg.TraceOrder
	if order > len(fits)-1 {
		order = len(fits) - 1
	}
	xc := polyfit(ts, xs, order)
	yc := polyfit(ts, ys, order)
	if xc == nil || yc == nil {
		return
	}

	// one round of outlier rejection against the fitted trace
	keepT, keepX, keepY := ts[:0], xs[:0], ys[:0]
	keepAmp := fitAmps[:0]
	rejected := 0
	for i := range ts {
		dx := xs[i] - polyval(xc, ts[i])
		dy := ys[i] - polyval(yc, ts[i])
		if math.Hypot(dx, dy) > cfg.ResidualThreshold {
			rejected++
			continue
		}
		keepT = append(keepT, ts[i])
		keepX = append(keepX, xs[i])
		keepY = append(keepY, ys[i])
		keepAmp = append(keepAmp, fitAmps[i])
	}
	if rejected > 0 {
		badFrac = float64(len(frames)-len(keepT)) / float64(len(frames))
		if badFrac > cfg.MaxBadFraction || len(keepT) < 2 {
			return
		}
		if order > len(keepT)-1 {
			order = len(keepT) - 1
		}
		xc = polyfit(keepT, keepX, order)
		yc = polyfit(keepT, keepY, order)
		if xc == nil || yc == nil {
			return
		}
	}

	sol.XCoef[id] = xc
	sol.YCoef[id] = yc
	sol.Resolved[id] = true
	// throughput comes from the fits that survived rejection, so a
	// contaminated spot cannot skew a lenslet's flux scale
	sort.Float64s(keepAmp)
	amps[id] = keepAmp[len(keepAmp)/2]
	sol.Throughput[id] = 1.0
}

// fitCentroid refines the sub-pixel PSFLet centroid inside a bounded window
// around the nominal position. The amplitude is profiled out analytically;
// Nelder-Mead refines only (x, y) of the pixel-integrated Gaussian template.
func fitCentroid(frame CalibrationFrame, nomX, nomY float64, cfg LocateConfig) fitResult {
	w := cfg.WindowPx
	cx, cy := int(math.Floor(nomX+0.5)), int(math.Floor(nomY+0.5))

	// flux-weighted first moment as the starting point
	var sum, sx, sy, peak float64
	for y := cy - w; y <= cy+w; y++ {
		for x := cx - w; x <= cx+w; x++ {
			v := frame.Image.At(x, y)
			if v <= 0 {
				continue
			}
			sum += v
			sx += v * float64(x)
			sy += v * float64(y)
			if v > peak {
				peak = v
			}
		}
	}
	if sum <= 0 {
		return fitResult{reason: "no flux in fit window"}
	}
	if cfg.MinSNR > 0 {
		if snr := windowSNR(frame, cx, cy, w, peak); snr < cfg.MinSNR {
			return fitResult{reason: fmt.Sprintf("snr %.1f below floor %.1f", snr, cfg.MinSNR)}
		}
	}
	x0, y0 := sx/sum, sy/sum

	sigma := cfg.FWHM / 2.35
	chi2 := func(p []float64) float64 {
		c2, _ := templateChi2(frame, cx, cy, w, p[0], p[1], sigma)
		return c2
	}
	res, err := optimize.Minimize(optimize.Problem{Func: chi2}, []float64{x0, y0}, nil, &optimize.NelderMead{})
	if err != nil {
		return fitResult{reason: fmt.Sprintf("centroid fit did not converge: %v", err)}
	}
	fx, fy := res.X[0], res.X[1]
	if math.Abs(fx-nomX) > float64(w) || math.Abs(fy-nomY) > float64(w) {
		return fitResult{reason: "fit left the search window"}
	}
	_, amp := templateChi2(frame, cx, cy, w, fx, fy, sigma)
	if amp <= 0 {
		return fitResult{reason: "non-positive fitted amplitude"}
	}
	return fitResult{x: fx, y: fy, amp: amp, ok: true}
}

// templateChi2 evaluates the weighted squared residual between the window
// data and a unit pixel-integrated Gaussian at (x0, y0), with the best-fit
// amplitude profiled out. Returns the chi-square and that amplitude.
func templateChi2(frame CalibrationFrame, cx, cy, w int, x0, y0, sigma float64) (chi2, amp float64) {
	s2 := math.Sqrt2 * sigma
	var gd, gg float64
	for y := cy - w; y <= cy+w; y++ {
		gy := 0.5 * (math.Erf((float64(y)-y0+0.5)/s2) - math.Erf((float64(y)-y0-0.5)/s2))
		for x := cx - w; x <= cx+w; x++ {
			gx := 0.5 * (math.Erf((float64(x)-x0+0.5)/s2) - math.Erf((float64(x)-x0-0.5)/s2))
			g := gx * gy
			d := frame.Image.At(x, y)
			wt := 1.0
			if frame.Variance != nil {
				if v := frame.Variance.At(x, y); v > 0 {
					wt = 1 / v
				}
			}
			gd += wt * g * d
			gg += wt * g * g
		}
	}
	if gg == 0 {
		return math.Inf(1), 0
	}
	amp = gd / gg
	for y := cy - w; y <= cy+w; y++ {
		gy := 0.5 * (math.Erf((float64(y)-y0+0.5)/s2) - math.Erf((float64(y)-y0-0.5)/s2))
		for x := cx - w; x <= cx+w; x++ {
			gx := 0.5 * (math.Erf((float64(x)-x0+0.5)/s2) - math.Erf((float64(x)-x0-0.5)/s2))
			r := frame.Image.At(x, y) - amp*gx*gy
			wt := 1.0
			if frame.Variance != nil {
				if v := frame.Variance.At(x, y); v > 0 {
					wt = 1 / v
				}
			}
			chi2 += wt * r * r
		}
	}
	return chi2, amp
}

// windowSNR estimates the peak signal-to-noise in the fit window. With a
// variance frame the noise is the RMS sigma over the window; without one the
// residual scatter about the window median stands in for it. Infinite for
// noiseless synthetic frames.
func windowSNR(frame CalibrationFrame, cx, cy, w int, peak float64) float64 {
	var sigma float64
	if frame.Variance != nil {
		var sum float64
		var n int
		for y := cy - w; y <= cy+w; y++ {
			for x := cx - w; x <= cx+w; x++ {
				sum += frame.Variance.At(x, y)
				n++
			}
		}
		if n > 0 {
			sigma = math.Sqrt(sum / float64(n))
		}
	} else {
		vals := make([]float64, 0, (2*w+1)*(2*w+1))
		for y := cy - w; y <= cy+w; y++ {
			for x := cx - w; x <= cx+w; x++ {
				vals = append(vals, frame.Image.At(x, y))
			}
		}
		sort.Float64s(vals)
		med := vals[len(vals)/2]
		var ss float64
		for _, v := range vals {
			ss += (v - med) * (v - med)
		}
		sigma = math.Sqrt(ss / float64(len(vals)))
	}
	if sigma == 0 {
		return math.Inf(1)
	}
	return peak / sigma
}

func medianOf(vals []float64, mask []bool) float64 {
	sel := make([]float64, 0, len(vals))
	for i, v := range vals {
		if mask[i] {
			sel = append(sel, v)
		}
	}
	if len(sel) == 0 {
		return 0
	}
	sort.Float64s(sel)
	return sel[len(sel)/2]
}
