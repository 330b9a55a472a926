package ifs

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// TracePlot renders the PSFLet solution's traces as a detector-plane
// scatter, sampling each resolved lenslet's trace at the given wavelengths.
// A quick-look diagnostic for wavelength calibration: healthy solutions show
// parallel, non-crossing traces marching with wavelength.
func TracePlot(sol *PSFLetSolution, lams []float64, path string) error {
	p := plot.New()
	p.Title.Text = "PSFLet traces"
	p.X.Label.Text = "detector x [px]"
	p.Y.Label.Text = "detector y [px]"

	pts := make(plotter.XYs, 0, sol.Grid.NumLenslets()*len(lams))
	for id := 0; id < sol.Grid.NumLenslets(); id++ {
		for _, lam := range lams {
			x, y, ok := sol.Centroid(LensletID(id), lam)
			if !ok {
				continue
			}
			pts = append(pts, plotter.XY{X: x, Y: y})
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("trace plot: no resolved lenslets to draw")
	}

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("trace plot: %w", err)
	}
	sc.GlyphStyle.Radius = vg.Points(1)
	sc.GlyphStyle.Color = color.RGBA{B: 180, A: 255}
	p.Add(sc)

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
