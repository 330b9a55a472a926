package ifs

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Frame is a 2-D image of float64 samples stored row-major. It is used for
// detector frames, per-pixel variance maps, scene cube slices, and the
// oversampled kernel stamps.
//
// Pixel (x, y) addresses column x of row y; pixel centers sit on integer
// coordinates so that pixel p spans [p-0.5, p+0.5).
type Frame struct {
	Nx, Ny int
	Pix    []float64
}

// NewFrame allocates a zeroed Nx by Ny frame.
func NewFrame(nx, ny int) *Frame {
	return &Frame{Nx: nx, Ny: ny, Pix: make([]float64, nx*ny)}
}

// At returns the sample at (x, y), or 0 outside the frame. Out-of-bounds
// reads are defined as zero flux so kernel footprints may spill off the edge.
func (f *Frame) At(x, y int) float64 {
	if x < 0 || x >= f.Nx || y < 0 || y >= f.Ny {
		return 0
	}
	return f.Pix[y*f.Nx+x]
}

// Set stores v at (x, y). Out-of-bounds writes are dropped.
func (f *Frame) Set(x, y int, v float64) {
	if x < 0 || x >= f.Nx || y < 0 || y >= f.Ny {
		return
	}
	f.Pix[y*f.Nx+x] = v
}

// Add accumulates v into (x, y). Out-of-bounds writes are dropped.
func (f *Frame) Add(x, y int, v float64) {
	if x < 0 || x >= f.Nx || y < 0 || y >= f.Ny {
		return
	}
	f.Pix[y*f.Nx+x] += v
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := NewFrame(f.Nx, f.Ny)
	copy(c.Pix, f.Pix)
	return c
}

// AddFrame accumulates other into f. The frames must have identical shape.
func (f *Frame) AddFrame(other *Frame) {
	floats.Add(f.Pix, other.Pix)
}

// Fill sets every pixel to v.
func (f *Frame) Fill(v float64) {
	for i := range f.Pix {
		f.Pix[i] = v
	}
}

// Sum returns the total flux in the frame.
func (f *Frame) Sum() float64 {
	return floats.Sum(f.Pix)
}

// Dense returns the frame as a gonum matrix sharing the same backing slice.
func (f *Frame) Dense() *mat.Dense {
	return mat.NewDense(f.Ny, f.Nx, f.Pix)
}

// SameShape reports whether other has identical dimensions.
func (f *Frame) SameShape(other *Frame) bool {
	return f.Nx == other.Nx && f.Ny == other.Ny
}

// MedianFilter applies a size x size median filter (size must be odd) and
// returns the smoothed frame. Edge windows are truncated at the border.
func (f *Frame) MedianFilter(size int) *Frame {
	half := size / 2
	out := NewFrame(f.Nx, f.Ny)
	window := make([]float64, 0, size*size)
	for y := 0; y < f.Ny; y++ {
		for x := 0; x < f.Nx; x++ {
			window = window[:0]
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || xx >= f.Nx || yy < 0 || yy >= f.Ny {
						continue
					}
					window = append(window, f.Pix[yy*f.Nx+xx])
				}
			}
			sort.Float64s(window)
			n := len(window)
			if n%2 == 1 {
				out.Pix[y*f.Nx+x] = window[n/2]
			} else {
				out.Pix[y*f.Nx+x] = 0.5 * (window[n/2-1] + window[n/2])
			}
		}
	}
	return out
}

// BadPixelMask identifies outlier pixels by sigma-clipping the residual
// against a median-filtered copy of the frame. The returned mask is true
// where the pixel is good. filsize is the median filter size in pixels and
// threshold the clip level in standard deviations of the residual.
func (f *Frame) BadPixelMask(filsize int, threshold float64) []bool {
	smooth := f.MedianFilter(filsize)
	res := make([]float64, len(f.Pix))
	floats.SubTo(res, f.Pix, smooth.Pix)

	var sum, sumsq float64
	for _, r := range res {
		sum += r
		sumsq += r * r
	}
	n := float64(len(res))
	sigma := math.Sqrt(sumsq/n - (sum/n)*(sum/n))

	good := make([]bool, len(f.Pix))
	if sigma == 0 {
		for i := range good {
			good[i] = true
		}
		return good
	}
	for i, r := range res {
		good[i] = math.Abs(r)/sigma < threshold
	}
	return good
}

// CircularMask returns a mask that is true inside the given radius around
// the frame center.
func (f *Frame) CircularMask(radius float64) []bool {
	mask := make([]bool, len(f.Pix))
	cx, cy := float64(f.Nx/2), float64(f.Ny/2)
	for y := 0; y < f.Ny; y++ {
		for x := 0; x < f.Nx; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			mask[y*f.Nx+x] = math.Sqrt(dx*dx+dy*dy) < radius
		}
	}
	return mask
}
