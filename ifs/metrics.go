// Tracks pipeline-wide statistics for final reporting.

package ifs

import (
	"fmt"
	"time"
)

// Metrics aggregates statistics about one pipeline run, useful for
// evaluating instrument performance and debugging behavior over time.
type Metrics struct {
	LensletsResolved   int // lenslets with a usable PSFLet solution
	LensletsUnresolved int // lenslets excluded during calibration
	FitFailures        int // per-(lenslet, wavelength) centroid fit failures
	SpectralSamples    int // wavelength samples per extracted spectrum

	PhotonsIn        float64 // total scene flux fed into the dispersion engine
	PhotonsDeposited float64 // total flux on the noiseless canvas
	ExtractFailures  int     // singular least-squares neighborhoods

	Elapsed time.Duration
}

// Print displays aggregated metrics at the end of a run.
func (m *Metrics) Print() {
	fmt.Println("=== Pipeline Metrics ===")
	fmt.Printf("Lenslets resolved    : %d\n", m.LensletsResolved)
	fmt.Printf("Lenslets unresolved  : %d\n", m.LensletsUnresolved)
	fmt.Printf("Fit failures         : %d\n", m.FitFailures)
	fmt.Printf("Spectral samples     : %d\n", m.SpectralSamples)
	fmt.Printf("Scene flux in        : %.4g\n", m.PhotonsIn)
	fmt.Printf("Flux on detector     : %.4g\n", m.PhotonsDeposited)
	fmt.Printf("Extraction failures  : %d\n", m.ExtractFailures)
	fmt.Printf("Elapsed              : %v\n", m.Elapsed)
}
