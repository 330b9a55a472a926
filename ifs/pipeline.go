package ifs

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Pipeline wires the forward and inverse paths together: lenslet sampling,
// dispersion, detector exposure, and extraction, all sharing one PSFLet
// solution and kernel library. Configuration is validated once at
// construction and never mutated mid-run.
type Pipeline struct {
	Instrument InstrumentConfig
	Detector   DetectorConfig
	Extraction ExtractConfig
	Mode       ExtractMode

	Grid     *LensletGrid
	Library  *Library
	Solution *PSFLetSolution
	RNG      *PartitionedRNG

	Metrics Metrics
}

// NewPipeline validates the configuration and assembles a pipeline. All
// validation errors are fatal here, before any simulation work.
func NewPipeline(inst InstrumentConfig, det DetectorConfig, ext ExtractConfig, mode ExtractMode,
	grid *LensletGrid, lib *Library, sol *PSFLetSolution, rng *PartitionedRNG) (*Pipeline, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	if err := det.Validate(); err != nil {
		return nil, err
	}
	if err := ext.Validate(); err != nil {
		return nil, err
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if lib == nil {
		return nil, &ConfigurationError{Field: "Library", Reason: "kernel library is required"}
	}
	if sol == nil {
		return nil, &ConfigurationError{Field: "Solution", Reason: "PSFLet solution is required"}
	}
	if rng == nil {
		rng = NewTimeSeededRNG()
	}
	return &Pipeline{
		Instrument: inst,
		Detector:   det,
		Extraction: ext,
		Mode:       mode,
		Grid:       grid,
		Library:    lib,
		Solution:   sol,
		RNG:        rng,
	}, nil
}

// Run pushes a scene cube through the full chain: sample onto the lenslet
// grid, disperse onto the detector canvas, expose through the noise chain,
// and extract spectra back out. Returns the extracted cube and the detector
// frame it was extracted from.
func (p *Pipeline) Run(scene *SceneCube) (*SpectralCube, *Frame, error) {
	start := time.Now()
	p.Metrics = Metrics{} // each run reports its own statistics

	spectra, err := Sample(scene, p.Grid, SampleAreaWeighted)
	if err != nil {
		return nil, nil, err
	}
	for _, fl := range spectra.Flux {
		for _, f := range fl {
			p.Metrics.PhotonsIn += f
		}
	}

	raw, err := Disperse(spectra, p.Solution, p.Library, DisperseConfig{NPix: p.Instrument.NPix})
	if err != nil {
		return nil, nil, err
	}
	p.Metrics.PhotonsDeposited = raw.Sum()

	// with no randomized stage the variance map is identically zero;
	// uniform weighting is the right call there
	var variance *Frame
	if p.Detector.EnableShot || p.Detector.EnableDark || p.Detector.EnableRead {
		variance = VarianceMap(raw, p.Detector)
	}
	frame := Expose(raw, p.Detector, p.RNG)

	// extraction inverts the optical model in photo-electron units, so the
	// detector's gain and bias conversion is undone first
	cube, err := Extract(p.Detector.ToElectrons(frame), variance, p.Solution, p.Library, scene.Lam, p.Mode, p.Extraction)
	if err != nil {
		return nil, nil, err
	}

	p.Metrics.LensletsResolved = p.Solution.NumResolved()
	p.Metrics.LensletsUnresolved = p.Grid.NumLenslets() - p.Metrics.LensletsResolved
	p.Metrics.FitFailures = len(p.Solution.Failures)
	p.Metrics.SpectralSamples = len(scene.Lam)
	p.Metrics.ExtractFailures = len(cube.Failures)
	p.Metrics.Elapsed = time.Since(start)

	logrus.Infof("pipeline: %d lenslets, %d slices, %s extraction in %v",
		p.Grid.NumLenslets(), len(scene.Lam), p.Mode, p.Metrics.Elapsed)
	return cube, frame, nil
}
