// Package ifs simulates and inverts an integral field spectrograph: the
// optical chain that samples a polychromatic scene with a lenslet array,
// disperses each lenslet's light into a wavelength-dependent PSFLet trace on
// the detector, records it through a sensor noise model, and recovers
// calibrated spectra by linear estimation.
//
// # Reading Guide
//
// Start with these three files to understand the pipeline:
//   - psflet.go: the PSFLet solution, the shared geometric+spectral contract
//     between the forward and inverse paths
//   - disperse.go: the forward model (kernel deposition with sub-pixel
//     placement)
//   - extract.go: the inverse model (optimal and least-squares extraction)
//
// # Architecture
//
// The forward path runs Sample -> Disperse -> Expose; the inverse path runs
// Locate (or IdealSolution) -> Extract. Both share two immutable inputs:
//   - Library (kernel.go): monochromatic PSF stamps on a sub-pixel grid,
//     interpolated to any wavelength
//   - PSFLetSolution (psflet.go, locate.go): per-lenslet trace polynomials
//     mapping wavelength to detector position
//
// Pipeline (pipeline.go) wires the full chain for end-to-end runs and
// collects Metrics. Per-lenslet work (centroid fits, dispersion,
// extraction) is embarrassingly parallel and dispatched over bounded worker
// pools with disjoint output slots; only the detector canvas reduction and
// the per-neighborhood least-squares solves are serialized steps.
//
// Determinism: all randomized stages draw from a PartitionedRNG (rng.go)
// keyed by a SimulationKey, so identical seeds give bit-identical frames.
package ifs
