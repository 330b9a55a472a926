package ifs

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a requested wavelength lies outside the
// tabulated kernel envelope and extrapolation is not enabled.
var ErrOutOfRange = errors.New("wavelength outside tabulated range")

// ErrNoSolution is returned when an operation needs a PSFLet solution entry
// for a lenslet that was marked unresolved during calibration.
var ErrNoSolution = errors.New("no PSFLet solution for lenslet")

// ConfigurationError reports an inconsistent or missing parameter. It is
// fatal at pipeline start, before any simulation work.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// CalibrationFitFailure records a centroid fit that did not converge for one
// (lenslet, wavelength) pair. Failures are collected on the solution; they
// never abort the locate call.
type CalibrationFitFailure struct {
	Lenslet    LensletID
	Wavelength float64
	Reason     string
}

func (e *CalibrationFitFailure) Error() string {
	return fmt.Sprintf("calibration fit failed: lenslet %d at %.1f nm: %s",
		e.Lenslet, e.Wavelength, e.Reason)
}

// SingularSystemError reports a rank-deficient least-squares design matrix in
// one lenslet neighborhood. Surfaced per lenslet as a no-solution sentinel in
// the extracted cube, not as a process-fatal error.
type SingularSystemError struct {
	Lenslet LensletID
}

func (e *SingularSystemError) Error() string {
	return fmt.Sprintf("singular design matrix in neighborhood of lenslet %d", e.Lenslet)
}
