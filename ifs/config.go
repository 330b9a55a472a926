package ifs

// InstrumentConfig groups the optical parameters of the simulated IFS:
// detector size, kernel tabulation, and wavelength coverage.
type InstrumentConfig struct {
	NPix         int     // detector pixels per side (must be > 0)
	Oversample   int     // kernel sub-pixel oversampling (must be >= 1)
	KernelSizePx int     // kernel stamp extent in detector pixels (must be >= 3)
	FWHM         float64 // PSFLet FWHM in detector pixels at LamRef
	FWHMSlope    float64 // FWHM growth per nm away from LamRef (0 = achromatic)
	LamRef       float64 // reference wavelength, nm
	MinLam       float64 // shortest wavelength, nm
	MaxLam       float64 // longest wavelength, nm
	Resolution   float64 // spectral resolution target R = lam/dlam
}

// FWHMAt returns the PSF FWHM at the given wavelength under the linear
// chromatic model.
func (c InstrumentConfig) FWHMAt(lam float64) float64 {
	return c.FWHM + c.FWHMSlope*(lam-c.LamRef)
}

// Validate checks the instrument parameters before any simulation work.
func (c InstrumentConfig) Validate() error {
	switch {
	case c.NPix <= 0:
		return &ConfigurationError{Field: "NPix", Reason: "must be positive"}
	case c.Oversample < 1:
		return &ConfigurationError{Field: "Oversample", Reason: "must be >= 1"}
	case c.KernelSizePx < 3:
		return &ConfigurationError{Field: "KernelSizePx", Reason: "must be >= 3"}
	case c.FWHM <= 0:
		return &ConfigurationError{Field: "FWHM", Reason: "must be positive"}
	case c.MinLam <= 0 || c.MaxLam <= c.MinLam:
		return &ConfigurationError{Field: "MinLam/MaxLam", Reason: "need 0 < MinLam < MaxLam"}
	case c.Resolution <= 0:
		return &ConfigurationError{Field: "Resolution", Reason: "must be positive"}
	}
	return nil
}

// DetectorConfig groups the sensor noise chain parameters. Every stage is
// independently toggleable so tests can run any subset deterministically.
type DetectorConfig struct {
	ExposureTime float64 // seconds
	Gain         float64 // electrons per ADU (must be > 0 when converting)
	ReadNoise    float64 // electrons RMS per read
	DarkCurrent  float64 // electrons per pixel per second
	Bias         float64 // ADU offset added after gain conversion
	FullWell     float64 // saturation level in ADU after bias (0 = no clipping)
	CosmicRate   float64 // cosmic-ray hits per frame (Poisson mean)

	EnableShot   bool
	EnableDark   bool
	EnableRead   bool
	EnableCosmic bool
}

// NewDetectorConfig assembles a DetectorConfig from explicit values with all
// noise stages enabled.
func NewDetectorConfig(exposure, gain, readNoise, dark, bias, fullWell float64) DetectorConfig {
	return DetectorConfig{
		ExposureTime: exposure,
		Gain:         gain,
		ReadNoise:    readNoise,
		DarkCurrent:  dark,
		Bias:         bias,
		FullWell:     fullWell,
		EnableShot:   true,
		EnableDark:   true,
		EnableRead:   true,
	}
}

// Noiseless returns a copy with every randomized stage disabled. Gain, bias,
// and saturation still apply; they are deterministic.
func (c DetectorConfig) Noiseless() DetectorConfig {
	c.EnableShot = false
	c.EnableDark = false
	c.EnableRead = false
	c.EnableCosmic = false
	return c
}

// Validate checks the detector parameters.
func (c DetectorConfig) Validate() error {
	switch {
	case c.ExposureTime < 0:
		return &ConfigurationError{Field: "ExposureTime", Reason: "must be non-negative"}
	case c.Gain <= 0:
		return &ConfigurationError{Field: "Gain", Reason: "must be positive"}
	case c.ReadNoise < 0:
		return &ConfigurationError{Field: "ReadNoise", Reason: "must be non-negative"}
	case c.DarkCurrent < 0:
		return &ConfigurationError{Field: "DarkCurrent", Reason: "must be non-negative"}
	case c.FullWell < 0:
		return &ConfigurationError{Field: "FullWell", Reason: "must be non-negative"}
	}
	return nil
}

// LocateConfig groups the PSFLet locator's fitting parameters.
type LocateConfig struct {
	WindowPx          int     // centroid fit window half-size in pixels
	FWHM              float64 // Gaussian template FWHM in pixels
	TraceOrder        int     // trace polynomial order (>= 1)
	ResidualThreshold float64 // max |fit - poly| residual in pixels before a point is rejected
	MaxBadFraction    float64 // fraction of rejected wavelengths above which a lenslet is unresolved
	MinSNR            float64 // signal-to-noise floor below which a fit is refused
	Workers           int     // parallel lenslet fits (<= 0 means GOMAXPROCS)
}

// NewLocateConfig assembles a LocateConfig from explicit values.
func NewLocateConfig(windowPx int, fwhm float64, traceOrder int, residualThreshold, maxBadFraction, minSNR float64) LocateConfig {
	return LocateConfig{
		WindowPx:          windowPx,
		FWHM:              fwhm,
		TraceOrder:        traceOrder,
		ResidualThreshold: residualThreshold,
		MaxBadFraction:    maxBadFraction,
		MinSNR:            minSNR,
	}
}

// Validate checks the locator parameters.
func (c LocateConfig) Validate() error {
	switch {
	case c.WindowPx < 2:
		return &ConfigurationError{Field: "WindowPx", Reason: "must be >= 2"}
	case c.FWHM <= 0:
		return &ConfigurationError{Field: "FWHM", Reason: "must be positive"}
	case c.TraceOrder < 1:
		return &ConfigurationError{Field: "TraceOrder", Reason: "must be >= 1"}
	case c.ResidualThreshold <= 0:
		return &ConfigurationError{Field: "ResidualThreshold", Reason: "must be positive"}
	case c.MaxBadFraction < 0 || c.MaxBadFraction >= 1:
		return &ConfigurationError{Field: "MaxBadFraction", Reason: "must be in [0, 1)"}
	}
	return nil
}

// ExtractMode selects the inversion algorithm.
type ExtractMode int

const (
	// ModeOptimal is the variance-weighted local profile sum. Fast, exact
	// for isolated traces, biased under trace overlap.
	ModeOptimal ExtractMode = iota

	// ModeLeastSquares jointly deconvolves overlapping traces with a local
	// linear least-squares solve per lenslet neighborhood.
	ModeLeastSquares
)

func (m ExtractMode) String() string {
	switch m {
	case ModeOptimal:
		return "optimal"
	case ModeLeastSquares:
		return "leastsquares"
	}
	return "unknown"
}

// ParseExtractMode maps a CLI/config string onto an ExtractMode.
func ParseExtractMode(s string) (ExtractMode, error) {
	switch s {
	case "optimal":
		return ModeOptimal, nil
	case "leastsquares", "lstsq":
		return ModeLeastSquares, nil
	}
	return 0, &ConfigurationError{Field: "mode", Reason: "must be 'optimal' or 'leastsquares'"}
}

// ExtractConfig groups the extraction engine's parameters.
type ExtractConfig struct {
	NeighborRadius int // lenslet neighborhood radius for the least-squares solve (>= 1)
	Workers        int // parallel lenslet extractions (<= 0 means GOMAXPROCS)
}

// Validate checks the extraction parameters.
func (c ExtractConfig) Validate() error {
	if c.NeighborRadius < 0 {
		return &ConfigurationError{Field: "NeighborRadius", Reason: "must be non-negative"}
	}
	return nil
}

// DisperseConfig groups the dispersion engine's parameters.
type DisperseConfig struct {
	NPix    int // detector canvas size per side
	Workers int // parallel lenslet partitions (<= 0 means GOMAXPROCS)
}

// Validate checks the dispersion parameters.
func (c DisperseConfig) Validate() error {
	if c.NPix <= 0 {
		return &ConfigurationError{Field: "NPix", Reason: "must be positive"}
	}
	return nil
}
