package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags shared by all subcommands
	seed            int64  // Simulation key for the partitioned RNG
	logLevel        string // Log verbosity level
	instrumentsPath string // Path to the instrument preset catalog
	instrumentName  string // Preset to simulate

	// Detector noise chain flags
	exposureTime float64 // Exposure time in seconds
	gain         float64 // Electrons per ADU
	readNoise    float64 // Read noise in electrons RMS
	darkCurrent  float64 // Dark current in electrons/pixel/second
	biasLevel    float64 // Bias offset in ADU
	fullWell     float64 // Saturation level in ADU (0 disables clipping)
	cosmicRate   float64 // Cosmic-ray hits per frame
	noiseless    bool    // Disable every randomized detector stage

	// Scene and extraction flags
	sceneNPix      int     // Scene cube samples per side
	sceneFlux      float64 // Flux per scene sample
	extractMode    string  // optimal | leastsquares
	neighborRadius int     // Lenslet neighborhood radius for the joint solve

	// Calibration flags
	calFrames int     // Number of monochromatic calibration exposures
	calFlux   float64 // Flux per PSFLet spot in a calibration frame
	calNoise  float64 // Gaussian noise sigma added to calibration frames

	tracePlotPath string // Optional trace scatter output (png/svg/pdf)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "ifs-sim",
	Short: "Lenslet-based integral field spectrograph simulator",
}

// setupLogging applies the --log flag before any subcommand work.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// mustPreset loads the catalog and resolves the requested instrument.
func mustPreset() *InstrumentPreset {
	file, err := LoadInstruments(instrumentsPath)
	if err != nil {
		logrus.Fatalf("unable to read instrument catalog: %v", err)
	}
	preset := file.FindInstrument(instrumentName)
	if preset == nil {
		logrus.Fatalf("no instrument named %q in %s", instrumentName, instrumentsPath)
	}
	return preset
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 42, "Simulation key seeding every RNG subsystem")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&instrumentsPath, "instruments", DEFAULT_INSTRUMENTS_FILEPATH, "Instrument preset catalog (yaml)")
	rootCmd.PersistentFlags().StringVar(&instrumentName, "instrument", "wfirst", "Instrument preset name")

	for _, c := range []*cobra.Command{simulateCmd, selftestCmd} {
		c.Flags().Float64Var(&exposureTime, "exposure", 100, "Exposure time in seconds")
		c.Flags().Float64Var(&gain, "gain", 1.0, "Detector gain in electrons per ADU")
		c.Flags().Float64Var(&readNoise, "read-noise", 0, "Read noise in electrons RMS")
		c.Flags().Float64Var(&darkCurrent, "dark-current", 0, "Dark current in electrons/pixel/second")
		c.Flags().Float64Var(&biasLevel, "bias", 0, "Bias offset in ADU")
		c.Flags().Float64Var(&fullWell, "full-well", 0, "Saturation level in ADU (0 disables clipping)")
		c.Flags().Float64Var(&cosmicRate, "cosmic-rate", 0, "Cosmic-ray hits per frame")
		c.Flags().BoolVar(&noiseless, "noiseless", false, "Disable every randomized detector stage")
		c.Flags().IntVar(&sceneNPix, "scene-npix", 216, "Scene cube samples per side")
		c.Flags().Float64Var(&sceneFlux, "scene-flux", 100, "Flux per scene sample")
		c.Flags().IntVar(&neighborRadius, "neighbor-radius", 1, "Lenslet neighborhood radius for the joint solve")
	}
	simulateCmd.Flags().StringVar(&extractMode, "mode", "optimal", "Extraction mode (optimal, leastsquares)")
	simulateCmd.Flags().StringVar(&tracePlotPath, "trace-plot", "", "Write a trace scatter plot to this path")

	calibrateCmd.Flags().IntVar(&calFrames, "cal-frames", 5, "Number of monochromatic calibration exposures")
	calibrateCmd.Flags().Float64Var(&calFlux, "cal-flux", 2000, "Flux per PSFLet spot in a calibration frame")
	calibrateCmd.Flags().Float64Var(&calNoise, "cal-noise", 0, "Gaussian noise sigma added to calibration frames")
	calibrateCmd.Flags().StringVar(&tracePlotPath, "trace-plot", "", "Write a trace scatter plot to this path")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(selftestCmd)
}
