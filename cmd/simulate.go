package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ifs-sim/ifs-sim/ifs"
)

// buildDetectorConfig assembles the noise chain from CLI flags.
func buildDetectorConfig() ifs.DetectorConfig {
	det := ifs.NewDetectorConfig(exposureTime, gain, readNoise, darkCurrent, biasLevel, fullWell)
	det.CosmicRate = cosmicRate
	det.EnableCosmic = cosmicRate > 0
	if noiseless {
		det = det.Noiseless()
	}
	return det
}

// simulateCmd runs the forward simulation and extracts spectra back out of
// the exposed frame.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate an IFS exposure of a uniform scene and extract its spectra",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		preset := mustPreset()
		instCfg, grid, lib, err := BuildInstrument(preset)
		if err != nil {
			logrus.Fatalf("invalid instrument preset %q: %v", preset.Name, err)
		}

		mode, err := ifs.ParseExtractMode(extractMode)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		lams, _ := ifs.WaveList(instCfg.MinLam, instCfg.MaxLam, instCfg.Resolution)
		sol := ifs.IdealSolution(grid, instCfg.MinLam, instCfg.MaxLam)
		rng := ifs.NewPartitionedRNG(ifs.NewSimulationKey(seed))

		pipeline, err := ifs.NewPipeline(instCfg, buildDetectorConfig(),
			ifs.ExtractConfig{NeighborRadius: neighborRadius}, mode, grid, lib, sol, rng)
		if err != nil {
			logrus.Fatalf("pipeline setup: %v", err)
		}

		logrus.Infof("Simulating %q: %dx%d lenslets, %d spectral samples, seed=%d",
			preset.Name, grid.NLens, grid.NLens, len(lams), seed)

		scene := ifs.UniformSceneCube(lams, sceneNPix, sceneFlux)
		startTime := time.Now()
		cube, _, err := pipeline.Run(scene)
		if err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}

		pipeline.Metrics.Print()
		for _, failure := range cube.Failures {
			logrus.Warnf("extraction: %v", failure)
		}

		if tracePlotPath != "" {
			if err := ifs.TracePlot(sol, lams, tracePlotPath); err != nil {
				logrus.Warnf("trace plot: %v", err)
			} else {
				logrus.Infof("trace plot written to %s", tracePlotPath)
			}
		}
		logrus.Infof("Simulation complete in %v.", time.Since(startTime))
	},
}
