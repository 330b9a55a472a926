package cmd

import (
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ifs-sim/ifs-sim/ifs"
)

// selftestTolerance bounds the worst per-sample relative error a noiseless
// round trip is allowed before the self test fails.
const selftestTolerance = 1e-3

// selftestCmd pushes a noiseless uniform scene through the full forward and
// inverse chain and checks that every extracted sample matches the flux that
// went in. The check always runs the least-squares inverse: at realistic
// resolving powers adjacent spectral samples blend along the trace, and only
// the joint solve is unbiased there.
var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Verify the noiseless forward/inverse round trip",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		preset := mustPreset()
		instCfg, grid, lib, err := BuildInstrument(preset)
		if err != nil {
			logrus.Fatalf("invalid instrument preset %q: %v", preset.Name, err)
		}
		mode := ifs.ModeLeastSquares

		lams, _ := ifs.WaveList(instCfg.MinLam, instCfg.MaxLam, instCfg.Resolution)
		sol := ifs.IdealSolution(grid, instCfg.MinLam, instCfg.MaxLam)
		scene := ifs.UniformSceneCube(lams, sceneNPix, sceneFlux)

		// the sampler's own output is the ground truth the extraction must
		// reproduce
		expected, err := ifs.Sample(scene, grid, ifs.SampleAreaWeighted)
		if err != nil {
			logrus.Fatalf("self test: %v", err)
		}

		det := buildDetectorConfig().Noiseless()
		pipeline, err := ifs.NewPipeline(instCfg, det,
			ifs.ExtractConfig{NeighborRadius: neighborRadius}, mode, grid, lib, sol,
			ifs.NewPartitionedRNG(ifs.NewSimulationKey(seed)))
		if err != nil {
			logrus.Fatalf("pipeline setup: %v", err)
		}
		cube, _, err := pipeline.Run(scene)
		if err != nil {
			logrus.Fatalf("self test run: %v", err)
		}

		worst := 0.0
		for id := range cube.Spectra {
			for si, flux := range cube.Spectra[id].Flux {
				if cube.Spectra[id].NoSolution[si] {
					logrus.Fatalf("self test: lenslet %d slice %d has no solution", id, si)
				}
				want := expected.Flux[id][si]
				if want == 0 {
					continue
				}
				if e := math.Abs(flux-want) / math.Abs(want); e > worst {
					worst = e
				}
			}
		}
		if worst > selftestTolerance {
			logrus.Fatalf("self test FAILED: worst relative error %.3g exceeds %.1g", worst, selftestTolerance)
		}
		logrus.Infof("self test passed: %s extraction, worst relative error %.3g", mode, worst)
	},
}
