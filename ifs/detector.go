package ifs

import (
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

// Expose applies the sensor noise chain to a noiseless photo-electron image
// and returns the detector frame in ADU. The input frame is not modified.
//
// Stage order: shot noise -> dark current -> cosmic rays -> read noise ->
// gain conversion -> bias offset -> full-well clipping. Each randomized
// stage draws from its own RNG subsystem so toggling one stage never
// perturbs another. Saturation clipping is terminal per pixel: no charge
// bleed is modeled.
func Expose(raw *Frame, cfg DetectorConfig, rng *PartitionedRNG) *Frame {
	frame := raw.Clone()

	if cfg.EnableShot {
		src := rng.ForSubsystem(SubsystemShot)
		for i, v := range frame.Pix {
			if v <= 0 {
				frame.Pix[i] = 0
				continue
			}
			frame.Pix[i] = distuv.Poisson{Lambda: v, Src: src}.Rand()
		}
	}

	if cfg.EnableDark && cfg.DarkCurrent > 0 && cfg.ExposureTime > 0 {
		src := rng.ForSubsystem(SubsystemDark)
		mean := cfg.DarkCurrent * cfg.ExposureTime
		for i := range frame.Pix {
			frame.Pix[i] += distuv.Poisson{Lambda: mean, Src: src}.Rand()
		}
	}

	if cfg.EnableCosmic && cfg.CosmicRate > 0 {
		injectCosmicRays(frame, cfg, rng.ForSubsystem(SubsystemCosmic))
	}

	if cfg.EnableRead && cfg.ReadNoise > 0 {
		dist := distuv.Normal{Mu: 0, Sigma: cfg.ReadNoise, Src: rng.ForSubsystem(SubsystemRead)}
		for i := range frame.Pix {
			frame.Pix[i] += dist.Rand()
		}
	}

	saturated := 0
	for i := range frame.Pix {
		v := frame.Pix[i]/cfg.Gain + cfg.Bias
		if cfg.FullWell > 0 && v > cfg.FullWell {
			v = cfg.FullWell
			saturated++
		}
		frame.Pix[i] = v
	}
	if saturated > 0 {
		logrus.Warnf("exposure saturated %d pixels at full well %.0f ADU", saturated, cfg.FullWell)
	}
	return frame
}

// injectCosmicRays deposits a Poisson-distributed number of short bright
// streaks. Hit amplitudes sit near full well in electrons, the worst case
// for downstream extraction.
func injectCosmicRays(frame *Frame, cfg DetectorConfig, src rand.Source) {
	hits := int(distuv.Poisson{Lambda: cfg.CosmicRate, Src: src}.Rand())
	u := distuv.Uniform{Min: 0, Max: 1, Src: src}
	fullWellE := cfg.FullWell * cfg.Gain
	if fullWellE <= 0 {
		fullWellE = 1e5
	}
	for h := 0; h < hits; h++ {
		x := int(u.Rand() * float64(frame.Nx))
		y := int(u.Rand() * float64(frame.Ny))
		length := 1 + int(u.Rand()*3)
		dx, dy := 1, 0
		if u.Rand() < 0.5 {
			dx, dy = 0, 1
		}
		amp := (0.3 + 0.7*u.Rand()) * fullWellE
		for s := 0; s < length; s++ {
			frame.Add(x+s*dx, y+s*dy, amp)
		}
	}
}

// ToElectrons inverts the exposure's deterministic gain and bias conversion,
// returning a copy of the frame in photo-electron units. Extraction inverts
// the optical model in deposition (photo-electron) units, so exposed frames
// pass through here before any inversion. Clipped pixels stay clipped; no
// charge is recovered past full well.
func (c DetectorConfig) ToElectrons(frame *Frame) *Frame {
	out := frame.Clone()
	for i, v := range out.Pix {
		out.Pix[i] = (v - c.Bias) * c.Gain
	}
	return out
}

// VarianceMap returns the expected per-pixel variance of an exposure of the
// given noiseless photo-electron image, in photo-electrons squared, under the
// enabled noise stages. It matches frames converted back through ToElectrons,
// and is the variance estimate optimal extraction weights by when no
// externally measured variance is available.
func VarianceMap(raw *Frame, cfg DetectorConfig) *Frame {
	v := NewFrame(raw.Nx, raw.Ny)
	dark := cfg.DarkCurrent * cfg.ExposureTime
	for i, e := range raw.Pix {
		var sigma2 float64
		if cfg.EnableShot {
			sigma2 += math.Max(e, 0)
		}
		if cfg.EnableDark {
			sigma2 += dark
		}
		if cfg.EnableRead {
			sigma2 += cfg.ReadNoise * cfg.ReadNoise
		}
		v.Pix[i] = sigma2
	}
	return v
}
