// Package synth generates synthetic brain volumes for tests: complete
// four-modality studies with plausible per-modality intensity profiles
// and an optional lesion, written straight to the .nii/.nii.gz layout
// the ingest and preprocessing packages expect.
package synth

import (
	"math/rand/v2"

	"github.com/brainvol/segforge/internal/modality"
)

// profile describes one canonical modality's synthetic intensity
// behavior: background level, brain-tissue level, and how much a
// lesion brightens or darkens relative to surrounding tissue. These
// stand in for the scanner/sequence parameters a real acquisition
// would carry (c.f. T1/T2 contrast weighting) without modeling MR
// physics.
type profile struct {
	background   float32
	tissueBase   float32
	tissueJitter float32
	lesionDelta  float32
}

var profiles = map[string]profile{
	modality.T1N: {background: 10, tissueBase: 600, tissueJitter: 40, lesionDelta: -150},
	modality.T1C: {background: 10, tissueBase: 650, tissueJitter: 40, lesionDelta: 400},
	modality.T2W: {background: 15, tissueBase: 900, tissueJitter: 60, lesionDelta: 250},
	modality.T2F: {background: 15, tissueBase: 950, tissueJitter: 60, lesionDelta: 500},
}

// sample returns a voxel intensity for this profile given whether the
// voxel falls inside the brain and whether it falls inside the lesion
// sphere.
func (p profile) sample(rng *rand.Rand, insideBrain, insideLesion bool) float32 {
	if !insideBrain {
		return p.background + rng.Float32()*p.background*0.2
	}
	val := p.tissueBase + (rng.Float32()*2-1)*p.tissueJitter
	if insideLesion {
		val += p.lesionDelta
	}
	if val < 0 {
		val = 0
	}
	return val
}
