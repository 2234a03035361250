package preprocess

import "github.com/brainvol/segforge/internal/volio"

// intensityRange is a modality's source clip range and the normalized
// output range it linearly remaps onto.
type intensityRange struct {
	aMin, aMax float32
	bMin, bMax float32
}

// intensityRanges is spec.md §4.4's fixed per-modality rescale table.
var intensityRanges = map[string]intensityRange{
	"t1n": {aMin: 0, aMax: 3000, bMin: 0, bMax: 1},
	"t1c": {aMin: 0, aMax: 3000, bMin: 0, bMax: 1},
	"t2w": {aMin: 0, aMax: 3500, bMin: 0, bMax: 1},
	"t2f": {aMin: 0, aMax: 3500, bMin: 0, bMax: 1},
}

// RescaleIntensity clips vol's values to [aMin,aMax] then linearly
// remaps onto [bMin,bMax], per modality's fixed range.
func RescaleIntensity(vol *volio.Volume, modalityTag string) *volio.Volume {
	r := intensityRanges[modalityTag]
	out := volio.NewVolume(vol.Shape, vol.Meta)
	span := r.aMax - r.aMin
	for i, v := range vol.Data {
		if v < r.aMin {
			v = r.aMin
		}
		if v > r.aMax {
			v = r.aMax
		}
		norm := float32(0)
		if span != 0 {
			norm = (v - r.aMin) / span
		}
		out.Data[i] = r.bMin + norm*(r.bMax-r.bMin)
	}
	return out
}
