package preprocess

import (
	"math"

	"github.com/brainvol/segforge/internal/volio"
)

// axis families: 0 = R/L, 1 = A/P, 2 = S/I.
var positiveLetter = [3]byte{'R', 'A', 'S'}
var negativeLetter = [3]byte{'L', 'P', 'I'}

// desiredSign is the sign the canonical "RAI" target wants for each
// family: positive (toward R, toward A), negative (toward I).
var desiredSign = [3]float64{1, 1, -1}

// ReorientRAI permutes and flips vol so its axes match the canonical
// "RAI" orientation code, adjusting the affine to match.
func ReorientRAI(vol *volio.Volume) *volio.Volume {
	family, sign := axisFamilies(vol.Meta.Affine)

	// perm[t] = source axis index supplying canonical target axis t.
	var perm [3]int
	var flip [3]bool
	for j := 0; j < 3; j++ {
		t := family[j]
		perm[t] = j
		flip[t] = sign[j] != desiredSign[t]
	}

	newShape := [3]int{vol.Shape[perm[0]], vol.Shape[perm[1]], vol.Shape[perm[2]]}

	meta := vol.Meta
	meta.Orientation = "RAI"
	meta.Affine = reorientedAffine(vol.Meta.Affine, perm, flip, newShape)
	meta.Spacing = [3]float64{vol.Meta.Spacing[perm[0]], vol.Meta.Spacing[perm[1]], vol.Meta.Spacing[perm[2]]}

	out := volio.NewVolume(newShape, meta)
	var src [3]int
	for oz := 0; oz < newShape[2]; oz++ {
		for oy := 0; oy < newShape[1]; oy++ {
			for ox := 0; ox < newShape[0]; ox++ {
				o := [3]int{ox, oy, oz}
				for t := 0; t < 3; t++ {
					idx := o[t]
					if flip[t] {
						idx = newShape[t] - 1 - idx
					}
					src[perm[t]] = idx
				}
				out.Set(ox, oy, oz, vol.At(src[0], src[1], src[2]))
			}
		}
	}
	return out
}

// axisFamilies classifies each image axis (column of the affine's 3x3
// linear part) by which world axis (R/L=0, A/P=1, S/I=2) it is most
// aligned with, and the sign of that alignment.
func axisFamilies(affine [4][4]float64) (family [3]int, sign [3]float64) {
	for j := 0; j < 3; j++ {
		best := 0
		bestMag := math.Abs(affine[0][j])
		for row := 1; row < 3; row++ {
			mag := math.Abs(affine[row][j])
			if mag > bestMag {
				bestMag = mag
				best = row
			}
		}
		family[j] = best
		if affine[best][j] < 0 {
			sign[j] = -1
		} else {
			sign[j] = 1
		}
	}
	return family, sign
}

func reorientedAffine(old [4][4]float64, perm [3]int, flip [3]bool, newShape [3]int) [4][4]float64 {
	var out [4][4]float64
	trans := [3]float64{old[0][3], old[1][3], old[2][3]}

	for t := 0; t < 3; t++ {
		j := perm[t]
		col := [3]float64{old[0][j], old[1][j], old[2][j]}
		if flip[t] {
			for r := 0; r < 3; r++ {
				trans[r] += col[r] * float64(newShape[t]-1)
				out[r][t] = -col[r]
			}
		} else {
			for r := 0; r < 3; r++ {
				out[r][t] = col[r]
			}
		}
	}
	for r := 0; r < 3; r++ {
		out[r][3] = trans[r]
	}
	out[3][3] = 1
	return out
}
