package preprocess

import "github.com/brainvol/segforge/internal/volio"

// foregroundMargin is the fixed margin (voxels) added around the
// foreground bounding box before cropping.
const foregroundMargin = 10

// bbox is an inclusive voxel bounding box.
type bbox struct {
	minX, minY, minZ int
	maxX, maxY, maxZ int
}

// ForegroundBBox finds the bounding box of positive voxels in mask,
// expanded by foregroundMargin and clamped to mask's extent.
func ForegroundBBox(mask *volio.Volume) bbox {
	b := bbox{minX: mask.Shape[0], minY: mask.Shape[1], minZ: mask.Shape[2]}
	found := false
	for z := 0; z < mask.Shape[2]; z++ {
		for y := 0; y < mask.Shape[1]; y++ {
			for x := 0; x < mask.Shape[0]; x++ {
				if mask.At(x, y, z) <= 0 {
					continue
				}
				found = true
				if x < b.minX {
					b.minX = x
				}
				if y < b.minY {
					b.minY = y
				}
				if z < b.minZ {
					b.minZ = z
				}
				if x > b.maxX {
					b.maxX = x
				}
				if y > b.maxY {
					b.maxY = y
				}
				if z > b.maxZ {
					b.maxZ = z
				}
			}
		}
	}
	if !found {
		return bbox{0, 0, 0, mask.Shape[0] - 1, mask.Shape[1] - 1, mask.Shape[2] - 1}
	}

	b.minX = clampInt(b.minX-foregroundMargin, 0, mask.Shape[0]-1)
	b.minY = clampInt(b.minY-foregroundMargin, 0, mask.Shape[1]-1)
	b.minZ = clampInt(b.minZ-foregroundMargin, 0, mask.Shape[2]-1)
	b.maxX = clampInt(b.maxX+foregroundMargin, 0, mask.Shape[0]-1)
	b.maxY = clampInt(b.maxY+foregroundMargin, 0, mask.Shape[1]-1)
	b.maxZ = clampInt(b.maxZ+foregroundMargin, 0, mask.Shape[2]-1)
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Crop extracts the voxels within b from vol.
func Crop(vol *volio.Volume, b bbox) *volio.Volume {
	shape := [3]int{b.maxX - b.minX + 1, b.maxY - b.minY + 1, b.maxZ - b.minZ + 1}
	out := volio.NewVolume(shape, vol.Meta)
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				out.Set(x, y, z, vol.At(x+b.minX, y+b.minY, z+b.minZ))
			}
		}
	}
	return out
}
