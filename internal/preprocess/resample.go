package preprocess

import "github.com/brainvol/segforge/internal/volio"

// targetSpacing is the fixed isotropic voxel spacing every volume is
// resampled to, in millimeters.
var targetSpacing = [3]float64{1.0, 1.0, 1.0}

// Resample trilinearly resamples vol onto a grid with targetSpacing,
// preserving physical extent.
func Resample(vol *volio.Volume) *volio.Volume {
	spacing := vol.Meta.Spacing
	newShape := [3]int{
		scaledDim(vol.Shape[0], spacing[0], targetSpacing[0]),
		scaledDim(vol.Shape[1], spacing[1], targetSpacing[1]),
		scaledDim(vol.Shape[2], spacing[2], targetSpacing[2]),
	}

	meta := vol.Meta
	meta.Spacing = targetSpacing
	out := volio.NewVolume(newShape, meta)

	scale := [3]float64{
		spacing[0] / targetSpacing[0],
		spacing[1] / targetSpacing[1],
		spacing[2] / targetSpacing[2],
	}

	for z := 0; z < newShape[2]; z++ {
		srcZ := float64(z) * scale[2]
		for y := 0; y < newShape[1]; y++ {
			srcY := float64(y) * scale[1]
			for x := 0; x < newShape[0]; x++ {
				srcX := float64(x) * scale[0]
				out.Set(x, y, z, trilinearSample(vol, srcX, srcY, srcZ))
			}
		}
	}
	return out
}

func scaledDim(n int, srcSpacing, dstSpacing float64) int {
	if srcSpacing <= 0 {
		srcSpacing = 1
	}
	d := int(float64(n)*srcSpacing/dstSpacing + 0.5)
	if d < 1 {
		d = 1
	}
	return d
}

func trilinearSample(vol *volio.Volume, x, y, z float64) float32 {
	x0, y0, z0 := int(x), int(y), int(z)
	x1, y1, z1 := x0+1, y0+1, z0+1

	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)

	v000 := safeAt(vol, x0, y0, z0)
	v100 := safeAt(vol, x1, y0, z0)
	v010 := safeAt(vol, x0, y1, z0)
	v110 := safeAt(vol, x1, y1, z0)
	v001 := safeAt(vol, x0, y0, z1)
	v101 := safeAt(vol, x1, y0, z1)
	v011 := safeAt(vol, x0, y1, z1)
	v111 := safeAt(vol, x1, y1, z1)

	c00 := lerp(v000, v100, fx)
	c10 := lerp(v010, v110, fx)
	c01 := lerp(v001, v101, fx)
	c11 := lerp(v011, v111, fx)

	c0 := lerp(c00, c10, fy)
	c1 := lerp(c01, c11, fy)

	return lerp(c0, c1, fz)
}

func safeAt(vol *volio.Volume, x, y, z int) float32 {
	if x < 0 || y < 0 || z < 0 || x >= vol.Shape[0] || y >= vol.Shape[1] || z >= vol.Shape[2] {
		return 0
	}
	return vol.At(x, y, z)
}

func lerp(a, b float32, t float64) float32 {
	return a + float32(t)*(b-a)
}
