package preprocess

import "github.com/brainvol/segforge/internal/volio"

// ResizeToTarget center-crops or zero-pads vol on each axis so its
// shape becomes exactly (TargetSize,TargetSize,TargetSize).
func ResizeToTarget(vol *volio.Volume) *volio.Volume {
	target := [3]int{TargetSize, TargetSize, TargetSize}
	out := volio.NewVolume(target, vol.Meta)

	// Offsets that center the smaller of (source, target) within the other.
	srcStart, dstStart, length := [3]int{}, [3]int{}, [3]int{}
	for axis := 0; axis < 3; axis++ {
		s, d := vol.Shape[axis], target[axis]
		if s >= d {
			srcStart[axis] = (s - d) / 2
			dstStart[axis] = 0
			length[axis] = d
		} else {
			srcStart[axis] = 0
			dstStart[axis] = (d - s) / 2
			length[axis] = s
		}
	}

	for z := 0; z < length[2]; z++ {
		for y := 0; y < length[1]; y++ {
			for x := 0; x < length[0]; x++ {
				v := vol.At(x+srcStart[0], y+srcStart[1], z+srcStart[2])
				out.Set(x+dstStart[0], y+dstStart[1], z+dstStart[2], v)
			}
		}
	}
	return out
}
