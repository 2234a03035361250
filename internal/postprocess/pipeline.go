package postprocess

import (
	"math"

	"github.com/brainvol/segforge/internal/apierr"
)

// Run executes spec.md §4.6's pipeline over raw channel-first class
// logits (shape classes*shape[0]*shape[1]*shape[2], flat in
// x+y*S+z*S*S+c*S*S*S order, matching preprocess.Tensor's layout).
func Run(studyID string, logits []float32, classes int, shape [3]int) (*Segmentation, Stats, error) {
	n := shape[0] * shape[1] * shape[2]
	if len(logits) != n*classes {
		return nil, Stats{}, apierr.New(apierr.InferenceFailed, "prediction tensor size %d != classes(%d)*voxels(%d)", len(logits), classes, n).WithStudy(studyID)
	}

	seg := argmaxVolume(logits, classes, shape)

	for _, class := range ForegroundClasses {
		if class >= classes {
			continue
		}
		mask := maskForClass(seg, class)
		mask = binaryOpening(mask, openingIterations[class])
		mask = fillHoles(mask)
		mask = filterSmallComponents(mask, minComponentSize[class])
		writeClassBack(seg, mask, class)
	}

	return seg, computeStats(seg), nil
}

// argmaxVolume takes the argmax along the class axis directly over the
// logits, yielding an (H,W,D) label volume. Softmax is not computed
// here: it is monotonic per voxel, so it would not change the argmax.
func argmaxVolume(logits []float32, classes int, shape [3]int) *Segmentation {
	seg := NewSegmentation(shape)
	s := shape[0] * shape[1] * shape[2]

	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				voxel := x + y*shape[0] + z*shape[0]*shape[1]
				best := 0
				bestVal := logits[voxel]
				for c := 1; c < classes; c++ {
					v := logits[voxel+c*s]
					if v > bestVal {
						bestVal = v
						best = c
					}
				}
				seg.Set(x, y, z, uint8(best))
			}
		}
	}
	return seg
}

// softmax1D is exposed for tests asserting the normalization math,
// even though argmaxVolume only needs the ranking it preserves.
func softmax1D(logits []float32) []float32 {
	maxV := float32(math.Inf(-1))
	for _, v := range logits {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64(v - maxV)))
		out[i] = e
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func writeClassBack(seg *Segmentation, cleaned *binaryMask, class int) {
	for z := 0; z < seg.Shape[2]; z++ {
		for y := 0; y < seg.Shape[1]; y++ {
			for x := 0; x < seg.Shape[0]; x++ {
				wasClass := int(seg.At(x, y, z)) == class
				isClass := cleaned.at(x, y, z)
				switch {
				case isClass:
					seg.Set(x, y, z, uint8(class))
				case wasClass && !isClass:
					seg.Set(x, y, z, 0)
				}
			}
		}
	}
}

func computeStats(seg *Segmentation) Stats {
	counts := make(map[int]int)
	total := 0
	for _, v := range seg.Labels {
		if v == 0 {
			continue
		}
		counts[int(v)]++
		total++
	}
	var present []int
	for class := range counts {
		present = append(present, class)
	}
	return Stats{ClassesPresent: present, VoxelCountByClass: counts, TotalForeground: total}
}
