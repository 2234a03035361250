// Package postprocess turns raw model logits into a cleaned, labeled
// segmentation volume: softmax+argmax, per-class morphological
// cleanup, connected-component size filtering, and summary stats.
package postprocess

// ForegroundClasses are the non-background class labels, in the fixed
// processing order spec.md §4.6 names.
var ForegroundClasses = []int{1, 2, 3, 4}

// openingIterations is the class-specific binary-opening iteration
// count from spec.md §4.6 step 2.
var openingIterations = map[int]int{1: 1, 2: 2, 3: 1, 4: 1}

// minComponentSize is the class-specific minimum connected-component
// size (voxels) from spec.md §4.6 step 3.
var minComponentSize = map[int]int{1: 50, 2: 100, 3: 20, 4: 30}

// Segmentation is a labeled (H,W,D) integer volume.
type Segmentation struct {
	Shape  [3]int
	Labels []uint8
}

// NewSegmentation allocates an all-background labeled volume.
func NewSegmentation(shape [3]int) *Segmentation {
	n := shape[0] * shape[1] * shape[2]
	return &Segmentation{Shape: shape, Labels: make([]uint8, n)}
}

func (s *Segmentation) index(x, y, z int) int {
	return x + y*s.Shape[0] + z*s.Shape[0]*s.Shape[1]
}

func (s *Segmentation) At(x, y, z int) uint8 { return s.Labels[s.index(x, y, z)] }

func (s *Segmentation) Set(x, y, z int, v uint8) { s.Labels[s.index(x, y, z)] = v }

func (s *Segmentation) inBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < s.Shape[0] && y < s.Shape[1] && z < s.Shape[2]
}

// Stats summarizes a cleaned segmentation.
type Stats struct {
	ClassesPresent    []int
	VoxelCountByClass map[int]int
	TotalForeground   int
}
