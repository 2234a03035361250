// Package volio reads and writes volumetric medical images while
// preserving spatial metadata (affine, voxel spacing, orientation).
// The on-disk format is treated as an implementation detail behind
// this package's Store and its nifti/dicomseries subpackages.
package volio

import "fmt"

// Metadata carries the spatial information a volume must round-trip.
type Metadata struct {
	Affine      [4][4]float64
	Spacing     [3]float64
	Orientation string
}

// IdentityMetadata returns metadata for a volume with no known spatial
// reference: identity affine, 1mm isotropic spacing, RAI orientation.
func IdentityMetadata() Metadata {
	m := Metadata{Spacing: [3]float64{1, 1, 1}, Orientation: "RAI"}
	for i := 0; i < 4; i++ {
		m.Affine[i][i] = 1
	}
	return m
}

// Volume is a 3-D scalar array with its spatial metadata. Data is stored
// flat in (x + y*Shape[0] + z*Shape[0]*Shape[1]) order.
type Volume struct {
	Shape [3]int
	Data  []float32
	Meta  Metadata
}

// NewVolume allocates a zeroed volume of the given shape.
func NewVolume(shape [3]int, meta Metadata) *Volume {
	n := shape[0] * shape[1] * shape[2]
	return &Volume{Shape: shape, Data: make([]float32, n), Meta: meta}
}

// At returns the value at voxel (x,y,z).
func (v *Volume) At(x, y, z int) float32 {
	return v.Data[v.index(x, y, z)]
}

// Set assigns the value at voxel (x,y,z).
func (v *Volume) Set(x, y, z int, val float32) {
	v.Data[v.index(x, y, z)] = val
}

func (v *Volume) index(x, y, z int) int {
	return x + y*v.Shape[0] + z*v.Shape[0]*v.Shape[1]
}

// NumVoxels returns the total voxel count.
func (v *Volume) NumVoxels() int {
	return v.Shape[0] * v.Shape[1] * v.Shape[2]
}

// ValidateSpatial returns an error if the volume has fewer than three
// spatial dimensions of positive size.
func ValidateSpatial(shape [3]int) error {
	for i, s := range shape {
		if s <= 0 {
			return fmt.Errorf("dimensionality error: axis %d has size %d", i, s)
		}
	}
	return nil
}
