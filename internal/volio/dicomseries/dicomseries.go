// Package dicomseries assembles a single-modality DICOM slice series
// (one file per Z position) into the same volio.Volume the NIfTI reader
// produces, so the rest of the pipeline never has to distinguish the
// two source formats.
package dicomseries

import (
	"fmt"
	"sort"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/brainvol/segforge/internal/volio"
)

// slice is one parsed DICOM instance pending assembly into a volume.
type slice struct {
	instanceNumber int
	zPosition      float64
	rows, cols     int
	pixelSpacing   [2]float64
	sliceThickness float64
	pixels         []int32
}

// Read parses every DICOM file in paths as a single series and stacks
// them along Z, ordered by ImagePositionPatient (falling back to
// InstanceNumber when position tags are absent).
func Read(paths []string) (*volio.Volume, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("dicomseries: no files supplied")
	}

	slices := make([]slice, 0, len(paths))
	for _, p := range paths {
		s, err := readSlice(p)
		if err != nil {
			return nil, fmt.Errorf("dicomseries: %s: %w", p, err)
		}
		slices = append(slices, s)
	}

	rows, cols := slices[0].rows, slices[0].cols
	for _, s := range slices {
		if s.rows != rows || s.cols != cols {
			return nil, fmt.Errorf("dicomseries: inconsistent slice dimensions (%dx%d vs %dx%d)", s.rows, s.cols, rows, cols)
		}
	}

	sort.SliceStable(slices, func(i, j int) bool {
		if slices[i].zPosition != slices[j].zPosition {
			return slices[i].zPosition < slices[j].zPosition
		}
		return slices[i].instanceNumber < slices[j].instanceNumber
	})

	zSpacing := slices[0].sliceThickness
	if len(slices) > 1 {
		if d := slices[1].zPosition - slices[0].zPosition; d > 0 {
			zSpacing = d
		}
	}
	if zSpacing <= 0 {
		zSpacing = 1
	}

	meta := volio.Metadata{
		Spacing:     [3]float64{slices[0].pixelSpacing[0], slices[0].pixelSpacing[1], zSpacing},
		Orientation: "RAI",
	}
	meta.Affine[0][0] = meta.Spacing[0]
	meta.Affine[1][1] = meta.Spacing[1]
	meta.Affine[2][2] = meta.Spacing[2]
	meta.Affine[3][3] = 1

	shape := [3]int{cols, rows, len(slices)}
	vol := volio.NewVolume(shape, meta)
	for z, s := range slices {
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				vol.Set(x, y, z, float32(s.pixels[y*cols+x]))
			}
		}
	}
	return vol, nil
}

func readSlice(path string) (slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return slice{}, fmt.Errorf("parse: %w", err)
	}

	var s slice
	if el, err := ds.FindElementByTag(tag.Rows); err == nil {
		s.rows = intFromElement(el)
	}
	if el, err := ds.FindElementByTag(tag.Columns); err == nil {
		s.cols = intFromElement(el)
	}
	if el, err := ds.FindElementByTag(tag.InstanceNumber); err == nil {
		s.instanceNumber = intFromElement(el)
	}
	if el, err := ds.FindElementByTag(tag.PixelSpacing); err == nil {
		vals := floatsFromElement(el)
		if len(vals) >= 2 {
			s.pixelSpacing = [2]float64{vals[0], vals[1]}
		}
	}
	if s.pixelSpacing == ([2]float64{}) {
		s.pixelSpacing = [2]float64{1, 1}
	}
	if el, err := ds.FindElementByTag(tag.SliceThickness); err == nil {
		vals := floatsFromElement(el)
		if len(vals) >= 1 {
			s.sliceThickness = vals[0]
		}
	}
	if el, err := ds.FindElementByTag(tag.ImagePositionPatient); err == nil {
		vals := floatsFromElement(el)
		if len(vals) >= 3 {
			s.zPosition = vals[2]
		}
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return slice{}, fmt.Errorf("missing pixel data: %w", err)
	}
	pixelInfo, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(pixelInfo.Frames) == 0 {
		return slice{}, fmt.Errorf("pixel data element has no frames")
	}
	native, err := pixelInfo.Frames[0].GetNativeFrame()
	if err != nil {
		return slice{}, fmt.Errorf("decode native frame: %w", err)
	}
	if s.rows == 0 {
		s.rows = native.Rows
	}
	if s.cols == 0 {
		s.cols = native.Cols
	}
	s.pixels = make([]int32, len(native.Data))
	for i, px := range native.Data {
		s.pixels[i] = int32(px[0])
	}
	return s, nil
}

func intFromElement(el *dicom.Element) int {
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0]
		}
	case []string:
		if len(v) > 0 {
			var n int
			fmt.Sscanf(v[0], "%d", &n)
			return n
		}
	}
	return 0
}

func floatsFromElement(el *dicom.Element) []float64 {
	var out []float64
	switch v := el.Value.GetValue().(type) {
	case []string:
		for _, s := range v {
			var f float64
			fmt.Sscanf(s, "%g", &f)
			out = append(out, f)
		}
	}
	return out
}
