package preprocess

import (
	"testing"

	"github.com/brainvol/segforge/internal/volio"
)

func TestRescaleIntensity_ClipsAndRemaps(t *testing.T) {
	meta := volio.IdentityMetadata()
	vol := volio.NewVolume([3]int{1, 1, 3}, meta)
	vol.Set(0, 0, 0, -500) // clipped to aMin
	vol.Set(0, 0, 1, 1500) // midpoint of [0,3000]
	vol.Set(0, 0, 2, 9000) // clipped to aMax

	out := RescaleIntensity(vol, "t1n")
	if got := out.At(0, 0, 0); got != 0 {
		t.Errorf("clip-low = %v, want 0", got)
	}
	if got := out.At(0, 0, 1); got < 0.49 || got > 0.51 {
		t.Errorf("midpoint = %v, want ~0.5", got)
	}
	if got := out.At(0, 0, 2); got != 1 {
		t.Errorf("clip-high = %v, want 1", got)
	}
}

func TestResizeToTarget_PadsSmallerVolume(t *testing.T) {
	vol := volio.NewVolume([3]int{4, 4, 4}, volio.IdentityMetadata())
	for i := range vol.Data {
		vol.Data[i] = 1
	}
	out := ResizeToTarget(vol)
	if out.Shape != [3]int{TargetSize, TargetSize, TargetSize} {
		t.Fatalf("Shape = %v, want (%d,%d,%d)", out.Shape, TargetSize, TargetSize, TargetSize)
	}
	// Center should carry the original data; a far corner should be zero padding.
	center := TargetSize / 2
	if out.At(center, center, center) != 1 {
		t.Errorf("center voxel = %v, want 1", out.At(center, center, center))
	}
	if out.At(0, 0, 0) != 0 {
		t.Errorf("corner voxel = %v, want 0 (padding)", out.At(0, 0, 0))
	}
}

func TestResizeToTarget_CropsLargerVolume(t *testing.T) {
	vol := volio.NewVolume([3]int{200, 200, 200}, volio.IdentityMetadata())
	vol.Set(100, 100, 100, 42)
	out := ResizeToTarget(vol)
	if out.Shape != [3]int{TargetSize, TargetSize, TargetSize} {
		t.Fatalf("Shape = %v", out.Shape)
	}
	if out.At(TargetSize/2, TargetSize/2, TargetSize/2) != 42 {
		t.Errorf("expected centered source voxel to survive the crop")
	}
}

func TestForegroundBBox_AddsMarginAndClamps(t *testing.T) {
	vol := volio.NewVolume([3]int{20, 20, 20}, volio.IdentityMetadata())
	vol.Set(5, 5, 5, 1)
	vol.Set(8, 8, 8, 1)

	box := ForegroundBBox(vol)
	if box.minX != 0 || box.minY != 0 || box.minZ != 0 {
		// margin 10 around min(5) clamps to 0
		t.Errorf("min = (%d,%d,%d), want (0,0,0)", box.minX, box.minY, box.minZ)
	}
	if box.maxX != 18 { // 8+10=18, within 19 bound
		t.Errorf("maxX = %d, want 18", box.maxX)
	}
}

func TestForegroundBBox_AllZeroReturnsFullVolume(t *testing.T) {
	vol := volio.NewVolume([3]int{10, 10, 10}, volio.IdentityMetadata())
	box := ForegroundBBox(vol)
	if box.minX != 0 || box.maxX != 9 {
		t.Errorf("expected full-volume bbox on all-zero mask, got %+v", box)
	}
}

func TestCrop_ExtractsExactRegion(t *testing.T) {
	vol := volio.NewVolume([3]int{10, 10, 10}, volio.IdentityMetadata())
	vol.Set(3, 4, 5, 7)
	out := Crop(vol, bbox{minX: 2, minY: 3, minZ: 4, maxX: 6, maxY: 7, maxZ: 8})
	if out.Shape != [3]int{5, 5, 5} {
		t.Fatalf("Shape = %v, want (5,5,5)", out.Shape)
	}
	if out.At(1, 1, 1) != 7 {
		t.Errorf("cropped voxel = %v, want 7", out.At(1, 1, 1))
	}
}

func TestResample_IdentitySpacingIsNoOp(t *testing.T) {
	meta := volio.IdentityMetadata()
	vol := volio.NewVolume([3]int{4, 4, 4}, meta)
	vol.Set(1, 1, 1, 5)
	out := Resample(vol)
	if out.Shape != vol.Shape {
		t.Fatalf("Shape changed under identity resample: %v vs %v", out.Shape, vol.Shape)
	}
}

func TestReorientRAI_IdentityAffineIsStable(t *testing.T) {
	meta := volio.IdentityMetadata()
	vol := volio.NewVolume([3]int{3, 4, 5}, meta)
	vol.Set(1, 2, 3, 9)
	out := ReorientRAI(vol)
	if out.Meta.Orientation != "RAI" {
		t.Errorf("Orientation = %q, want RAI", out.Meta.Orientation)
	}
}

func TestTensor_ValidateShape(t *testing.T) {
	tensor := NewTensor(4)
	if err := tensor.ValidateShape(4); err != nil {
		t.Errorf("expected valid shape, got %v", err)
	}
	if err := tensor.ValidateShape(3); err == nil {
		t.Error("expected shape mismatch error for wrong channel count")
	}
}
