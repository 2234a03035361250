package coordinator

import (
	"github.com/brainvol/segforge/internal/overlay"
	"github.com/brainvol/segforge/internal/postprocess"
	"github.com/brainvol/segforge/internal/preprocess"
	"github.com/brainvol/segforge/internal/volio"
	"github.com/brainvol/segforge/internal/volio/nifti"
)

// preprocessBaseMeta builds the metadata a cached artifact should
// carry: the pipeline resamples everything to an isotropic grid, so
// the preprocessed tensor's voxel spacing is the snapshot's target
// spacing on an otherwise-identity grid.
func preprocessBaseMeta(t *preprocess.Tensor, snapshot preprocess.ConfigSnapshot) volio.Metadata {
	meta := volio.IdentityMetadata()
	meta.Spacing = snapshot.TargetSpacing
	for axis := 0; axis < 3; axis++ {
		meta.Affine[axis][axis] = snapshot.TargetSpacing[axis]
	}
	return meta
}

// channelZeroVolume extracts channel 0 (t1n, the canonical crop-mask
// channel) of the preprocessed tensor as a plain Volume, the overlay
// renderer's required base.
func channelZeroVolume(t *preprocess.Tensor, snapshot preprocess.ConfigSnapshot) *volio.Volume {
	shape := [3]int{t.Size, t.Size, t.Size}
	vol := volio.NewVolume(shape, preprocessBaseMeta(t, snapshot))
	for z := 0; z < t.Size; z++ {
		for y := 0; y < t.Size; y++ {
			for x := 0; x < t.Size; x++ {
				vol.Set(x, y, z, t.At(0, x, y, z))
			}
		}
	}
	return vol
}

// segmentationVolume turns an integer label volume into a float32
// Volume suitable for the NIfTI codec.
func segmentationVolume(seg *postprocess.Segmentation, meta volio.Metadata) *volio.Volume {
	vol := volio.NewVolume(seg.Shape, meta)
	for i, label := range seg.Labels {
		vol.Data[i] = float32(label)
	}
	return vol
}

// encodeOverlayNIfTI projects the rendered RGB overlay to a
// single-channel luma volume for the cached NIfTI artifact, since
// NIfTI's voxel model is scalar, not RGB. Full-color previews are
// served separately via ExportSlicePNG.
func encodeOverlayNIfTI(ov *overlay.Volume, meta volio.Metadata) ([]byte, error) {
	vol := volio.NewVolume(ov.Shape, meta)
	for z := 0; z < ov.Shape[2]; z++ {
		for y := 0; y < ov.Shape[1]; y++ {
			for x := 0; x < ov.Shape[0]; x++ {
				r, g, b := ov.At(x, y, z)
				luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
				vol.Set(x, y, z, float32(luma))
			}
		}
	}
	return nifti.EncodeGzip(vol)
}
