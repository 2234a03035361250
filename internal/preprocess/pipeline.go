// Package preprocess implements the fixed nine-step pipeline that
// turns a resolved modality mapping into the 4-channel tensor the
// model manager expects.
package preprocess

import (
	"path/filepath"

	"github.com/brainvol/segforge/internal/apierr"
	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/volio"
)

// ConfigSnapshot records the parameters this run of the pipeline used,
// so a cached result can be traced back to the settings that produced it.
type ConfigSnapshot struct {
	TargetSpacing [3]float64
	TargetShape   [3]int
	ForegroundMarginVoxels int
	ChannelOrder  []string
}

func snapshot() ConfigSnapshot {
	return ConfigSnapshot{
		TargetSpacing:          targetSpacing,
		TargetShape:            [3]int{TargetSize, TargetSize, TargetSize},
		ForegroundMarginVoxels: foregroundMargin,
		ChannelOrder:           append([]string(nil), modality.CanonicalOrder...),
	}
}

// Run executes the nine fixed steps over the volumes named in mapping
// (resolved relative to folder), returning the stacked tensor.
func Run(studyID string, folder string, mapping modality.Mapping, store *volio.Store) (*Tensor, ConfigSnapshot, error) {
	for _, tag := range modality.CanonicalOrder {
		if _, ok := mapping[tag]; !ok {
			return nil, ConfigSnapshot{}, apierr.New(apierr.BadInput, "missing modality %s", tag).WithStudy(studyID)
		}
	}

	loaded := make(map[string]*volio.Volume, len(modality.CanonicalOrder))
	for _, tag := range modality.CanonicalOrder {
		path := mapping[tag]
		if !filepath.IsAbs(path) {
			path = filepath.Join(folder, filepath.Base(path))
		}
		vol, err := store.LoadFile(path)
		if err != nil {
			return nil, ConfigSnapshot{}, apierr.Wrap(apierr.IOFailure, err, "load %s volume", tag).WithStudy(studyID)
		}
		loaded[tag] = vol
	}

	processed := make(map[string]*volio.Volume, len(loaded))
	for tag, vol := range loaded {
		v := Resample(vol)
		v = ReorientRAI(v)
		v = RescaleIntensity(v, tag)
		processed[tag] = v
	}

	maskSource, ok := processed[modality.T1N]
	if !ok {
		return nil, ConfigSnapshot{}, apierr.New(apierr.PreprocessError, "t1n volume unavailable for crop mask").WithStudy(studyID)
	}
	box := ForegroundBBox(maskSource)

	tensor := NewTensor(len(modality.CanonicalOrder))
	for c, tag := range modality.CanonicalOrder {
		v := Crop(processed[tag], box)
		v = ResizeToTarget(v)
		writeChannel(tensor, c, v)
	}

	if err := tensor.ValidateShape(len(modality.CanonicalOrder)); err != nil {
		return nil, ConfigSnapshot{}, apierr.Wrap(apierr.PreprocessError, err, "postprocess tensor shape check").WithStudy(studyID)
	}

	return tensor, snapshot(), nil
}

func writeChannel(t *Tensor, channel int, vol *volio.Volume) {
	for z := 0; z < vol.Shape[2]; z++ {
		for y := 0; y < vol.Shape[1]; y++ {
			for x := 0; x < vol.Shape[0]; x++ {
				t.Set(channel, x, y, z, vol.At(x, y, z))
			}
		}
	}
}
