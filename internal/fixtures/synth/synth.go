package synth

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/volio"
	"github.com/brainvol/segforge/internal/volio/nifti"
)

// Options controls a synthesized study.
type Options struct {
	// Size is the cubic edge length in voxels (e.g. 64). Volumes are
	// always isotropic.
	Size int
	// WithLesion places a spherical lesion off-center in the synthetic
	// brain; omitting it produces a healthy-looking study.
	WithLesion bool
	// Gzip writes ".nii.gz" files; otherwise plain ".nii".
	Gzip bool
	// Seed makes generation reproducible. Zero derives a seed from the
	// study id.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = 32
	}
	return o
}

func deriveSeed(studyID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(studyID))
	return int64(h.Sum64())
}

// WriteStudy synthesizes one complete four-modality study under
// dir/studyID and returns the canonical-tag-to-path map of what it
// wrote, in modality.CanonicalOrder.
func WriteStudy(dir, studyID string, opts Options) (map[string]string, error) {
	opts = opts.withDefaults()
	seed := opts.Seed
	if seed == 0 {
		seed = deriveSeed(studyID)
	}

	folder := filepath.Join(dir, studyID)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("synth: create study folder: %w", err)
	}

	paths := make(map[string]string, len(modality.CanonicalOrder))
	for _, tag := range modality.CanonicalOrder {
		tagSeedHash := fnv.New64a()
		_, _ = tagSeedHash.Write([]byte(fmt.Sprintf("%d_%s", seed, tag)))
		tagSeed := tagSeedHash.Sum64()

		vol := buildVolume(tag, opts.Size, opts.WithLesion, tagSeed)

		ext := ".nii"
		if opts.Gzip {
			ext = ".nii.gz"
		}
		path := filepath.Join(folder, fmt.Sprintf("%s%s", tag, ext))
		if err := nifti.Write(path, vol); err != nil {
			return nil, fmt.Errorf("synth: write %s volume: %w", tag, err)
		}
		paths[tag] = path
	}
	return paths, nil
}

func buildVolume(tag string, size int, withLesion bool, seed uint64) *volio.Volume {
	p := profiles[tag]
	meta := volio.IdentityMetadata()
	vol := volio.NewVolume([3]int{size, size, size}, meta)
	rng := rand.New(rand.NewPCG(seed, seed))

	center := float64(size-1) / 2
	brainRadius := float64(size) * 0.42
	lesionCenter := [3]float64{center + float64(size)*0.12, center - float64(size)*0.08, center}
	lesionRadius := float64(size) * 0.1

	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx, dy, dz := float64(x)-center, float64(y)-center, float64(z)-center
				r := dx*dx + dy*dy + dz*dz
				insideBrain := r <= brainRadius*brainRadius

				insideLesion := false
				if withLesion {
					lx, ly, lz := float64(x)-lesionCenter[0], float64(y)-lesionCenter[1], float64(z)-lesionCenter[2]
					insideLesion = lx*lx+ly*ly+lz*lz <= lesionRadius*lesionRadius
				}

				vol.Set(x, y, z, p.sample(rng, insideBrain, insideLesion))
			}
		}
	}
	return vol
}

// StudySpec names one study to generate within a batch.
type StudySpec struct {
	ID   string
	Opts Options
}

// GenerateStudies synthesizes many studies under root concurrently,
// fanning work out across a worker pool sized like a DICOM series
// generator's: one goroutine per available core, capped to the number
// of studies requested. It returns the first error encountered, if
// any, after every worker has finished.
func GenerateStudies(root string, specs []StudySpec, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(specs) {
		workers = len(specs)
	}
	if workers == 0 {
		return nil
	}

	taskChan := make(chan StudySpec, len(specs))
	errChan := make(chan error, len(specs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for spec := range taskChan {
				if _, err := WriteStudy(root, spec.ID, spec.Opts); err != nil {
					errChan <- err
				}
			}
		}()
	}

	for _, spec := range specs {
		taskChan <- spec
	}
	close(taskChan)
	wg.Wait()
	close(errChan)

	for err := range errChan {
		if err != nil {
			return err
		}
	}
	return nil
}
