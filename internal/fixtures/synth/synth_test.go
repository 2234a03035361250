package synth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/volio"
)

func TestWriteStudy_WritesOneFilePerCanonicalModality(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteStudy(dir, "BraTS-001", Options{Size: 16, Gzip: true})
	if err != nil {
		t.Fatalf("WriteStudy: %v", err)
	}
	if len(paths) != len(modality.CanonicalOrder) {
		t.Fatalf("expected %d modalities, got %d", len(modality.CanonicalOrder), len(paths))
	}
	for _, tag := range modality.CanonicalOrder {
		path, ok := paths[tag]
		if !ok {
			t.Fatalf("missing path for modality %s", tag)
		}
		if filepath.Ext(path) != ".gz" {
			t.Errorf("expected gzip extension for %s, got %s", tag, path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist on disk: %v", path, err)
		}
	}
}

func TestWriteStudy_DeterministicForSameSeed(t *testing.T) {
	dir := t.TempDir()
	store := volio.NewStore(nil)

	a, err := WriteStudy(dir, "study-a", Options{Size: 12, Seed: 42})
	if err != nil {
		t.Fatalf("WriteStudy a: %v", err)
	}
	b, err := WriteStudy(dir, "study-b", Options{Size: 12, Seed: 42})
	if err != nil {
		t.Fatalf("WriteStudy b: %v", err)
	}

	for _, tag := range modality.CanonicalOrder {
		volA, err := store.LoadFile(a[tag])
		if err != nil {
			t.Fatalf("load a[%s]: %v", tag, err)
		}
		volB, err := store.LoadFile(b[tag])
		if err != nil {
			t.Fatalf("load b[%s]: %v", tag, err)
		}
		if len(volA.Data) != len(volB.Data) {
			t.Fatalf("%s: voxel count mismatch", tag)
		}
		for i := range volA.Data {
			if volA.Data[i] != volB.Data[i] {
				t.Fatalf("%s: same seed produced different voxel %d: %v != %v", tag, i, volA.Data[i], volB.Data[i])
			}
		}
	}
}

func TestWriteStudy_LesionRaisesT2FluidIntensity(t *testing.T) {
	dir := t.TempDir()
	store := volio.NewStore(nil)

	healthy, err := WriteStudy(dir, "healthy", Options{Size: 20, Seed: 7})
	if err != nil {
		t.Fatalf("WriteStudy healthy: %v", err)
	}
	lesioned, err := WriteStudy(dir, "lesioned", Options{Size: 20, Seed: 7, WithLesion: true})
	if err != nil {
		t.Fatalf("WriteStudy lesioned: %v", err)
	}

	healthyVol, err := store.LoadFile(healthy[modality.T2F])
	if err != nil {
		t.Fatalf("load healthy t2f: %v", err)
	}
	lesionedVol, err := store.LoadFile(lesioned[modality.T2F])
	if err != nil {
		t.Fatalf("load lesioned t2f: %v", err)
	}

	var healthyMax, lesionedMax float32
	for _, v := range healthyVol.Data {
		if v > healthyMax {
			healthyMax = v
		}
	}
	for _, v := range lesionedVol.Data {
		if v > lesionedMax {
			lesionedMax = v
		}
	}
	if lesionedMax <= healthyMax {
		t.Errorf("expected lesioned t2f peak intensity (%v) above healthy (%v)", lesionedMax, healthyMax)
	}
}

func TestGenerateStudies_WritesEveryRequestedStudy(t *testing.T) {
	dir := t.TempDir()
	specs := []StudySpec{
		{ID: "s1", Opts: Options{Size: 10}},
		{ID: "s2", Opts: Options{Size: 10}},
		{ID: "s3", Opts: Options{Size: 10}},
	}
	if err := GenerateStudies(dir, specs, 2); err != nil {
		t.Fatalf("GenerateStudies: %v", err)
	}
	for _, spec := range specs {
		for _, tag := range modality.CanonicalOrder {
			path := filepath.Join(dir, spec.ID, tag+".nii")
			if _, err := os.Stat(path); err != nil {
				t.Errorf("expected %s: %v", path, err)
			}
		}
	}
}
