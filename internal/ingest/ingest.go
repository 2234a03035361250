// Package ingest turns an uploaded file — a single volume or a zip
// archive of a study's modalities — into files on disk ready for the
// modality resolver, following spec.md's archive-ingest contract.
package ingest

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/brainvol/segforge/internal/apierr"
	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/volio"
	"github.com/brainvol/segforge/internal/volio/dicomseries"
)

var volumeExtensions = []string{".nii", ".nii.gz"}

const archiveExtension = ".zip"

var validate = validator.New()

// uploadMeta is validated before any byte of the stream is touched.
type uploadMeta struct {
	DeclaredName string `validate:"required"`
	SizeBytes    int64  `validate:"gt=0"`
}

// OutcomeKind discriminates the three shapes an ingest can produce.
type OutcomeKind string

const (
	SingleVolumeOutcome OutcomeKind = "SingleVolume"
	ArchiveOutcome      OutcomeKind = "Archive"
	ArchiveFailedOutcome OutcomeKind = "ArchiveFailed"
)

// Outcome is the tagged result of Ingest.
type Outcome struct {
	Kind OutcomeKind

	// SingleVolume
	Path string

	// Archive
	Folder      string
	ListedFiles []string
	NIfTICount  int
	Validation  modality.ValidationReport

	// ArchiveFailed
	Reason string
}

// Ingest classifies declaredName, validates it against maxSizeBytes,
// and writes stream into uploadDir, returning the resulting Outcome.
func Ingest(stream io.Reader, declaredName string, sizeBytes, maxSizeBytes int64, uploadDir string, pt *modality.PatternTable) (Outcome, error) {
	meta := uploadMeta{DeclaredName: declaredName, SizeBytes: sizeBytes}
	if err := validate.Struct(meta); err != nil {
		return Outcome{}, apierr.Wrap(apierr.BadInput, err, "invalid upload metadata")
	}
	if sizeBytes > maxSizeBytes {
		return Outcome{}, apierr.New(apierr.BadInput, "upload of %d bytes exceeds max %d", sizeBytes, maxSizeBytes)
	}

	lower := strings.ToLower(declaredName)
	switch {
	case isVolumeName(lower):
		return ingestSingleVolume(stream, declaredName, uploadDir)
	case strings.HasSuffix(lower, archiveExtension):
		return ingestArchive(stream, declaredName, uploadDir, pt)
	default:
		return Outcome{}, apierr.New(apierr.BadInput, "unrecognized extension for %q", declaredName)
	}
}

func isVolumeName(lowerName string) bool {
	for _, ext := range volumeExtensions {
		if strings.HasSuffix(lowerName, ext) {
			return true
		}
	}
	return false
}

func ingestSingleVolume(stream io.Reader, declaredName, uploadDir string) (Outcome, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return Outcome{}, apierr.Wrap(apierr.IOFailure, err, "create upload dir")
	}
	dest := filepath.Join(uploadDir, filepath.Base(declaredName))
	f, err := os.Create(dest)
	if err != nil {
		return Outcome{}, apierr.Wrap(apierr.IOFailure, err, "create %s", dest)
	}
	defer f.Close()
	if _, err := io.Copy(f, stream); err != nil {
		return Outcome{}, apierr.Wrap(apierr.IOFailure, err, "write %s", dest)
	}
	return Outcome{Kind: SingleVolumeOutcome, Path: dest}, nil
}

func ingestArchive(stream io.Reader, declaredName, uploadDir string, pt *modality.PatternTable) (Outcome, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return Outcome{}, apierr.Wrap(apierr.IOFailure, err, "create upload dir")
	}

	rawZipPath := filepath.Join(uploadDir, filepath.Base(declaredName))
	zf, err := os.Create(rawZipPath)
	if err != nil {
		return Outcome{}, apierr.Wrap(apierr.IOFailure, err, "buffer archive")
	}
	size, err := io.Copy(zf, stream)
	zf.Close()
	if err != nil {
		os.Remove(rawZipPath)
		return Outcome{}, apierr.Wrap(apierr.IOFailure, err, "buffer archive")
	}

	folder := uniqueFolder(uploadDir, strings.TrimSuffix(filepath.Base(declaredName), archiveExtension))

	listed, reason := expand(rawZipPath, size, folder)
	if reason != "" {
		os.RemoveAll(folder)
		return Outcome{Kind: ArchiveFailedOutcome, Reason: reason}, nil
	}

	listed, niftiCount, err := resolveDICOMSeries(folder, listed)
	if err != nil {
		os.RemoveAll(folder)
		return Outcome{Kind: ArchiveFailedOutcome, Reason: err.Error()}, nil
	}

	report := modality.Resolve(listed, pt)

	os.Remove(rawZipPath)

	sort.Strings(listed)
	return Outcome{
		Kind:        ArchiveOutcome,
		Folder:      folder,
		ListedFiles: listed,
		NIfTICount:  niftiCount,
		Validation:  report,
	}, nil
}

// uniqueFolder resolves folder-name collisions by appending _1, _2, ...
func uniqueFolder(uploadDir, base string) string {
	candidate := filepath.Join(uploadDir, base)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(uploadDir, fmt.Sprintf("%s_%d", base, i))
	}
}

// expand unpacks a zip archive into folder, skipping hidden entries and
// directory entries, and resolving intra-archive filename collisions by
// numeric suffixing. Returns the reason string (non-empty) on failure.
func expand(zipPath string, declaredSize int64, folder string) ([]string, string) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Sprintf("not a valid archive: %v", err)
	}
	defer r.Close()

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Sprintf("create study folder: %v", err)
	}

	seen := make(map[string]int)
	var listed []string

	for _, entry := range r.File {
		name := filepath.Base(entry.Name)
		if entry.FileInfo().IsDir() {
			continue
		}
		hidden := false
		for _, part := range strings.Split(entry.Name, "/") {
			if part != "." && part != ".." && (strings.HasPrefix(part, ".") || strings.HasPrefix(part, "__")) {
				hidden = true
				break
			}
		}
		if hidden {
			continue
		}

		finalName := dedupeName(name, seen)
		destPath := filepath.Join(folder, finalName)

		if err := extractEntry(entry, destPath); err != nil {
			return nil, fmt.Sprintf("extract %s: %v", entry.Name, err)
		}
		listed = append(listed, destPath)
	}
	return listed, ""
}

func dedupeName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	if strings.HasSuffix(strings.ToLower(name), ".nii.gz") {
		ext = name[len(name)-len(".nii.gz"):]
	}
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", base, n, ext)
}

func extractEntry(entry *zip.File, destPath string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// resolveDICOMSeries detects whether the expanded archive is
// predominantly DICOM instance files rather than NIfTI volumes; if so,
// it assembles them into a single per-series NIfTI-equivalent volume
// file and replaces the listing with that synthesized volume.
func resolveDICOMSeries(folder string, listed []string) ([]string, int, error) {
	var dicomFiles, niftiFiles []string
	for _, p := range listed {
		switch {
		case volio.IsNIfTIName(p):
			niftiFiles = append(niftiFiles, p)
		case volio.IsDICOMName(p):
			dicomFiles = append(dicomFiles, p)
		}
	}

	if len(dicomFiles) == 0 || len(dicomFiles) <= len(niftiFiles) {
		return listed, len(niftiFiles), nil
	}

	vol, err := dicomseries.Read(dicomFiles)
	if err != nil {
		return nil, 0, fmt.Errorf("assemble DICOM series: %w", err)
	}

	outPath := filepath.Join(folder, "series.nii.gz")
	if err := writeAssembledVolume(outPath, vol); err != nil {
		return nil, 0, err
	}

	for _, p := range dicomFiles {
		os.Remove(p)
	}
	result := append([]string{}, niftiFiles...)
	result = append(result, outPath)
	return result, len(niftiFiles) + 1, nil
}

func writeAssembledVolume(path string, vol *volio.Volume) error {
	store := volio.NewStore(nil)
	return store.SaveFile(nil, path, "", vol)
}
