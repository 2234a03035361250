// Package cache implements spec.md §4.8's result cache: a presence-only
// on-disk store for a study's rendered segmentation and overlay
// artifacts, laid out as results/<study-id>/<study-id>-{seg,overlay}.<ext>.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/brainvol/segforge/internal/apierr"
)

const (
	segSuffix     = "-seg"
	overlaySuffix = "-overlay"
)

// Artifact names the two kinds of cached artifact a study can have.
type Artifact string

const (
	Segmentation Artifact = "segmentation"
	Overlay      Artifact = "overlay"
)

// Entry reports what exists for a study without reading file content.
type Entry struct {
	SegmentationPath string // "" if absent
	OverlayPath      string // "" if absent
}

// HasSegmentation reports whether a segmentation artifact is present.
func (e Entry) HasSegmentation() bool { return e.SegmentationPath != "" }

// HasOverlay reports whether an overlay artifact is present.
func (e Entry) HasOverlay() bool { return e.OverlayPath != "" }

// EvictResult reports what an eviction freed.
type EvictResult struct {
	FreedBytes int64
	FileCount  int
}

// Cache is the on-disk result store. It is safe for concurrent use:
// each study id gets its own RWMutex, following dicomforge's pattern
// of keying a resource by name rather than locking the whole store.
type Cache struct {
	root  string
	locks lockTable
}

// New builds a Cache rooted at dir (created if absent), matching
// spec.md §4.8's "results/<study-id>/..." layout.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root %s: %w", dir, err)
	}
	return &Cache{root: dir, locks: newLockTable()}, nil
}

func (c *Cache) studyDir(studyID string) string {
	return filepath.Join(c.root, studyID)
}

func (c *Cache) segPath(studyID, ext string) string {
	return filepath.Join(c.studyDir(studyID), studyID+segSuffix+ext)
}

func (c *Cache) overlayPath(studyID, ext string) string {
	return filepath.Join(c.studyDir(studyID), studyID+overlaySuffix+ext)
}

// Probe returns what exists for a study without reading content.
func (c *Cache) Probe(studyID string) Entry {
	lock := c.locks.get(studyID)
	lock.RLock()
	defer lock.RUnlock()
	return c.probeLocked(studyID)
}

func (c *Cache) probeLocked(studyID string) Entry {
	var entry Entry
	dir := c.studyDir(studyID)
	matches, _ := filepath.Glob(filepath.Join(dir, studyID+segSuffix+".*"))
	if len(matches) > 0 {
		entry.SegmentationPath = matches[0]
	}
	matches, _ = filepath.Glob(filepath.Join(dir, studyID+overlaySuffix+".*"))
	if len(matches) > 0 {
		entry.OverlayPath = matches[0]
	}
	return entry
}

// Insert writes overlay (optional, may be nil) and then seg (required)
// for studyID. Writes go to a temp name inside the study directory then
// rename in place, so a crash mid-write leaves no partial file: either
// the old one (or none) survives, never a truncated one. The overlay,
// being optional and cosmetic, is written first; the required `-seg`
// file is written last, so its on-disk presence is the atomic signal
// that this study's cache entry is complete — a caller that fails
// before the `-seg` rename never sees a half-populated success entry.
func (c *Cache) Insert(studyID string, seg []byte, segExt string, overlay []byte, overlayExt string) (Entry, error) {
	lock := c.locks.get(studyID)
	lock.Lock()
	defer lock.Unlock()

	dir := c.studyDir(studyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Entry{}, apierr.Wrap(apierr.CacheFailure, err, "create study directory").WithStudy(studyID)
	}

	if overlay != nil {
		if err := c.removeArtifactsLocked(dir, studyID, overlaySuffix); err != nil {
			return Entry{}, apierr.Wrap(apierr.CacheFailure, err, "clear stale overlay").WithStudy(studyID)
		}
		if err := atomicWrite(c.overlayPath(studyID, overlayExt), overlay); err != nil {
			return Entry{}, apierr.Wrap(apierr.CacheFailure, err, "write overlay").WithStudy(studyID)
		}
	}

	if err := c.removeArtifactsLocked(dir, studyID, segSuffix); err != nil {
		return Entry{}, apierr.Wrap(apierr.CacheFailure, err, "clear stale segmentation").WithStudy(studyID)
	}
	if err := atomicWrite(c.segPath(studyID, segExt), seg); err != nil {
		return Entry{}, apierr.Wrap(apierr.CacheFailure, err, "write segmentation").WithStudy(studyID)
	}

	return c.probeLocked(studyID), nil
}

// removeArtifactsLocked deletes any existing file for studyID carrying
// the given suffix, regardless of extension, so a re-insert with a
// different extension doesn't leave the old file behind.
func (c *Cache) removeArtifactsLocked(dir, studyID, suffix string) error {
	matches, err := filepath.Glob(filepath.Join(dir, studyID+suffix+".*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func atomicWrite(finalPath string, data []byte) error {
	dir := filepath.Dir(finalPath)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Evict removes a study's entire directory, reporting freed bytes and
// file count.
func (c *Cache) Evict(studyID string) (EvictResult, error) {
	lock := c.locks.get(studyID)
	lock.Lock()
	defer lock.Unlock()

	dir := c.studyDir(studyID)
	var result EvictResult
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, apierr.Wrap(apierr.CacheFailure, err, "read study directory").WithStudy(studyID)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		result.FreedBytes += info.Size()
		result.FileCount++
	}
	if err := os.RemoveAll(dir); err != nil {
		return EvictResult{}, apierr.Wrap(apierr.CacheFailure, err, "remove study directory").WithStudy(studyID)
	}
	c.locks.delete(studyID)
	return result, nil
}

// ClearAll removes every study directory under the cache root.
func (c *Cache) ClearAll() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return apierr.Wrap(apierr.CacheFailure, err, "read cache root")
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := c.Evict(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// ListStudyIDs returns the study ids currently present under the
// cache root, derived from its immediate subdirectory names.
func (c *Cache) ListStudyIDs() []string {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids
}

// Stream opens a read handle to a study's cached artifact for
// download. Callers must close the returned ReadCloser.
func (c *Cache) Stream(studyID string, which Artifact) (io.ReadCloser, string, error) {
	lock := c.locks.get(studyID)
	lock.RLock()
	defer lock.RUnlock()

	entry := c.probeLocked(studyID)
	var path string
	switch which {
	case Segmentation:
		path = entry.SegmentationPath
	case Overlay:
		path = entry.OverlayPath
	default:
		return nil, "", apierr.New(apierr.BadInput, "unknown artifact kind %q", which).WithStudy(studyID)
	}
	if path == "" {
		return nil, "", apierr.New(apierr.StudyNotFound, "no cached %s for study", which).WithStudy(studyID)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.CacheFailure, err, "open cached %s", which).WithStudy(studyID)
	}
	return f, path, nil
}
