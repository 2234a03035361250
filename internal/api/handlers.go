package api

import (
	"archive/zip"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/brainvol/segforge/internal/apierr"
	"github.com/brainvol/segforge/internal/cache"
	"github.com/brainvol/segforge/internal/coordinator"
	"github.com/brainvol/segforge/internal/ingest"
	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/preprocess"
	"github.com/brainvol/segforge/internal/volio"
)

type handlers struct {
	deps Deps
}

func boolQuery(c *gin.Context, key string) bool {
	v, ok := c.GetQuery(key)
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// POST /files/upload
func (h *handlers) uploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.Error(apierr.Wrap(apierr.BadInput, err, "multipart file is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.Error(apierr.Wrap(apierr.IOFailure, err, "open uploaded file"))
		return
	}
	defer f.Close()

	outcome, err := ingest.Ingest(f, fileHeader.Filename, fileHeader.Size, h.deps.MaxFileBytes, h.deps.UploadDir, h.deps.Patterns)
	if err != nil {
		c.Error(err)
		return
	}

	switch outcome.Kind {
	case ingest.SingleVolumeOutcome:
		c.JSON(http.StatusOK, gin.H{
			"type":    "volume",
			"size_mb": float64(fileHeader.Size) / (1024 * 1024),
		})
	case ingest.ArchiveOutcome:
		c.JSON(http.StatusOK, gin.H{
			"type":    "archive",
			"size_mb": float64(fileHeader.Size) / (1024 * 1024),
			"extraction": gin.H{
				"folder":      filepath.Base(outcome.Folder),
				"nifti_count": outcome.NIfTICount,
				"validation":  outcome.Validation,
			},
		})
	default: // ArchiveFailedOutcome
		c.Error(apierr.New(apierr.BadInput, "archive expansion failed: %s", outcome.Reason))
	}
}

// GET /files/
func (h *handlers) listFiles(c *gin.Context) {
	entries, err := os.ReadDir(h.deps.UploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"items": []string{}, "counts": gin.H{"files": 0, "folders": 0}})
			return
		}
		c.Error(apierr.Wrap(apierr.IOFailure, err, "list upload directory"))
		return
	}

	var items []gin.H
	files, folders := 0, 0
	for _, e := range entries {
		if e.IsDir() {
			folders++
		} else {
			files++
		}
		items = append(items, gin.H{"name": e.Name(), "is_folder": e.IsDir()})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "counts": gin.H{"files": files, "folders": folders}})
}

// GET /files/:name/info
func (h *handlers) fileInfo(c *gin.Context) {
	name := c.Param("name")
	path := filepath.Join(h.deps.UploadDir, filepath.Clean("/"+name))
	info, err := os.Stat(path)
	if err != nil {
		c.Error(apierr.New(apierr.StudyNotFound, "no such file or folder %q", name))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"size":      info.Size(),
		"size_mb":   float64(info.Size()) / (1024 * 1024),
		"modified":  info.ModTime(),
		"extension": filepath.Ext(info.Name()),
	})
}

// GET /files/:name/download
func (h *handlers) downloadFile(c *gin.Context) {
	name := c.Param("name")
	path := filepath.Join(h.deps.UploadDir, filepath.Clean("/"+name))
	f, err := os.Open(path)
	if err != nil {
		c.Error(apierr.New(apierr.StudyNotFound, "no such file %q", name))
		return
	}
	defer f.Close()

	if boolQuery(c, "gzip") {
		c.Header("Content-Encoding", "gzip")
		c.Status(http.StatusOK)
		if _, err := cache.CopyCompressed(c.Writer, f); err != nil {
			c.Error(apierr.Wrap(apierr.IOFailure, err, "stream compressed file"))
		}
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(path))
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", f, nil)
}

// GET /files/:folder/download-zip
func (h *handlers) downloadFolderZip(c *gin.Context) {
	folder := c.Param("folder")
	dir := filepath.Join(h.deps.UploadDir, filepath.Clean("/"+folder))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		c.Error(apierr.New(apierr.StudyNotFound, "no such folder %q", folder))
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+folder+".zip")
	c.Status(http.StatusOK)
	zw := zip.NewWriter(c.Writer)
	defer zw.Close()

	_ = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
}

// DELETE /files/:name
func (h *handlers) deleteFile(c *gin.Context) {
	name := c.Param("name")
	path := filepath.Join(h.deps.UploadDir, filepath.Clean("/"+name))
	if err := os.RemoveAll(path); err != nil {
		c.Error(apierr.Wrap(apierr.IOFailure, err, "delete %q", name))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_item": name})
}

// GET /preprocess/folders
func (h *handlers) listEligibleFolders(c *gin.Context) {
	entries, err := os.ReadDir(h.deps.UploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"count": 0, "items": []gin.H{}})
			return
		}
		c.Error(apierr.Wrap(apierr.IOFailure, err, "list upload directory"))
		return
	}

	var items []gin.H
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		report, err := resolveFolder(filepath.Join(h.deps.UploadDir, e.Name()), h.deps.Patterns)
		if err != nil || !report.InferenceEligible {
			continue
		}
		items = append(items, gin.H{"name": e.Name(), "found_modalities": report.Found})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}

func resolveFolder(folder string, pt *modality.PatternTable) (modality.ValidationReport, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return modality.ValidationReport{}, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && volio.IsNIfTIName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return modality.Resolve(names, pt), nil
}

// POST /preprocess/folder/:id
func (h *handlers) preprocessFolder(c *gin.Context) {
	id := c.Param("id")
	folder := filepath.Join(h.deps.UploadDir, filepath.Clean("/"+id))
	report, err := resolveFolder(folder, h.deps.Patterns)
	if err != nil {
		c.Error(apierr.New(apierr.StudyNotFound, "study folder %q not found", id))
		return
	}
	if !report.InferenceEligible {
		c.Error(apierr.New(apierr.NotEligible, "study is not inference-eligible"))
		return
	}

	store := volio.NewStore(nil)
	tensor, snapshot, err := preprocess.Run(id, folder, report.Found, store)
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{"processed_shape": []int{tensor.Channels, tensor.Size, tensor.Size, tensor.Size}}
	if boolQuery(c, "save_data") {
		path, err := preprocess.SaveBlob(h.deps.PreprocessDir, id, tensor, snapshot)
		if err != nil {
			c.Error(err)
			return
		}
		resp["saved_path"] = path
	}
	c.JSON(http.StatusOK, resp)
}

// GET /inference/status
func (h *handlers) inferenceStatus(c *gin.Context) {
	info := h.deps.Manager.Info()
	c.JSON(http.StatusOK, gin.H{
		"model_state":      info.State,
		"model_device":     info.Device,
		"invocation_count": info.InvocationCount,
	})
}

// GET /inference/cache-check/:id
func (h *handlers) cacheCheck(c *gin.Context) {
	id := c.Param("id")
	entry := h.deps.Cache.Probe(id)
	c.JSON(http.StatusOK, gin.H{
		"has_cache":        entry.HasSegmentation(),
		"has_segmentation": entry.HasSegmentation(),
		"has_overlay":      entry.HasOverlay(),
	})
}

// POST /inference/folder/:id
func (h *handlers) runInferenceFolder(c *gin.Context) {
	id := c.Param("id")
	opts := coordinator.Options{
		Save:           boolQuery(c, "save_result"),
		CreateOverlay:  boolQuery(c, "create_overlay"),
		ForceReprocess: boolQuery(c, "force_reprocess"),
	}

	if boolQuery(c, "async") {
		taskID, err := h.deps.Tasks.RunAsync(h.deps.Coordinator, id, opts)
		if err != nil {
			c.Error(apierr.Wrap(apierr.IOFailure, err, "create task"))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
		return
	}

	result := h.deps.Coordinator.Run(c.Request.Context(), id, opts)
	if !result.OK {
		status, body := mapError(apierr.New(apierr.Kind(result.Error), "pipeline failed").WithStudy(id))
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /inference/tasks/:task_id
func (h *handlers) taskStatus(c *gin.Context) {
	rec, err := h.deps.Tasks.Get(c.Param("task_id"))
	if err != nil {
		c.Error(apierr.New(apierr.StudyNotFound, "no such task %q", c.Param("task_id")))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DELETE /inference/tasks/:task_id
func (h *handlers) deleteTask(c *gin.Context) {
	if err := h.deps.Tasks.Delete(c.Param("task_id")); err != nil {
		c.Error(apierr.Wrap(apierr.IOFailure, err, "delete task"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("task_id")})
}

// POST /inference/preprocessed/:blob
func (h *handlers) runFromPreprocessed(c *gin.Context) {
	blobName := c.Param("blob")
	tensor, snapshot, studyID, err := preprocess.LoadBlob(h.deps.PreprocessDir, blobName)
	if err != nil {
		c.Error(err)
		return
	}

	opts := coordinator.Options{
		Save:           boolQuery(c, "save_result"),
		CreateOverlay:  boolQuery(c, "create_overlay"),
		ForceReprocess: boolQuery(c, "force_reprocess"),
	}
	result := h.deps.Coordinator.RunFromPreprocessed(c.Request.Context(), tensor, snapshot, studyID, opts)
	if !result.OK {
		status, body := mapError(apierr.New(apierr.Kind(result.Error), "pipeline failed").WithStudy(studyID))
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /inference/results
func (h *handlers) listResults(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.deps.Cache.ListStudyIDs()})
}

// GET /inference/results/:id/download-segmentation
func (h *handlers) downloadSegmentation(c *gin.Context) {
	h.streamArtifact(c, cache.Segmentation)
}

// GET /inference/results/:id/download-overlay
func (h *handlers) downloadOverlay(c *gin.Context) {
	h.streamArtifact(c, cache.Overlay)
}

// streamArtifact copies a cached artifact straight through: segmentation
// and overlay files are written to disk already gzip-compressed (see
// nifti.EncodeGzip), so the download just needs the matching header,
// not a second pass of compression.
func (h *handlers) streamArtifact(c *gin.Context, which cache.Artifact) {
	id := c.Param("id")
	rc, path, err := h.deps.Cache.Stream(id, which)
	if err != nil {
		c.Error(err)
		return
	}
	defer rc.Close()

	c.Header("Content-Encoding", "gzip")
	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(path))
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, nil)
}

// DELETE /inference/results/:id
func (h *handlers) evictResult(c *gin.Context) {
	id := c.Param("id")
	result, err := h.deps.Cache.Evict(id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"freed_mb": float64(result.FreedBytes) / (1024 * 1024)})
}

// DELETE /inference/cache/clear-all
func (h *handlers) clearAllResults(c *gin.Context) {
	ids := h.deps.Cache.ListStudyIDs()
	var freed int64
	for _, id := range ids {
		result, err := h.deps.Cache.Evict(id)
		if err != nil {
			c.Error(err)
			return
		}
		freed += result.FreedBytes
	}
	c.JSON(http.StatusOK, gin.H{"folders_deleted": len(ids), "freed_mb": float64(freed) / (1024 * 1024)})
}

// GET /inference/ws/:task_id
func (h *handlers) streamTaskProgress(c *gin.Context) {
	h.deps.Tasks.StreamProgress(c, c.Param("task_id"))
}
