package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/brainvol/segforge/internal/cache"
	"github.com/brainvol/segforge/internal/coordinator"
	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/modelmanager"
	"github.com/brainvol/segforge/internal/modelmanager/fakepredictor"
	"github.com/brainvol/segforge/internal/tasks"
	"github.com/brainvol/segforge/internal/volio"
	"github.com/brainvol/segforge/internal/volio/nifti"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	return logrus.NewEntry(logger)
}

func newTestDeps(t *testing.T) (Deps, string) {
	t.Helper()
	uploadDir := t.TempDir()
	preprocessDir := t.TempDir()
	resultsDir := t.TempDir()

	store := volio.NewStore(nil)
	c, err := cache.New(resultsDir)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	pt, err := modality.DefaultPatternTable()
	if err != nil {
		t.Fatalf("DefaultPatternTable: %v", err)
	}
	predictor := fakepredictor.New()
	manager := modelmanager.New(predictor, "unused.onnx", "host", 100, 4, testLogger(), nil)
	co := coordinator.New(uploadDir, store, c, manager, pt, 0.4, 0.35, 2*time.Second, testLogger())
	taskRegistry, err := tasks.Open("", time.Hour)
	if err != nil {
		t.Fatalf("tasks.Open: %v", err)
	}
	t.Cleanup(func() { taskRegistry.Close() })

	return Deps{
		UploadDir:     uploadDir,
		PreprocessDir: preprocessDir,
		MaxFileBytes:  1 << 30,
		CORSOrigins:   []string{"*"},
		Cache:         c,
		Coordinator:   co,
		Manager:       manager,
		Patterns:      pt,
		Tasks:         taskRegistry,
		Log:           testLogger(),
	}, uploadDir
}

func writeStudy(t *testing.T, uploadDir, studyID string) {
	t.Helper()
	folder := filepath.Join(uploadDir, studyID)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatalf("mkdir study folder: %v", err)
	}
	for _, tag := range modality.CanonicalOrder {
		meta := volio.IdentityMetadata()
		vol := volio.NewVolume([3]int{8, 8, 8}, meta)
		for i := range vol.Data {
			vol.Data[i] = 100
		}
		if err := nifti.Write(filepath.Join(folder, tag+".nii.gz"), vol); err != nil {
			t.Fatalf("write %s volume: %v", tag, err)
		}
	}
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListFiles_EmptyUploadDir(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	w := doRequest(router, http.MethodGet, "/files/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Counts struct {
			Files   int `json:"files"`
			Folders int `json:"folders"`
		} `json:"counts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Counts.Files != 0 || resp.Counts.Folders != 0 {
		t.Errorf("expected empty counts, got %+v", resp.Counts)
	}
}

func TestUploadFile_SingleVolume(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "t1n.nii.gz")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("not a real nifti, just upload bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Type != "volume" {
		t.Errorf("type = %q, want volume", resp.Type)
	}
}

func TestListEligibleFolders_FindsCompleteStudy(t *testing.T) {
	deps, uploadDir := newTestDeps(t)
	writeStudy(t, uploadDir, "BraTS-010")
	router := NewRouter(deps)

	w := doRequest(router, http.MethodGet, "/preprocess/folders", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
}

func TestPreprocessFolder_SavesBlobOnRequest(t *testing.T) {
	deps, uploadDir := newTestDeps(t)
	writeStudy(t, uploadDir, "BraTS-011")
	router := NewRouter(deps)

	w := doRequest(router, http.MethodPost, "/preprocess/folder/BraTS-011?save_data=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ProcessedShape []int  `json:"processed_shape"`
		SavedPath      string `json:"saved_path"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.ProcessedShape) != 4 {
		t.Errorf("processed_shape = %v, want length 4", resp.ProcessedShape)
	}
	if resp.SavedPath == "" {
		t.Error("expected saved_path to be populated")
	}
	if _, err := os.Stat(resp.SavedPath); err != nil {
		t.Errorf("expected blob file to exist at %s: %v", resp.SavedPath, err)
	}
}

func TestRunInferenceFolder_HappyPath(t *testing.T) {
	deps, uploadDir := newTestDeps(t)
	writeStudy(t, uploadDir, "BraTS-012")
	router := NewRouter(deps)

	w := doRequest(router, http.MethodPost, "/inference/folder/BraTS-012?save_result=true&create_overlay=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		OK    bool `json:"ok"`
		Paths struct {
			Segmentation string `json:"seg"`
			Overlay      string `json:"overlay"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK {
		t.Fatal("expected ok=true")
	}
	if resp.Paths.Segmentation == "" {
		t.Error("expected a segmentation path")
	}
}

func TestRunInferenceFolder_MissingStudyReturnsNotFound(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	w := doRequest(router, http.MethodPost, "/inference/folder/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestCacheCheck_ReflectsPriorRun(t *testing.T) {
	deps, uploadDir := newTestDeps(t)
	writeStudy(t, uploadDir, "BraTS-013")
	router := NewRouter(deps)

	doRequest(router, http.MethodPost, "/inference/folder/BraTS-013?save_result=true", nil)

	w := doRequest(router, http.MethodGet, "/inference/cache-check/BraTS-013", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		HasSegmentation bool `json:"has_segmentation"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.HasSegmentation {
		t.Error("expected has_segmentation=true after a saved run")
	}
}

func TestDownloadSegmentation_StreamsGzipArtifact(t *testing.T) {
	deps, uploadDir := newTestDeps(t)
	writeStudy(t, uploadDir, "BraTS-014")
	router := NewRouter(deps)

	doRequest(router, http.MethodPost, "/inference/folder/BraTS-014?save_result=true", nil)

	w := doRequest(router, http.MethodGet, "/inference/results/BraTS-014/download-segmentation", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Error("expected Content-Encoding: gzip")
	}
	if w.Body.Len() == 0 {
		t.Error("expected non-empty body")
	}
}

func TestEvictResult_ReportsFreedBytes(t *testing.T) {
	deps, uploadDir := newTestDeps(t)
	writeStudy(t, uploadDir, "BraTS-015")
	router := NewRouter(deps)

	doRequest(router, http.MethodPost, "/inference/folder/BraTS-015?save_result=true", nil)

	w := doRequest(router, http.MethodDelete, "/inference/results/BraTS-015", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		FreedMB float64 `json:"freed_mb"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.FreedMB <= 0 {
		t.Error("expected nonzero freed_mb")
	}

	check := doRequest(router, http.MethodGet, "/inference/cache-check/BraTS-015", nil)
	var checkResp struct {
		HasSegmentation bool `json:"has_segmentation"`
	}
	json.Unmarshal(check.Body.Bytes(), &checkResp)
	if checkResp.HasSegmentation {
		t.Error("expected segmentation to be gone after eviction")
	}
}

func TestInferenceStatus_ReportsModelState(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	w := doRequest(router, http.MethodGet, "/inference/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ModelState string `json:"model_state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ModelState == "" {
		t.Error("expected a non-empty model_state")
	}
}

func TestCORSPreflight_RespondsNoContent(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodOptions, "/inference/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRunInferenceFolder_AsyncReturnsPollableTask(t *testing.T) {
	deps, uploadDir := newTestDeps(t)
	writeStudy(t, uploadDir, "BraTS-016")
	router := NewRouter(deps)

	w := doRequest(router, http.MethodPost, "/inference/folder/BraTS-016?async=true&save_result=true", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TaskID == "" {
		t.Fatal("expected a non-empty task_id")
	}

	var status struct {
		Status string `json:"status"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sw := doRequest(router, http.MethodGet, "/inference/tasks/"+resp.TaskID, nil)
		if sw.Code != http.StatusOK {
			t.Fatalf("status check: %d: %s", sw.Code, sw.Body.String())
		}
		if err := json.Unmarshal(sw.Body.Bytes(), &status); err != nil {
			t.Fatalf("unmarshal status: %v", err)
		}
		if status.Status == "completed" || status.Status == "failed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Status != "completed" {
		t.Fatalf("expected task to complete, got status=%q", status.Status)
	}

	dw := doRequest(router, http.MethodDelete, "/inference/tasks/"+resp.TaskID, nil)
	if dw.Code != http.StatusOK {
		t.Fatalf("delete task status = %d, want 200: %s", dw.Code, dw.Body.String())
	}
}

func TestTaskStatus_UnknownTaskReturnsNotFound(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	w := doRequest(router, http.MethodGet, "/inference/tasks/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestMetrics_ServesPrometheusFormat(t *testing.T) {
	deps, _ := newTestDeps(t)
	router := NewRouter(deps)

	w := doRequest(router, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
