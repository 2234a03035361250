// Package api implements spec.md §6's HTTP surface over gin, mapping
// apierr.Kind values to status codes in one centralized middleware per
// spec.md §7.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/brainvol/segforge/internal/apierr"
	"github.com/brainvol/segforge/internal/cache"
	"github.com/brainvol/segforge/internal/coordinator"
	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/modelmanager"
	"github.com/brainvol/segforge/internal/tasks"
)

// Deps bundles every component the HTTP layer dispatches to.
type Deps struct {
	UploadDir     string
	PreprocessDir string
	MaxFileBytes  int64
	CORSOrigins   []string

	Cache       *cache.Cache
	Coordinator *coordinator.Coordinator
	Manager     *modelmanager.Manager
	Patterns    *modality.PatternTable
	Tasks       *tasks.Registry

	Log *logrus.Entry
}

// NewRouter builds the gin engine implementing every route in
// spec.md §6.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Log))
	r.Use(corsMiddleware(deps.CORSOrigins))
	r.Use(errorMapping())

	h := &handlers{deps: deps}

	files := r.Group("/files")
	{
		files.POST("/upload", h.uploadFile)
		files.GET("/", h.listFiles)
		files.GET("/:name/info", h.fileInfo)
		files.GET("/:name/download", h.downloadFile)
		files.GET("/:folder/download-zip", h.downloadFolderZip)
		files.DELETE("/:name", h.deleteFile)
	}

	pre := r.Group("/preprocess")
	{
		pre.GET("/folders", h.listEligibleFolders)
		pre.POST("/folder/:id", h.preprocessFolder)
	}

	inf := r.Group("/inference")
	{
		inf.GET("/status", h.inferenceStatus)
		inf.GET("/cache-check/:id", h.cacheCheck)
		inf.POST("/folder/:id", h.runInferenceFolder)
		inf.POST("/preprocessed/:blob", h.runFromPreprocessed)
		inf.GET("/results", h.listResults)
		inf.GET("/results/:id/download-segmentation", h.downloadSegmentation)
		inf.GET("/results/:id/download-overlay", h.downloadOverlay)
		inf.DELETE("/results/:id", h.evictResult)
		inf.DELETE("/cache/clear-all", h.clearAllResults)
		inf.GET("/tasks/:task_id", h.taskStatus)
		inf.DELETE("/tasks/:task_id", h.deleteTask)
		inf.GET("/ws/:task_id", h.streamTaskProgress)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})))

	return r
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if log == nil {
			return
		}
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	}
}

// corsMiddleware is hand-rolled: no pack repo or corpus dependency
// ships a CORS middleware, so this follows the deployment surface's
// CORS_ORIGINS env var directly against stdlib header writes.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 1 && origins[0] == "*"
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// errorMapping centralizes spec.md §7's kind-to-status table. Handlers
// call c.Error(err) and return; this middleware inspects it once the
// handler chain unwinds.
func errorMapping() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		status, body := mapError(err)
		c.JSON(status, body)
	}
}

func mapError(err error) (int, gin.H) {
	apiErr := apierr.As(err)
	status := http.StatusInternalServerError
	switch apiErr.Kind {
	case apierr.BadInput, apierr.NotEligible:
		status = http.StatusBadRequest
	case apierr.StudyNotFound:
		status = http.StatusNotFound
	case apierr.Overloaded:
		status = http.StatusTooManyRequests
	case apierr.Timeout:
		status = http.StatusGatewayTimeout
	}
	return status, gin.H{"kind": apiErr.Kind, "message": apiErr.Detail}
}
