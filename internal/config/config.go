// Package config loads the segmentation service's configuration from a
// YAML file and overlays process environment variables on top, in the
// style of the reference server config loaders this service borrows from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the deployment surface.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	UploadDir     string `yaml:"upload-dir"`
	PreprocessDir string `yaml:"preprocess-dir"`
	ResultsDir    string `yaml:"results-dir"`
	TasksDir      string `yaml:"tasks-dir"`
	LogsDir       string `yaml:"logs-dir"`

	MaxFileSizeBytes int64    `yaml:"max-file-size-bytes"`
	CORSOrigins      []string `yaml:"cors-origins"`

	ModelPath         string        `yaml:"model-path"`
	ModelDevice       string        `yaml:"model-device"` // "accelerator" or "host"
	ModelRequired     bool          `yaml:"model-required"`
	ONNXSharedLibPath string        `yaml:"onnx-shared-lib-path"`
	ReloadAfterN      int           `yaml:"reload-after-n-invocations"`
	PredictQueue      int           `yaml:"predict-queue-depth"`
	InferTimeout      time.Duration `yaml:"-"`
	InferTimeoutS     int           `yaml:"inference-timeout-seconds"`

	OverlayAlpha      float64 `yaml:"overlay-alpha"`
	OverlayBackground float64 `yaml:"overlay-background-darkening"`

	LoggingToFile      bool `yaml:"logging-to-file"`
	LogsMaxSizeMB      int  `yaml:"logs-max-size-mb"`
	LogsMaxBackups     int  `yaml:"logs-max-backups"`
	LogsMaxAgeDays     int  `yaml:"logs-max-age-days"`
	Debug              bool `yaml:"debug"`

	TaskTTL time.Duration `yaml:"-"`
	TaskTTLSeconds int    `yaml:"task-ttl-seconds"`

	MinioEnabled   bool   `yaml:"minio-enabled"`
	MinioEndpoint  string `yaml:"minio-endpoint"`
	MinioBucket    string `yaml:"minio-bucket"`
	MinioAccessKey string `yaml:"-"`
	MinioSecretKey string `yaml:"-"`
	MinioUseSSL    bool   `yaml:"minio-use-ssl"`
}

// Default returns the configuration defaults spelled out in the
// deployment surface before any file or environment overlay is applied.
func Default() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8000,
		UploadDir:         "uploads",
		PreprocessDir:     "temp/preprocess",
		ResultsDir:        "results",
		TasksDir:          "tasks",
		LogsDir:           "logs",
		MaxFileSizeBytes:  500 * 1024 * 1024,
		CORSOrigins:       []string{"*"},
		ModelPath:         "models/segmentation.onnx",
		ModelDevice:       "accelerator",
		ModelRequired:     false,
		ReloadAfterN:      5,
		PredictQueue:      8,
		InferTimeoutS:     300,
		OverlayAlpha:      0.4,
		OverlayBackground: 0.35,
		LogsMaxSizeMB:     100,
		LogsMaxBackups:    7,
		LogsMaxAgeDays:    30,
		TaskTTLSeconds:    86400,
		MinioBucket:       "segforge-results",
	}
}

// Load reads a YAML config file (if path is non-empty and exists), then
// overlays a .env file (if present) and real process environment
// variables, which always win over both.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// .env is optional; godotenv.Load only populates vars not already set.
	_ = godotenv.Load()

	overlayEnv(&cfg)

	cfg.InferTimeout = time.Duration(cfg.InferTimeoutS) * time.Second
	cfg.TaskTTL = time.Duration(cfg.TaskTTLSeconds) * time.Second

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	i64 := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	i := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	b := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseBool(v); err == nil {
				*dst = n
			}
		}
	}

	str("HOST", &cfg.Host)
	i("PORT", &cfg.Port)
	str("UPLOAD_DIR", &cfg.UploadDir)
	i64("MAX_FILE_SIZE", &cfg.MaxFileSizeBytes)
	str("MODEL_PATH", &cfg.ModelPath)
	str("MODEL_DEVICE", &cfg.ModelDevice)
	str("ONNX_SHARED_LIB_PATH", &cfg.ONNXSharedLibPath)
	i("INFERENCE_TIMEOUT", &cfg.InferTimeoutS)
	b("LOGGING_TO_FILE", &cfg.LoggingToFile)
	b("DEBUG", &cfg.Debug)
	b("MINIO_ENABLED", &cfg.MinioEnabled)
	str("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	str("MINIO_BUCKET", &cfg.MinioBucket)
	str("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	str("MINIO_SECRET_KEY", &cfg.MinioSecretKey)

	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok && v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	}
}

// Validate rejects configurations that cannot produce a working service.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("config: max-file-size-bytes must be > 0")
	}
	if c.ModelDevice != "accelerator" && c.ModelDevice != "host" {
		return fmt.Errorf("config: model-device must be 'accelerator' or 'host', got %q", c.ModelDevice)
	}
	if c.ReloadAfterN <= 0 {
		return fmt.Errorf("config: reload-after-n-invocations must be > 0")
	}
	if c.PredictQueue <= 0 {
		return fmt.Errorf("config: predict-queue-depth must be > 0")
	}
	if c.OverlayAlpha < 0 || c.OverlayAlpha > 1 {
		return fmt.Errorf("config: overlay-alpha must be within [0,1]")
	}
	return nil
}
