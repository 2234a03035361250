package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/brainvol/segforge/internal/api"
	"github.com/brainvol/segforge/internal/cache"
	"github.com/brainvol/segforge/internal/config"
	"github.com/brainvol/segforge/internal/coordinator"
	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/modelmanager"
	"github.com/brainvol/segforge/internal/modelmanager/onnx"
	"github.com/brainvol/segforge/internal/observability/logging"
	"github.com/brainvol/segforge/internal/tasks"
	"github.com/brainvol/segforge/internal/volio"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the HTTP inference server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	log := logging.For(logger, "server")

	patterns, err := modality.DefaultPatternTable()
	if err != nil {
		return fmt.Errorf("load modality patterns: %w", err)
	}

	ctx := context.Background()
	mirror, err := volio.NewMirror(ctx, volio.MirrorConfig{
		Enabled:   cfg.MinioEnabled,
		Endpoint:  cfg.MinioEndpoint,
		Bucket:    cfg.MinioBucket,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return fmt.Errorf("connect result mirror: %w", err)
	}
	store := volio.NewStore(mirror)

	resultCache, err := cache.New(cfg.ResultsDir)
	if err != nil {
		return fmt.Errorf("open result cache: %w", err)
	}

	predictor := onnx.New(cfg.ONNXSharedLibPath)
	manager := modelmanager.New(predictor, cfg.ModelPath, cfg.ModelDevice, cfg.ReloadAfterN, cfg.PredictQueue, logging.For(logger, "modelmanager"), prometheus.DefaultRegisterer)
	if cfg.ModelRequired {
		if err := manager.EnsureLoaded(); err != nil {
			return fmt.Errorf("preload required model: %w", err)
		}
	}

	co := coordinator.New(cfg.UploadDir, store, resultCache, manager, patterns, cfg.OverlayAlpha, cfg.OverlayBackground, cfg.InferTimeout, logging.For(logger, "coordinator"))

	taskRegistry, err := tasks.Open(cfg.TasksDir, cfg.TaskTTL)
	if err != nil {
		return fmt.Errorf("open task registry: %w", err)
	}
	defer taskRegistry.Close()

	router := api.NewRouter(api.Deps{
		UploadDir:     cfg.UploadDir,
		PreprocessDir: cfg.PreprocessDir,
		MaxFileBytes:  cfg.MaxFileSizeBytes,
		CORSOrigins:   cfg.CORSOrigins,
		Cache:         resultCache,
		Coordinator:   co,
		Manager:       manager,
		Patterns:      patterns,
		Tasks:         taskRegistry,
		Log:           log,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("serve: %w", err)
	case sig := <-quit:
		log.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	manager.ForceCleanup()

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown: %w", shutdownErr)
	}
	return nil
}
