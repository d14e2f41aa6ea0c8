// Command transcoder runs the video transcoding service: an HTTP/WebSocket
// server in front of the chunked-upload reassembly, job scheduling, and
// subprocess transcoding core.
//
// Startup loads configuration, wires components bottom-up, starts the
// listener, then blocks on SIGINT/SIGTERM for a bounded graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/transcoder/internal/api"
	"github.com/reelforge/transcoder/internal/config"
	"github.com/reelforge/transcoder/internal/mediadriver"
	"github.com/reelforge/transcoder/internal/registry"
	"github.com/reelforge/transcoder/internal/resourcemonitor"
	"github.com/reelforge/transcoder/internal/storage"
	"github.com/reelforge/transcoder/internal/transcodemanager"
	"github.com/reelforge/transcoder/internal/upload"
)

func main() {
	cfgPath := os.Getenv("TRANSCODER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcoder: config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info("starting transcoder", "config_path", cfgPath)

	st, err := storage.New(cfg.Storage.StagingDir, cfg.Storage.OutputDir)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	driver := mediadriver.New(cfg.MediaDriver.ProbeBinary, cfg.MediaDriver.EncodeBinary, cfg.MediaDriver.ProbeTimeout, logger)
	reg := registry.New(logger)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var guard transcodemanager.AdmissionGuard
	if cfg.Manager.EnableAdmissionGuard {
		monitor := resourcemonitor.New(cfg.Manager.CPUThreshold, cfg.Manager.MemoryThreshold, cfg.Manager.SampleInterval, logger)
		go monitor.Run(rootCtx)
		guard = monitor
	}

	manager := transcodemanager.New(st, driver, reg, transcodemanager.Config{
		Workers: cfg.Manager.WorkerCount,
		Guard:   guard,
	}, logger)

	uploads := upload.NewTable(st, logger)

	handlers := api.New(uploads, manager, reg, logger)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down gracefully")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		manager.Shutdown(shutdownCtx)
		cancelRoot()
	}()

	logger.Info("listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	<-rootCtx.Done()
	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "transcoder",
		Level:      level,
		JSONFormat: cfg.JSON,
		IncludeLocation: cfg.WithSource,
	})
}
