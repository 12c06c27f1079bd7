package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/recyclens/detection-service/api"
	"github.com/recyclens/detection-service/codec"
	"github.com/recyclens/detection-service/config"
	"github.com/recyclens/detection-service/detections"

	custom_logger "github.com/recyclens/detection-service/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.Init(config.ParseConfigFlag()); err != nil {
		panic(err)
	}
	cfg := config.Config

	custom_logger.SetDebug(cfg.Server.Debug)

	ctx, span := otel.Tracer("main-tracer").Start(context.Background(), "main")
	logger, _ := custom_logger.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = logger.Sync()
	}()

	engine := loadEngine(cfg, logger)
	defer engine.Close()
	span.End()

	handler := api.NewHandler(
		engine,
		codec.NewDecoder(codec.Options{
			MaxBytes:   cfg.Image.MaxBytes,
			MaxPixels:  cfg.Image.MaxPixels,
			AutoOrient: cfg.Image.AutoOrient,
		}),
		cfg.Model.ConfThreshold,
	)

	srv := &http.Server{
		Handler: api.NewRouter(handler, api.RouterOptions{
			CORSOrigins: cfg.Server.CORSOrigins,
			// base64 inflates by 4/3; leave room for the JSON envelope
			MaxBodyBytes: int64(cfg.Image.MaxBytes)*4/3 + 4096,
		}),
		Addr:         cfg.Server.Addr(),
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	errSig := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr), zap.Bool("model_loaded", engine.Loaded()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errSig <- err
		}
	}()

	quitSig := make(chan os.Signal, 1)
	signal.Notify(quitSig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errSig:
		logger.Error("Server failed", zap.Error(err))
	case <-quitSig:
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Forced shutdown", zap.Error(err))
		}
	}
}

// loadEngine initializes onnxruntime and loads the model. Any failure leaves
// the service running with an unavailable engine.
func loadEngine(cfg config.AppConfig, logger *zap.Logger) *detections.Engine {
	libPath, err := resolveLibrary(cfg.Model.Library)
	if err != nil {
		logger.Error("Failed to locate onnxruntime", zap.Error(err))
		return detections.Unavailable(err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("Failed to initialize ONNX environment", zap.String("library", libPath), zap.Error(err))
		return detections.Unavailable(err)
	}

	return detections.Load(detections.Options{
		ModelPath:      cfg.Model.Path,
		Labels:         cfg.Model.Labels,
		InputSize:      cfg.Model.InputSize,
		IoUThreshold:   cfg.Model.IoUThreshold,
		MaxDetections:  cfg.Model.MaxDetections,
		PoolSize:       cfg.Model.PoolSize,
		Threads:        cfg.Model.Threads,
		AcquireTimeout: cfg.Model.AcquireTimeout,
	}, logger)
}
