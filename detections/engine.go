package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/recyclens/detection-service/models"

	custom_logger "github.com/recyclens/detection-service/logger"
)

// Options configures how an Engine loads its model.
type Options struct {
	ModelPath      string
	Labels         string
	InputSize      int
	IoUThreshold   float32
	MaxDetections  int
	PoolSize       int
	Threads        int
	AcquireTimeout time.Duration
}

// Engine runs object detection on decoded images. It is either loaded, and
// then holds a session pool and the class map, or unavailable with the
// reason the load failed. The state never changes after construction.
type Engine struct {
	reason  error
	classes ClassMap
	pool    *SessionPool
	prep    *Preprocessor
	decoder *decoder
}

// Unavailable returns an engine that rejects every inference with reason.
func Unavailable(reason error) *Engine {
	if reason == nil {
		reason = ErrModelNotLoaded
	}
	return &Engine{reason: reason}
}

// Load builds an engine from opts. A failed load is logged and yields an
// unavailable engine rather than an error, so the service can keep serving
// its status endpoints.
func Load(opts Options, logger *zap.Logger) *Engine {
	start := time.Now()
	engine, err := load(opts, logger)
	if err != nil {
		logger.Error("Failed to load detection model",
			zap.String("path", opts.ModelPath),
			zap.Error(err),
		)
		return Unavailable(err)
	}

	logger.Info("Detection model loaded",
		zap.String("path", opts.ModelPath),
		zap.Int("classes", engine.classes.Len()),
		zap.Stringer("labels", engine.classes),
		zap.Int("pool_size", engine.pool.size),
		zap.Duration("took", time.Since(start)),
	)
	return engine
}

func load(opts Options, logger *zap.Logger) (*Engine, error) {
	if opts.ModelPath == "" {
		return nil, ErrModelNotLoaded
	}
	if !ort.IsInitialized() {
		return nil, errors.New("onnxruntime environment is not initialized")
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultInputSize
	}

	sig, err := inspectModel(opts.ModelPath, opts.InputSize)
	if err != nil {
		return nil, err
	}
	layout, err := layoutFromShape(sig.OutputShape)
	if err != nil {
		return nil, err
	}

	var classes ClassMap
	if opts.Labels != "" {
		classes, err = LoadClassFile(opts.Labels)
	} else {
		classes, err = readClassNames(opts.ModelPath)
	}
	if err != nil {
		return nil, fmt.Errorf("class names: %w", err)
	}
	if classes.Len() != layout.NumClasses {
		logger.Warn("Class map size differs from model output",
			zap.Int("labels", classes.Len()),
			zap.Int("model_classes", layout.NumClasses),
		)
	}

	factory := func() (Session, error) {
		session, err := initSession(opts.ModelPath, sig, opts.Threads)
		if err != nil {
			return nil, err
		}
		if err := session.warmUp(); err != nil {
			session.Destroy()
			return nil, fmt.Errorf("warm-up: %w", err)
		}
		return session, nil
	}

	pool, err := NewSessionPool(factory, opts.PoolSize, opts.AcquireTimeout)
	if err != nil {
		return nil, err
	}

	return &Engine{
		classes: classes,
		pool:    pool,
		prep:    NewPreprocessor(opts.InputSize),
		decoder: newDecoder(layout, classes, float64(opts.IoUThreshold), opts.MaxDetections),
	}, nil
}

// Loaded reports whether the engine can serve inference.
func (e *Engine) Loaded() bool {
	return e.reason == nil
}

// Ready returns a ModelUnavailableError when the engine is not loaded.
func (e *Engine) Ready() error {
	if e.reason != nil {
		return &ModelUnavailableError{Reason: e.reason}
	}
	return nil
}

// Classes returns the class id to label mapping, or nil when unavailable.
func (e *Engine) Classes() map[int]string {
	if !e.Loaded() {
		return nil
	}
	return e.classes.Labels()
}

// Infer runs the model on img and returns every detection whose confidence
// is at least threshold, in pixel coordinates of img. The availability check
// comes before any work.
func (e *Engine) Infer(ctx context.Context, img image.Image, threshold float32, timings *models.ProcessingTimings) ([]models.RawDetection, error) {
	if err := e.Ready(); err != nil {
		return nil, err
	}
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	logger, _ := custom_logger.GetZapLogger(ctx)

	prepStart := time.Now()
	buffer, lb := e.prep.Process(img)
	defer e.prep.Put(buffer)
	timings.Preprocess = time.Since(prepStart)

	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, &InferenceError{Message: "no inference session available", Cause: err}
	}

	inferStart := time.Now()
	output, err := session.Run(*buffer)
	if err != nil {
		e.pool.Discard(session, err)
		return nil, &InferenceError{Message: "model inference", Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	detections, dropped, err := e.decoder.decode(output, lb, threshold)
	e.pool.Release(session)
	if err != nil {
		return nil, &InferenceError{Message: "process predictions", Cause: err}
	}
	timings.Postprocess = time.Since(postStart)

	if dropped > 0 {
		logger.Debug("Dropped boxes without area", zap.Int("count", dropped))
	}
	return detections, nil
}

// Metrics reports session pool activity. It is zero for an unavailable engine.
func (e *Engine) Metrics() PoolMetrics {
	if e.pool == nil {
		return PoolMetrics{}
	}
	return e.pool.GetMetrics()
}

// Close releases all sessions.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Destroy()
	}
}
