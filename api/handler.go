package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/recyclens/detection-service/codec"
	"github.com/recyclens/detection-service/detections"
	"github.com/recyclens/detection-service/models"
	"github.com/recyclens/detection-service/results"

	custom_logger "github.com/recyclens/detection-service/logger"
)

var tracer = otel.Tracer("detection-service.handler.tracer")

// Detector is the inference capability the handler depends on.
type Detector interface {
	Loaded() bool
	Classes() map[int]string
	Infer(ctx context.Context, img image.Image, threshold float32, timings *models.ProcessingTimings) ([]models.RawDetection, error)
	Metrics() detections.PoolMetrics
}

// Handler serves the detection API.
type Handler struct {
	detector  Detector
	decoder   *codec.Decoder
	threshold float32
}

func NewHandler(detector Detector, decoder *codec.Decoder, threshold float32) *Handler {
	if decoder == nil {
		decoder = codec.NewDecoder(codec.Options{})
	}
	return &Handler{
		detector:  detector,
		decoder:   decoder,
		threshold: threshold,
	}
}

func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{Message: MsgRoot, Status: StatusRunning})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      StatusHealthy,
		ModelLoaded: h.detector.Loaded(),
		Classes:     h.detector.Classes(),
	})
}

func (h *Handler) Metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MetricsResponse{
		ModelLoaded: h.detector.Loaded(),
		PoolMetrics: h.detector.Metrics(),
	})
}

// Detect runs the detection pipeline on one base64 image. Model availability
// is checked before the body is read.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()

	ctx, span := tracer.Start(r.Context(), "Detect",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	logger, _ := custom_logger.GetZapLogger(ctx)
	timings := &models.ProcessingTimings{RequestID: RequestIDFromContext(ctx)}

	if !h.detector.Loaded() {
		logger.Warn("Detection requested while model is unavailable")
		writeError(w, http.StatusInternalServerError, MsgModelNotLoaded)
		return
	}

	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if req.Image == nil {
		writeError(w, http.StatusUnprocessableEntity, MsgFieldRequired)
		return
	}

	decodeStart := time.Now()
	raster, err := h.decoder.Decode(*req.Image)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	logger.Debug("Image decoded",
		zap.String("request_id", timings.RequestID),
		zap.String("format", raster.Format),
		zap.Int("width", raster.Width),
		zap.Int("height", raster.Height),
	)

	raw, err := h.detector.Infer(ctx, raster.Image, h.threshold, timings)
	if err != nil {
		h.fail(w, logger, err)
		return
	}

	for _, d := range raw {
		logger.Debug("Detection",
			zap.String("label", d.Label),
			zap.Float32("confidence", d.Confidence),
			zap.Float64s("box", []float64{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2}),
		)
	}

	ranked := results.Rank(results.FromRaw(raw, raster.Width, raster.Height))
	timings.Total = time.Since(startTotal)

	logger.Debug("Detections ranked",
		zap.String("request_id", timings.RequestID),
		zap.Any("detections", ranked),
	)
	logTimings(logger, timings)

	writeJSON(w, http.StatusOK, DetectResponse{Detections: ranked})
}

// fail maps pipeline errors onto the response envelope.
func (h *Handler) fail(w http.ResponseWriter, logger *zap.Logger, err error) {
	var unavailable *detections.ModelUnavailableError
	if errors.As(err, &unavailable) {
		writeError(w, http.StatusInternalServerError, MsgModelNotLoaded)
		return
	}

	var decodeErr *codec.DecodeError
	if errors.As(err, &decodeErr) {
		logger.Info("Rejected image payload", zap.Error(err))
	} else {
		logger.Error("Detection failed", zap.Error(err))
	}
	writeError(w, http.StatusInternalServerError, MsgDetectionFailed+err.Error())
}

func logTimings(logger *zap.Logger, t *models.ProcessingTimings) {
	logger.Debug("Processing times",
		zap.String("request_id", t.RequestID),
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("preprocess", t.Preprocess),
		zap.Duration("inference", t.Inference),
		zap.Duration("postprocess", t.Postprocess),
		zap.Duration("total", t.Total),
	)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
