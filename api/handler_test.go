package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recyclens/detection-service/codec"
	"github.com/recyclens/detection-service/detections"
	"github.com/recyclens/detection-service/models"
)

type fakeDetector struct {
	loaded    bool
	classes   map[int]string
	raw       []models.RawDetection
	err       error
	panicMsg  string
	calls     int
	threshold float32
	size      image.Point
}

func (f *fakeDetector) Loaded() bool { return f.loaded }

func (f *fakeDetector) Classes() map[int]string {
	if !f.loaded {
		return nil
	}
	return f.classes
}

func (f *fakeDetector) Infer(_ context.Context, img image.Image, threshold float32, _ *models.ProcessingTimings) ([]models.RawDetection, error) {
	f.calls++
	f.threshold = threshold
	f.size = img.Bounds().Size()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.raw, nil
}

func (f *fakeDetector) Metrics() detections.PoolMetrics {
	return detections.PoolMetrics{
		Size:          2,
		TotalAcquired: int64(f.calls),
		LastErrors:    []string{"onnxruntime: run failed"},
	}
}

func pngPayload(t *testing.T, w, h int) string {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestClient(t *testing.T, detector Detector, opts RouterOptions) *resty.Client {
	handler := NewHandler(detector, codec.NewDecoder(codec.Options{}), detections.DefaultConfThreshold)
	srv := httptest.NewServer(NewRouter(handler, opts))
	t.Cleanup(srv.Close)

	return resty.New().SetBaseURL(srv.URL)
}

func TestRoot(t *testing.T) {
	client := newTestClient(t, &fakeDetector{}, RouterOptions{})

	var body RootResponse
	resp, err := client.R().SetResult(&body).Get("/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, RootResponse{Message: "Recycling Detection API", Status: "running"}, body)
}

func TestHealth(t *testing.T) {
	t.Run("loaded", func(t *testing.T) {
		client := newTestClient(t, &fakeDetector{loaded: true, classes: map[int]string{0: "cardboard", 1: "glass"}}, RouterOptions{})

		resp, err := client.R().Get("/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.JSONEq(t, `{"status":"healthy","model_loaded":true,"classes":{"0":"cardboard","1":"glass"}}`, resp.String())
	})

	t.Run("unavailable", func(t *testing.T) {
		client := newTestClient(t, &fakeDetector{}, RouterOptions{})

		resp, err := client.R().Get("/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.JSONEq(t, `{"status":"healthy","model_loaded":false,"classes":null}`, resp.String())
	})
}

func TestDetect_ModelUnavailable(t *testing.T) {
	testcases := []struct {
		name string
		body string
	}{
		{name: "valid image", body: `{"image":"` + pngPayload(t, 4, 4) + `"}`},
		{name: "malformed payload", body: `{"image":"not base64!!"}`},
		{name: "invalid json", body: `{{{`},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			detector := &fakeDetector{}
			client := newTestClient(t, detector, RouterOptions{})

			resp, err := client.R().
				SetHeader("Content-Type", "application/json").
				SetBody(tc.body).
				Post("/v1/detect")
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
			assert.JSONEq(t, `{"detail":"Model not loaded"}`, resp.String())
			assert.Zero(t, detector.calls)
		})
	}
}

func TestDetect_Success(t *testing.T) {
	detector := &fakeDetector{
		loaded: true,
		raw: []models.RawDetection{
			{ClassID: 1, Label: "glass", Confidence: 0.5, Box: models.Box{X1: 0, Y1: 0, X2: 50, Y2: 100}},
			{ClassID: 0, Label: "plastic", Confidence: 0.875, Box: models.Box{X1: 10, Y1: 20, X2: 110, Y2: 220}},
			{ClassID: 2, Label: "metal", Confidence: 0.75, Box: models.Box{X1: 25, Y1: 50, X2: 75, Y2: 150}},
		},
	}
	client := newTestClient(t, detector, RouterOptions{})

	var body DetectResponse
	resp, err := client.R().
		SetBody(DetectRequest{Image: stringPtr(pngPayload(t, 100, 200))}).
		SetResult(&body).
		Post("/v1/detect")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())

	assert.Equal(t, float32(0.5), detector.threshold)
	assert.Equal(t, image.Pt(100, 200), detector.size)
	assert.NotEmpty(t, resp.Header().Get(RequestIDHeader))

	require.Len(t, body.Detections, 3)
	assert.Equal(t, "plastic", body.Detections[0].Label)
	assert.Equal(t, 0.875, body.Detections[0].Confidence)
	assert.Equal(t, models.NormalizedBox{X: 0.1, Y: 0.1, Width: 1, Height: 1}, *body.Detections[0].BBox)
	assert.Equal(t, "metal", body.Detections[1].Label)
	assert.Equal(t, models.NormalizedBox{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5}, *body.Detections[1].BBox)
	assert.Equal(t, "glass", body.Detections[2].Label)

	for i := 1; i < len(body.Detections); i++ {
		assert.GreaterOrEqual(t, body.Detections[i-1].Confidence, body.Detections[i].Confidence)
	}
}

func TestDetect_NoDetections(t *testing.T) {
	client := newTestClient(t, &fakeDetector{loaded: true}, RouterOptions{})

	resp, err := client.R().
		SetBody(DetectRequest{Image: stringPtr(pngPayload(t, 8, 8))}).
		Post("/v1/detect")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.JSONEq(t, `{"detections":[]}`, resp.String())
}

func TestDetect_Failures(t *testing.T) {
	testcases := []struct {
		name     string
		body     string
		inferErr error
		status   int
		detail   string
	}{
		{
			name:   "invalid base64",
			body:   `{"image":"not base64!!"}`,
			status: http.StatusInternalServerError,
			detail: "Detection failed: invalid base64 image",
		},
		{
			name:   "not an image",
			body:   `{"image":"` + base64.StdEncoding.EncodeToString([]byte("hello, world")) + `"}`,
			status: http.StatusInternalServerError,
			detail: "Detection failed: cannot identify image file",
		},
		{
			name:   "empty image",
			body:   `{"image":""}`,
			status: http.StatusInternalServerError,
			detail: "Detection failed: empty image",
		},
		{
			name:     "inference error",
			body:     `{"image":"` + pngPayload(t, 4, 4) + `"}`,
			inferErr: &detections.InferenceError{Message: "process predictions", Cause: &detections.ConsistencyError{ClassID: 9}},
			status:   http.StatusInternalServerError,
			detail:   "Detection failed: process predictions: class id 9 has no label",
		},
		{
			name:     "unavailable during inference",
			body:     `{"image":"` + pngPayload(t, 4, 4) + `"}`,
			inferErr: &detections.ModelUnavailableError{Reason: errors.New("gone")},
			status:   http.StatusInternalServerError,
			detail:   "Model not loaded",
		},
		{
			name:   "invalid json",
			body:   `{"image":`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "missing image field",
			body:   `{"picture":"abc"}`,
			status: http.StatusUnprocessableEntity,
			detail: "image: field required",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, &fakeDetector{loaded: true, err: tc.inferErr}, RouterOptions{})

			var body ErrorResponse
			resp, err := client.R().
				SetHeader("Content-Type", "application/json").
				SetBody(tc.body).
				SetError(&body).
				Post("/v1/detect")
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode())
			assert.True(t, strings.HasPrefix(body.Detail, tc.detail), body.Detail)
		})
	}
}

func TestDetect_BodyTooLarge(t *testing.T) {
	client := newTestClient(t, &fakeDetector{loaded: true}, RouterOptions{MaxBodyBytes: 64})

	resp, err := client.R().
		SetBody(DetectRequest{Image: stringPtr(pngPayload(t, 32, 32))}).
		Post("/v1/detect")
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode())
}

func TestMetrics(t *testing.T) {
	client := newTestClient(t, &fakeDetector{loaded: true}, RouterOptions{})

	resp, err := client.R().Get("/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.JSONEq(t, `{"model_loaded":true,"pool_size":2,"sessions_in_use":0,"total_acquired":0,"total_released":0,"total_discarded":0,"acquire_failures":0,"last_errors":["onnxruntime: run failed"]}`, resp.String())
}

func TestCORSAndRequestID(t *testing.T) {
	client := newTestClient(t, &fakeDetector{}, RouterOptions{CORSOrigins: []string{"*"}})

	resp, err := client.R().
		SetHeader("Origin", "http://mobile.example").
		SetHeader(RequestIDHeader, "req-42").
		Get("/health")
	require.NoError(t, err)
	assert.Equal(t, "http://mobile.example", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "req-42", resp.Header().Get(RequestIDHeader))
}

func TestCORS_ExplicitOrigins(t *testing.T) {
	client := newTestClient(t, &fakeDetector{}, RouterOptions{CORSOrigins: []string{"https://app.example"}})

	resp, err := client.R().SetHeader("Origin", "https://app.example").Get("/health")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example", resp.Header().Get("Access-Control-Allow-Origin"))

	resp, err = client.R().SetHeader("Origin", "https://other.example").Get("/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestDetect_PanicUsesErrorEnvelope(t *testing.T) {
	client := newTestClient(t, &fakeDetector{loaded: true, panicMsg: "index out of range"}, RouterOptions{})

	var body ErrorResponse
	resp, err := client.R().
		SetBody(DetectRequest{Image: stringPtr(pngPayload(t, 4, 4))}).
		SetError(&body).
		Post("/v1/detect")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Equal(t, "Detection failed: index out of range", body.Detail)
	assert.NotEmpty(t, resp.Header().Get(RequestIDHeader))
}

func stringPtr(s string) *string { return &s }
