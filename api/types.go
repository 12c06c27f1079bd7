package api

import (
	"github.com/recyclens/detection-service/detections"
	"github.com/recyclens/detection-service/models"
)

type DetectRequest struct {
	Image *string `json:"image"`
}

type DetectResponse struct {
	Detections []models.Detection `json:"detections"`
}

type RootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	ModelLoaded bool           `json:"model_loaded"`
	Classes     map[int]string `json:"classes"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type MetricsResponse struct {
	ModelLoaded bool `json:"model_loaded"`
	detections.PoolMetrics
}
