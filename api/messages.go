package api

const (
	MsgRoot           = "Recycling Detection API"
	StatusRunning     = "running"
	StatusHealthy     = "healthy"
	MsgModelNotLoaded = "Model not loaded"

	// MsgDetectionFailed prefixes every decode and inference failure.
	MsgDetectionFailed = "Detection failed: "

	MsgFieldRequired = "image: field required"
	MsgBodyTooLarge  = "request body too large"
)
