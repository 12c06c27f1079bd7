package detections

import "time"

const (
	DefaultInputSize = 640
	// DefaultConfThreshold is the operating point for recycling detection,
	// raised from the exploratory 0.25 to cut false positives.
	DefaultConfThreshold = 0.5
	DefaultIoUThreshold  = 0.7
	DefaultMaxDetections = 300

	// PadValue is the grey level used to letterbox inputs.
	PadValue = 114
)

const (
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)
