package detections

import (
	"errors"
	"fmt"
)

// ErrModelNotLoaded is the reason reported by an engine built without a model.
var ErrModelNotLoaded = errors.New("model not loaded")

// ModelUnavailableError is returned for every inference attempt on an
// engine whose model failed to load.
type ModelUnavailableError struct {
	Reason error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model unavailable: %v", e.Reason)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Reason
}

// InferenceError wraps failures of the forward pass or its post-processing.
type InferenceError struct {
	Message string
	Cause   error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// ConsistencyError reports a class id the loaded model has no label for.
type ConsistencyError struct {
	ClassID int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("class id %d has no label", e.ClassID)
}
