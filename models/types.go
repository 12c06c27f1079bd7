package models

import (
	"image"
	"time"
)

// Box is an axis-aligned bounding box in absolute pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width of the box in pixels.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height of the box in pixels.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Degenerate reports whether the box has no area.
func (b Box) Degenerate() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// RawDetection is a single engine detection before normalization.
type RawDetection struct {
	ClassID    int
	Label      string
	Confidence float32
	Box        Box
}

// NormalizedBox holds box values relative to the image dimensions.
type NormalizedBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is the unit returned to clients.
type Detection struct {
	Label      string         `json:"label"`
	Confidence float64        `json:"confidence"`
	BBox       *NormalizedBox `json:"bbox"`
}

// RasterImage is a decoded request image. Alpha is always opaque, so the
// pixel data is effectively three-channel RGB.
type RasterImage struct {
	Image  *image.NRGBA
	Width  int
	Height int
	Format string
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
