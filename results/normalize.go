// Package results shapes raw engine output into the client contract.
package results

import (
	"github.com/recyclens/detection-service/models"
)

// Normalize converts a pixel-space box to coordinates relative to the image
// size. Values are not clamped; a box outside the image yields values outside
// [0,1]. width and height must be positive.
func Normalize(box models.Box, width, height int) models.NormalizedBox {
	w, h := float64(width), float64(height)
	return models.NormalizedBox{
		X:      box.X1 / w,
		Y:      box.Y1 / h,
		Width:  (box.X2 - box.X1) / w,
		Height: (box.Y2 - box.Y1) / h,
	}
}

// FromRaw normalizes every raw detection against the raster size, keeping
// the engine order.
func FromRaw(raw []models.RawDetection, width, height int) []models.Detection {
	out := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		bbox := Normalize(r.Box, width, height)
		out = append(out, models.Detection{
			Label:      r.Label,
			Confidence: float64(r.Confidence),
			BBox:       &bbox,
		})
	}
	return out
}
