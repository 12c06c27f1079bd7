package results

import (
	"sort"

	"github.com/recyclens/detection-service/models"
)

// Rank orders detections by descending confidence. Equal confidences keep
// their input order. The input slice is not modified.
func Rank(detections []models.Detection) []models.Detection {
	ranked := make([]models.Detection, len(detections))
	copy(ranked, detections)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked
}
