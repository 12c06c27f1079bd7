package detections

import (
	"math"

	"github.com/recyclens/detection-service/models"
)

// nonMaxSuppression keeps the best box of each overlapping group of the same
// class. candidates must be sorted by descending score; the result keeps that
// order and holds at most maxDetections entries.
func nonMaxSuppression(candidates []candidate, iouThreshold float64, maxDetections int) []candidate {
	kept := make([]candidate, 0, min(len(candidates), maxDetections))
	suppressed := make([]bool, len(candidates))

	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		if len(kept) == maxDetections {
			break
		}

		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] || candidates[j].classID != candidates[i].classID {
				continue
			}
			if calculateIOU(candidates[i].box, candidates[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

func calculateIOU(box1, box2 models.Box) float64 {
	x1 := math.Max(box1.X1, box2.X1)
	y1 := math.Max(box1.Y1, box2.Y1)
	x2 := math.Min(box1.X2, box2.X2)
	y2 := math.Min(box1.Y2, box2.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := box1.Width()*box1.Height() + box2.Width()*box2.Height() - intersection

	return intersection / union
}
