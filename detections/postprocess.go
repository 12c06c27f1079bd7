package detections

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/recyclens/detection-service/models"
)

// outputLayout describes a YOLO detection head: per anchor four box
// coordinates (cx, cy, w, h in input pixels) followed by one score per class.
type outputLayout struct {
	NumClasses int
	Anchors    int
	// Transposed is set for [1, anchors, 4+classes] exports.
	Transposed bool
}

// layoutFromShape infers the layout of a [1, a, b] output tensor.
func layoutFromShape(dims []int64) (outputLayout, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return outputLayout{}, fmt.Errorf("unexpected output shape %v", dims)
	}
	a, b := int(dims[1]), int(dims[2])
	switch {
	case a > 4 && a < b:
		return outputLayout{NumClasses: a - 4, Anchors: b}, nil
	case b > 4:
		return outputLayout{NumClasses: b - 4, Anchors: a, Transposed: true}, nil
	default:
		return outputLayout{}, fmt.Errorf("output shape %v has no class scores", dims)
	}
}

func (l outputLayout) size() int {
	return (4 + l.NumClasses) * l.Anchors
}

// at returns attribute attr of anchor i.
func (l outputLayout) at(data []float32, attr, i int) float32 {
	if l.Transposed {
		return data[i*(4+l.NumClasses)+attr]
	}
	return data[attr*l.Anchors+i]
}

type candidate struct {
	anchor  int
	classID int
	score   float32
	box     models.Box
}

// decoder turns raw output tensors into labelled detections.
type decoder struct {
	layout        outputLayout
	classes       ClassMap
	iouThreshold  float64
	maxDetections int
	numWorkers    int
}

func newDecoder(layout outputLayout, classes ClassMap, iouThreshold float64, maxDetections int) *decoder {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIoUThreshold
	}
	if maxDetections <= 0 {
		maxDetections = DefaultMaxDetections
	}
	return &decoder{
		layout:        layout,
		classes:       classes,
		iouThreshold:  iouThreshold,
		maxDetections: maxDetections,
		numWorkers:    runtime.NumCPU(),
	}
}

// decode filters anchors by score, maps boxes back to the original image,
// suppresses overlaps and resolves labels. It also reports how many scoring
// boxes were dropped for having no area inside the image.
func (d *decoder) decode(output []float32, lb letterbox, threshold float32) ([]models.RawDetection, int, error) {
	if len(output) != d.layout.size() {
		return nil, 0, fmt.Errorf("unexpected predictions length: got %d, want %d", len(output), d.layout.size())
	}

	candidates, dropped := d.collect(output, lb, threshold)
	kept := nonMaxSuppression(candidates, d.iouThreshold, d.maxDetections)

	detections := make([]models.RawDetection, 0, len(kept))
	for _, c := range kept {
		label, err := d.classes.Lookup(c.classID)
		if err != nil {
			return nil, dropped, err
		}
		detections = append(detections, models.RawDetection{
			ClassID:    c.classID,
			Label:      label,
			Confidence: c.score,
			Box:        c.box,
		})
	}
	return detections, dropped, nil
}

// collect scans anchors in chunks across workers and returns every
// candidate whose best class score reaches threshold.
func (d *decoder) collect(output []float32, lb letterbox, threshold float32) ([]candidate, int) {
	const chunkSize = 512
	numAnchors := d.layout.Anchors
	var degenerate atomic.Int64

	jobs := make(chan int, d.numWorkers)
	results := make(chan []candidate, d.numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < d.numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var local []candidate

			for start := range jobs {
				end := min(start+chunkSize, numAnchors)
				for i := start; i < end; i++ {
					c, ok := d.candidateAt(output, lb, threshold, i)
					if !ok {
						continue
					}
					if c.box.Degenerate() {
						degenerate.Add(1)
						continue
					}
					local = append(local, c)
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < numAnchors; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var candidates []candidate
	for chunk := range results {
		candidates = append(candidates, chunk...)
	}

	// Workers finish in any order; anchor index keeps ties deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].anchor < candidates[j].anchor
	})
	return candidates, int(degenerate.Load())
}

func (d *decoder) candidateAt(output []float32, lb letterbox, threshold float32, i int) (candidate, bool) {
	l := d.layout

	classID, score := 0, l.at(output, 4, i)
	for k := 1; k < l.NumClasses; k++ {
		if s := l.at(output, 4+k, i); s > score {
			classID, score = k, s
		}
	}
	if score < threshold {
		return candidate{}, false
	}

	cx := float64(l.at(output, 0, i))
	cy := float64(l.at(output, 1, i))
	w := float64(l.at(output, 2, i))
	h := float64(l.at(output, 3, i))

	x1, y1, x2, y2 := lb.toOriginal(cx-w/2, cy-h/2, cx+w/2, cy+h/2)
	box := models.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}

	return candidate{anchor: i, classID: classID, score: score, box: box}, true
}
