package detections

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// letterbox records how an image was fitted into the square model input, so
// boxes can be mapped back to the original pixels.
type letterbox struct {
	Scale        float64
	PadX, PadY   float64
	OrigW, OrigH int
}

// toOriginal maps a box in model input space back to the original image and
// clips it to the image bounds.
func (l letterbox) toOriginal(x1, y1, x2, y2 float64) (float64, float64, float64, float64) {
	clip := func(v float64, hi int) float64 {
		return math.Max(0, math.Min(v, float64(hi)))
	}
	return clip((x1-l.PadX)/l.Scale, l.OrigW),
		clip((y1-l.PadY)/l.Scale, l.OrigH),
		clip((x2-l.PadX)/l.Scale, l.OrigW),
		clip((y2-l.PadY)/l.Scale, l.OrigH)
}

// Preprocessor turns images into CHW float32 tensors in [0,1].
type Preprocessor struct {
	size       int
	numWorkers int
	bufferPool *sync.Pool
}

func NewPreprocessor(size int) *Preprocessor {
	return &Preprocessor{
		size:       size,
		numWorkers: runtime.GOMAXPROCS(0),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]float32, size*size*3)
				return &buf
			},
		},
	}
}

// Process letterboxes img into the model input. The returned buffer must be
// handed back with Put once it has been copied into the input tensor.
func (p *Preprocessor) Process(img image.Image) (*[]float32, letterbox) {
	boxed, lb := p.letterbox(img)
	buffer := p.bufferPool.Get().(*[]float32)
	p.processParallel(boxed, *buffer)
	return buffer, lb
}

func (p *Preprocessor) Put(buffer *[]float32) {
	p.bufferPool.Put(buffer)
}

func (p *Preprocessor) letterbox(img image.Image) (*image.NRGBA, letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := math.Min(float64(p.size)/float64(w), float64(p.size)/float64(h))

	newW := max(1, int(math.Round(float64(w)*scale)))
	newH := max(1, int(math.Round(float64(h)*scale)))
	padX := (p.size - newW) / 2
	padY := (p.size - newH) / 2

	canvas := imaging.New(p.size, p.size, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})
	resized := imaging.Resize(img, newW, newH, imaging.Linear)
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, letterbox{
		Scale: scale,
		PadX:  float64(padX),
		PadY:  float64(padY),
		OrigW: w,
		OrigH: h,
	}
}

// processParallel splits rows between workers and writes planar R, G, B.
func (p *Preprocessor) processParallel(img *image.NRGBA, buffer []float32) {
	channelSize := p.size * p.size
	rowsPerWorker := (p.size + p.numWorkers - 1) / p.numWorkers

	var wg sync.WaitGroup
	for start := 0; start < p.size; start += rowsPerWorker {
		end := min(start+rowsPerWorker, p.size)

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride : y*img.Stride+p.size*4]
				offset := y * p.size
				for x := 0; x < p.size; x++ {
					i := offset + x
					buffer[i] = float32(src[x*4]) / 255.0
					buffer[channelSize+i] = float32(src[x*4+1]) / 255.0
					buffer[channelSize*2+i] = float32(src[x*4+2]) / 255.0
				}
			}
		}(start, end)
	}

	wg.Wait()
}
