// Package codec turns base64 image payloads into opaque RGB rasters.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/recyclens/detection-service/models"
)

const (
	// DefaultMaxBytes caps the decoded payload size.
	DefaultMaxBytes = 10 << 20

	// DefaultMaxPixels caps width*height read from the image header, the
	// same limit PIL applies to decompression bombs.
	DefaultMaxPixels = 1024 * 1024 * 1024 / 4 / 3
)

var supportedTypes = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
	"image/webp": "webp",
}

// DecodeError is returned when the payload cannot be turned into an image.
type DecodeError struct {
	Message string
	Cause   error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Options tune the decoder. The zero value uses DefaultMaxBytes,
// DefaultMaxPixels and no EXIF orientation.
type Options struct {
	MaxBytes   int
	MaxPixels  int
	AutoOrient bool
}

// Decoder decodes image payloads.
type Decoder struct {
	opts Options
}

// NewDecoder returns a decoder with the given options.
func NewDecoder(opts Options) *Decoder {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Decoder{opts: opts}
}

// Decode decodes payload with default options.
func Decode(payload string) (*models.RasterImage, error) {
	return NewDecoder(Options{}).Decode(payload)
}

// Decode reverses the base64 transport encoding and parses the raster.
func (d *Decoder) Decode(payload string) (*models.RasterImage, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, &DecodeError{Message: "invalid base64 image", Cause: err}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Message: "empty image"}
	}
	if len(data) > d.opts.MaxBytes {
		return nil, &DecodeError{Message: fmt.Sprintf("image size must be smaller than %d bytes, got %d", d.opts.MaxBytes, len(data))}
	}

	mimeType := mimetype.Detect(data).String()
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	format, ok := supportedTypes[mimeType]
	if !ok {
		return nil, &DecodeError{Message: fmt.Sprintf("cannot identify image file (content type %s)", mimeType)}
	}

	// The raster is allocated from the header dimensions, so check them
	// before decoding any pixel data.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Message: "cannot decode " + format + " image", Cause: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(d.opts.MaxPixels) {
		return nil, &DecodeError{Message: fmt.Sprintf("image of %dx%d pixels exceeds the limit of %d pixels", cfg.Width, cfg.Height, d.opts.MaxPixels)}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(d.opts.AutoOrient))
	if err != nil {
		return nil, &DecodeError{Message: "cannot decode " + format + " image", Cause: err}
	}

	raster := toOpaqueNRGBA(img)
	b := raster.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Message: fmt.Sprintf("image has invalid dimensions %dx%d", b.Dx(), b.Dy())}
	}

	return &models.RasterImage{
		Image:  raster,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
	}, nil
}

// DecodeBase64 accepts standard base64 with or without padding, embedded
// whitespace and an optional data URI prefix.
func DecodeBase64(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data URI")
		}
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)

	if len(s)%4 == 0 {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// toOpaqueNRGBA copies img into a zero-origin NRGBA and drops the alpha
// channel, keeping the stored color values.
func toOpaqueNRGBA(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
