// Package normalize turns uploaded image bytes into a canonical upright raster.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels bounds the declared raster size accepted by Decode.
const DefaultMaxPixels = 40_000_000

// ErrDecode marks input that is not a usable image.
var ErrDecode = errors.New("invalid image data")

// DecodeError describes why the input bytes could not be turned into an image.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode image: %s: %v", e.Reason, e.Err)
	}
	return "decode image: " + e.Reason
}

// Is lets callers match any DecodeError against ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// Image is the upright NRGBA raster consumed read-only by every later stage.
type Image struct {
	Raster   *image.NRGBA
	Width    int
	Height   int
	Format   string
	Rotation int
}

// Bounds exposes the raster bounds so Image can be handed to code expecting dimensions.
func (i *Image) Bounds() image.Rectangle { return i.Raster.Bounds() }

// RotationEstimator reports the rotation, in degrees, that brings the document
// upright. Errors are tolerated by the normalizer.
type RotationEstimator interface {
	EstimateRotation(ctx context.Context, img image.Image) (int, error)
}

// Sink receives corrected images for offline inspection.
type Sink interface {
	Save(ctx context.Context, name string, img image.Image)
}

// Normalizer decodes and uprights uploaded images.
type Normalizer struct {
	estimator RotationEstimator
	sink      Sink
	maxPixels int64
	logger    *zap.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithEstimator sets the orientation estimator. Without one images pass through unrotated.
func WithEstimator(e RotationEstimator) Option {
	return func(n *Normalizer) { n.estimator = e }
}

// WithSink sets a diagnostics sink for corrected images.
func WithSink(s Sink) Option {
	return func(n *Normalizer) { n.sink = s }
}

// WithMaxPixels overrides DefaultMaxPixels. Non-positive values are ignored.
func WithMaxPixels(limit int64) Option {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxPixels = limit
		}
	}
}

// NewNormalizer builds a Normalizer.
func NewNormalizer(logger *zap.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{maxPixels: DefaultMaxPixels, logger: logger.Named("normalizer")}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Decode parses encoded image bytes. It fails with ErrDecode on unreadable
// data, a zero-sized raster or one declaring more than DefaultMaxPixels.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited is Decode with an explicit pixel budget. The header is
// checked before any pixel data is allocated.
func DecodeLimited(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Reason: "empty payload"}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Reason: "unrecognised format", Err: err}
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", &DecodeError{Reason: "image too large", Err: fmt.Errorf("%dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Reason: "unrecognised format", Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", &DecodeError{Reason: fmt.Sprintf("zero dimensions %dx%d", b.Dx(), b.Dy())}
	}
	return img, format, nil
}

// Normalize decodes data and corrects its orientation. Only decoding can fail;
// estimator errors leave the image as decoded.
func (n *Normalizer) Normalize(ctx context.Context, name string, data []byte) (*Image, error) {
	img, format, err := DecodeLimited(data, n.maxPixels)
	if err != nil {
		return nil, err
	}

	rotation := 0
	if n.estimator != nil {
		deg, estErr := n.estimator.EstimateRotation(ctx, img)
		if estErr != nil {
			n.logger.Warn("rotation detection failed", zap.Error(estErr))
		} else {
			rotation = normalizeDegrees(deg)
		}
	}

	upright := imaging.Clone(img)
	if rotation != 0 {
		upright = Rotate(upright, rotation)
		n.logger.Debug("image rotated", zap.Int("degrees", rotation))
	}

	if n.sink != nil {
		n.sink.Save(ctx, name, upright)
	}

	b := upright.Bounds()
	return &Image{
		Raster:   upright,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Format:   format,
		Rotation: rotation,
	}, nil
}

// Rotate turns img by the negative of degrees (clockwise by degrees), growing
// the canvas so no content is cropped. Uncovered corners are filled white.
func Rotate(img image.Image, degrees int) *image.NRGBA {
	// imaging rotates counter-clockwise for positive angles.
	return imaging.Rotate(img, float64(-degrees), color.White)
}

// FromRaster wraps an already-decoded raster, used by tests and the CLI.
func FromRaster(img image.Image) (*Image, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("zero dimensions %dx%d", b.Dx(), b.Dy())}
	}
	nrgba := imaging.Clone(img)
	return &Image{Raster: nrgba, Width: b.Dx(), Height: b.Dy()}, nil
}

func normalizeDegrees(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
