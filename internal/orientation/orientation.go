// Package orientation estimates coarse document rotation without an OCR engine.
package orientation

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ErrUndetermined is returned when the image gives no usable signal.
var ErrUndetermined = errors.New("orientation undetermined")

// Heuristic compares dark/light transitions along rows and columns of a
// thumbnail. Text lines produce many transitions across the reading
// direction, so a card photographed sideways shows more column transitions.
// It can only tell 0 from 90; 180 and 270 are reported as 0 and 90.
type Heuristic struct {
	// ConfidenceThreshold below which the estimate collapses to 0.
	ConfidenceThreshold float64
	// SquareThreshold is the aspect ratio under which images are left alone.
	SquareThreshold float64
}

// NewHeuristic returns a heuristic estimator with the given confidence threshold.
func NewHeuristic(threshold float64) *Heuristic {
	return &Heuristic{ConfidenceThreshold: threshold, SquareThreshold: 1.2}
}

// EstimateRotation implements normalize.RotationEstimator.
func (h *Heuristic) EstimateRotation(ctx context.Context, img image.Image) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if img == nil {
		return 0, ErrUndetermined
	}
	b := img.Bounds()
	if b.Dx() <= 1 || b.Dy() <= 1 {
		return 0, ErrUndetermined
	}
	if h.SquareThreshold > 0 && isNearSquare(b, h.SquareThreshold) {
		return 0, nil
	}

	angle, confidence := Estimate(img)
	if confidence < h.ConfidenceThreshold {
		return 0, nil
	}
	return angle, nil
}

// Estimate returns 0 or 90 with a confidence in [0,1].
func Estimate(img image.Image) (int, float64) {
	thumb := imaging.Resize(img, 128, 128, imaging.Lanczos)
	mean := meanLuminance(thumb)
	rows := rowTransitions(thumb, mean)
	cols := columnTransitions(thumb, mean)

	total := rows + cols
	if total == 0 {
		return 0, 0
	}

	// aspect ratio of the original, not the square thumbnail
	ar := aspectRatio(img.Bounds())
	if cols >= rows {
		conf := (cols - rows) / total
		if ar > 1.2 {
			conf = math.Min(1.0, conf+0.15)
		}
		return 90, conf
	}
	conf := (rows - cols) / total
	if ar < 0.8 {
		conf = math.Min(1.0, conf+0.1)
	}
	return 0, conf
}

func isNearSquare(b image.Rectangle, threshold float64) bool {
	w, h := float64(b.Dx()), float64(b.Dy())
	ratio := w / h
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio <= threshold
}

func meanLuminance(img *image.NRGBA) float64 {
	b := img.Bounds()
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += luminance(img.At(x, y))
		}
	}
	return sum / float64(b.Dx()*b.Dy())
}

func rowTransitions(img *image.NRGBA, mean float64) float64 {
	b := img.Bounds()
	var n float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		prev := binarize(luminance(img.At(b.Min.X, y)), mean)
		for x := b.Min.X + 1; x < b.Max.X; x++ {
			cur := binarize(luminance(img.At(x, y)), mean)
			if cur != prev {
				n++
			}
			prev = cur
		}
	}
	return n
}

func columnTransitions(img *image.NRGBA, mean float64) float64 {
	b := img.Bounds()
	var n float64
	for x := b.Min.X; x < b.Max.X; x++ {
		prev := binarize(luminance(img.At(x, b.Min.Y)), mean)
		for y := b.Min.Y + 1; y < b.Max.Y; y++ {
			cur := binarize(luminance(img.At(x, y)), mean)
			if cur != prev {
				n++
			}
			prev = cur
		}
	}
	return n
}

func luminance(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

func binarize(lum, threshold float64) int {
	if lum < threshold {
		return 1
	}
	return 0
}

// aspectRatio is height over width.
func aspectRatio(b image.Rectangle) float64 {
	return float64(b.Dy()) / float64(b.Dx())
}
