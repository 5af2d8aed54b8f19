// Package face decides whether a document carries a face photograph.
package face

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrDetector marks a detector that could not produce a count.
var ErrDetector = errors.New("face detector unavailable")

// Detector counts face-like regions in an image.
type Detector interface {
	CountFaces(ctx context.Context, img image.Image) (int, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) (int, error)

// CountFaces calls f.
func (f DetectorFunc) CountFaces(ctx context.Context, img image.Image) (int, error) {
	return f(ctx, img)
}

// Presence reports whether at least one face region was detected. A missing
// or failing detector yields false together with an ErrDetector error so the
// caller can record why.
func Presence(ctx context.Context, d Detector, img image.Image) (bool, error) {
	if d == nil {
		return false, ErrDetector
	}
	n, err := d.CountFaces(ctx, img)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDetector, err)
	}
	if n < 0 {
		return false, fmt.Errorf("%w: negative region count %d", ErrDetector, n)
	}
	return n > 0, nil
}
