// Package cascade detects faces with an OpenCV Haar cascade.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// Params are the multi-scale detection settings.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

// DefaultParams matches the frontal-face tuning used for ID photos.
var DefaultParams = Params{ScaleFactor: 1.1, MinNeighbors: 5, MinSize: 30}

// Detector counts faces using a fixed pool of loaded classifiers. OpenCV
// classifiers are not safe for concurrent use, so each call borrows one.
type Detector struct {
	params Params
	pool   chan *gocv.CascadeClassifier
}

// New loads size copies of the cascade XML at path.
func New(path string, size int, params Params) (*Detector, error) {
	if size <= 0 {
		size = 1
	}
	if params.ScaleFactor <= 1 {
		params.ScaleFactor = DefaultParams.ScaleFactor
	}
	if params.MinNeighbors <= 0 {
		params.MinNeighbors = DefaultParams.MinNeighbors
	}
	if params.MinSize <= 0 {
		params.MinSize = DefaultParams.MinSize
	}

	d := &Detector{params: params, pool: make(chan *gocv.CascadeClassifier, size)}
	for i := 0; i < size; i++ {
		c := gocv.NewCascadeClassifier()
		if !c.Load(path) {
			c.Close()
			d.Close()
			return nil, fmt.Errorf("load cascade %s", path)
		}
		d.pool <- &c
	}
	return d, nil
}

// CountFaces implements face.Detector.
func (d *Detector) CountFaces(ctx context.Context, img image.Image) (int, error) {
	var c *gocv.CascadeClassifier
	select {
	case c = <-d.pool:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { d.pool <- c }()

	rgba := imaging.Clone(img)
	b := rgba.Bounds()
	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return 0, fmt.Errorf("image to mat: %w", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	if gray.Empty() {
		return 0, errors.New("empty grayscale image")
	}

	minSize := image.Pt(d.params.MinSize, d.params.MinSize)
	rects := c.DetectMultiScaleWithParams(gray, d.params.ScaleFactor, d.params.MinNeighbors, 0, minSize, image.Pt(0, 0))
	return len(rects), nil
}

// Close releases every pooled classifier. It must not race with CountFaces.
func (d *Detector) Close() error {
	var errs []error
	for {
		select {
		case c := <-d.pool:
			errs = append(errs, c.Close())
		default:
			return errors.Join(errs...)
		}
	}
}
