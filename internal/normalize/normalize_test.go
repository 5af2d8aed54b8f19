package normalize

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEstimator struct {
	degrees int
	err     error
	calls   int
}

func (s *stubEstimator) EstimateRotation(ctx context.Context, img image.Image) (int, error) {
	s.calls++
	return s.degrees, s.err
}

type recordingSink struct {
	names []string
}

func (r *recordingSink) Save(ctx context.Context, name string, img image.Image) {
	r.names = append(r.names, name)
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// withDeclaredSize rewrites the IHDR chunk of a PNG so it declares w x h
// without carrying the pixel data.
func withDeclaredSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	require.Equal(t, "IHDR", string(data[12:16]))
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestDecodeRejectsOversizedDeclaredCanvas(t *testing.T) {
	data := withDeclaredSize(t, encodePNG(t, 4, 4), 100000, 100000)
	require.Less(t, len(data), 1024)

	_, _, err := Decode(data)
	require.ErrorIs(t, err, ErrDecode)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, "image too large", decErr.Reason)
}

func TestDecodeLimitedBoundary(t *testing.T) {
	data := encodePNG(t, 10, 10)

	img, format, err := DecodeLimited(data, 100)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 10, img.Bounds().Dx())

	_, _, err = DecodeLimited(data, 99)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestNormalizeHonoursMaxPixels(t *testing.T) {
	est := &stubEstimator{}
	n := NewNormalizer(zap.NewNop(), WithEstimator(est), WithMaxPixels(50))

	_, err := n.Normalize(context.Background(), "big", encodePNG(t, 10, 10))
	require.ErrorIs(t, err, ErrDecode)
	assert.Zero(t, est.calls)
}

func TestDecodeRejectsCorruptBytes(t *testing.T) {
	_, _, err := Decode([]byte("definitely not an image"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, "unrecognised format", decErr.Reason)
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	_, _, err := Decode(nil)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestNormalizePassesThroughWhenEstimatorFails(t *testing.T) {
	est := &stubEstimator{err: errors.New("osd unavailable")}
	n := NewNormalizer(zap.NewNop(), WithEstimator(est))

	img, err := n.Normalize(context.Background(), "req", encodePNG(t, 40, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, est.calls)
	assert.Equal(t, 40, img.Width)
	assert.Equal(t, 20, img.Height)
	assert.Equal(t, 0, img.Rotation)
	assert.Equal(t, "png", img.Format)
}

func TestNormalizeRotatesAndExpandsCanvas(t *testing.T) {
	est := &stubEstimator{degrees: 90}
	sink := &recordingSink{}
	n := NewNormalizer(zap.NewNop(), WithEstimator(est), WithSink(sink))

	img, err := n.Normalize(context.Background(), "req-7", encodePNG(t, 40, 20))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Width)
	assert.Equal(t, 40, img.Height)
	assert.Equal(t, 90, img.Rotation)
	assert.Equal(t, []string{"req-7"}, sink.names)
}

func TestNormalizeNegativeRotationIsWrapped(t *testing.T) {
	n := NewNormalizer(zap.NewNop(), WithEstimator(&stubEstimator{degrees: -180}))

	img, err := n.Normalize(context.Background(), "req", encodePNG(t, 40, 20))
	require.NoError(t, err)
	assert.Equal(t, 180, img.Rotation)
	assert.Equal(t, 40, img.Width)
}

func TestRotateClockwise(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.Black)
	src.Set(1, 0, color.White)

	out := Rotate(src, 90)
	require.Equal(t, image.Rect(0, 0, 1, 2), out.Bounds())
	// A clockwise quarter turn moves the left pixel to the top.
	r, _, _, _ := out.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
}

func TestNormalizeDecodeErrorShortCircuitsEstimator(t *testing.T) {
	est := &stubEstimator{}
	n := NewNormalizer(zap.NewNop(), WithEstimator(est))

	_, err := n.Normalize(context.Background(), "req", []byte{0x89, 0x50})
	assert.ErrorIs(t, err, ErrDecode)
	assert.Zero(t, est.calls)
}
