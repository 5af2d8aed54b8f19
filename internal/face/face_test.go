package face

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

var img = image.NewNRGBA(image.Rect(0, 0, 4, 4))

func count(n int, err error) Detector {
	return DetectorFunc(func(context.Context, image.Image) (int, error) { return n, err })
}

func TestPresence(t *testing.T) {
	ctx := context.Background()

	found, err := Presence(ctx, count(2, nil), img)
	assert.NoError(t, err)
	assert.True(t, found)

	found, err = Presence(ctx, count(0, nil), img)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestPresenceDetectorFailure(t *testing.T) {
	ctx := context.Background()

	found, err := Presence(ctx, count(0, errors.New("cascade not loaded")), img)
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrDetector)
	assert.ErrorContains(t, err, "cascade not loaded")

	found, err = Presence(ctx, nil, img)
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrDetector)

	found, err = Presence(ctx, count(-1, nil), img)
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrDetector)
}
