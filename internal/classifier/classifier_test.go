package classifier

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	res *Result
	err error
}

func (s stubClient) Classify(context.Context, image.Image) (*Result, error) { return s.res, s.err }

func TestFromLogits(t *testing.T) {
	res, err := FromLogits([]float32{0.1, 2.5, -1})
	require.NoError(t, err)
	assert.Equal(t, Genuine, res.Label)
	require.NoError(t, res.Validate())
	assert.Greater(t, res.GenuineConfidence(), 0.8)

	res, err = FromLogits([]float32{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, Fake, res.Label, "ties resolve to the first class")
	assert.Equal(t, 0.3333, res.Probabilities[NonID])

	_, err = FromLogits([]float32{1, 2})
	assert.ErrorIs(t, err, ErrClassification)
}

func TestFromLogitsAlwaysValid(t *testing.T) {
	inputs := [][]float32{
		{10, -10, 0},
		{-3.2, 7.7, 7.7},
		{100, 100, 99},
		{0.001, 0.002, 0.003},
	}
	for _, in := range inputs {
		res, err := FromLogits(in)
		require.NoError(t, err)
		assert.NoError(t, res.Validate(), in)
	}
}

func TestValidate(t *testing.T) {
	ok := &Result{Label: NonID, Probabilities: map[string]float64{Fake: 0.1, Genuine: 0.2, NonID: 0.7}}
	assert.NoError(t, ok.Validate())

	bad := []*Result{
		nil,
		{Label: "forged", Probabilities: ok.Probabilities},
		{Label: Fake, Probabilities: map[string]float64{Fake: 0.5, Genuine: 0.5}},
		{Label: Fake, Probabilities: map[string]float64{Fake: 0.5, Genuine: 0.5, "other": 0}},
		{Label: Fake, Probabilities: map[string]float64{Fake: 0.5, Genuine: 0.4, NonID: 0.2}},
		{Label: Fake, Probabilities: map[string]float64{Fake: 1.5, Genuine: -0.5, NonID: 0}},
	}
	for i, r := range bad {
		assert.ErrorIs(t, r.Validate(), ErrClassification, "case %d", i)
	}
}

func TestValidated(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	good := &Result{Label: Genuine, Probabilities: map[string]float64{Fake: 0.05, Genuine: 0.9, NonID: 0.05}}

	res, err := Validated(stubClient{res: good}).Classify(context.Background(), img)
	require.NoError(t, err)
	assert.Same(t, good, res)

	_, err = Validated(stubClient{err: errors.New("connection refused")}).Classify(context.Background(), img)
	assert.ErrorIs(t, err, ErrClassification)
	assert.ErrorContains(t, err, "connection refused")

	broken := &Result{Label: Genuine, Probabilities: map[string]float64{Genuine: 1}}
	_, err = Validated(stubClient{res: broken}).Classify(context.Background(), img)
	assert.ErrorIs(t, err, ErrClassification)
}
