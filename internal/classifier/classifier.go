// Package classifier defines the visual-authenticity classifier contract
// shared by the local and remote backends.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

// Class labels, in model output order.
const (
	Fake    = "fake"
	Genuine = "genuine"
	NonID   = "non-id"
)

// Classes is the fixed class set in model output order.
var Classes = []string{Fake, Genuine, NonID}

// ProbabilityTolerance bounds how far the probabilities may sum away from 1.
const ProbabilityTolerance = 1e-3

// ErrClassification marks a classifier that failed or returned an unusable result.
var ErrClassification = errors.New("classification failed")

// Result is one classification of a normalized image.
type Result struct {
	Label         string             `json:"final_label"`
	Probabilities map[string]float64 `json:"all_probabilities"`
}

// GenuineConfidence is the probability of the genuine class.
func (r *Result) GenuineConfidence() float64 {
	return r.Probabilities[Genuine]
}

// Validate checks that the label is known and the probabilities cover
// exactly the class set and sum to 1 within ProbabilityTolerance.
func (r *Result) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrClassification)
	}
	if !known(r.Label) {
		return fmt.Errorf("%w: unknown label %q", ErrClassification, r.Label)
	}
	if len(r.Probabilities) != len(Classes) {
		return fmt.Errorf("%w: got %d probabilities, want %d", ErrClassification, len(r.Probabilities), len(Classes))
	}
	var sum float64
	for _, c := range Classes {
		p, ok := r.Probabilities[c]
		if !ok {
			return fmt.Errorf("%w: missing probability for %q", ErrClassification, c)
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: probability for %q out of range: %v", ErrClassification, c, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > ProbabilityTolerance {
		return fmt.Errorf("%w: probabilities sum to %.4f", ErrClassification, sum)
	}
	return nil
}

func known(label string) bool {
	for _, c := range Classes {
		if c == label {
			return true
		}
	}
	return false
}

// Client classifies normalized images. Implementations must be safe for
// concurrent use.
type Client interface {
	Classify(ctx context.Context, img image.Image) (*Result, error)
}

// FromLogits turns raw model outputs, in Classes order, into a Result with
// softmax probabilities rounded to four decimals and the argmax label.
func FromLogits(logits []float32) (*Result, error) {
	if len(logits) != len(Classes) {
		return nil, fmt.Errorf("%w: got %d logits, want %d", ErrClassification, len(logits), len(Classes))
	}
	probs := Softmax(logits)
	res := &Result{Probabilities: make(map[string]float64, len(Classes))}
	best := 0
	for i, c := range Classes {
		res.Probabilities[c] = Round4(probs[i])
		if probs[i] > probs[best] {
			best = i
		}
	}
	res.Label = Classes[best]
	return res, nil
}

// Softmax converts logits into probabilities.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(v))
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Round4 rounds half away from zero to four decimal places.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Validated wraps a client so every result it returns has passed Validate.
func Validated(c Client) Client { return validated{c} }

type validated struct{ next Client }

func (v validated) Classify(ctx context.Context, img image.Image) (*Result, error) {
	res, err := v.next.Classify(ctx, img)
	if err != nil {
		if errors.Is(err, ErrClassification) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}
