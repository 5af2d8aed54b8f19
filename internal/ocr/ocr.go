// Package ocr aggregates OCR engine tokens into text plus a confidence and
// gates downstream text processing on capture quality.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultMinConfidence is the gate on the 0-100 aggregate confidence.
	DefaultMinConfidence = 40
	// DefaultMinTextLength is the gate on normalized text length, in characters.
	DefaultMinTextLength = 10

	// NoConfidence is the engine sentinel for tokens that carry no score.
	NoConfidence = -1
)

var (
	// ErrEngine wraps failures of the underlying OCR engine.
	ErrEngine = errors.New("ocr engine failure")
	// ErrLowQuality marks a capture that ran through OCR but fell below the gate.
	ErrLowQuality = errors.New("ocr failed or confidence too low")
)

// Token is a single recognised word with its engine confidence on a 0-100
// scale, or NoConfidence.
type Token struct {
	Text       string
	Confidence float64
}

// TokenSource is the OCR engine collaborator.
type TokenSource interface {
	Tokens(ctx context.Context, img image.Image) ([]Token, error)
}

// Result is the outcome of one extraction.
type Result struct {
	// RawText is the space-joined recognised tokens in reading order.
	RawText string
	// Text is RawText lower-cased with whitespace collapsed.
	Text string
	// Confidence is the mean token confidence on a 0-100 scale.
	Confidence float64
}

// NormalizedConfidence maps Confidence to [0,1].
func (r Result) NormalizedConfidence() float64 {
	c := r.Confidence / 100
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// GateError reports why a capture was rejected by the quality gate.
type GateError struct {
	Confidence    float64
	MinConfidence float64
	TextLength    int
	MinTextLength int
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%v: confidence %.2f (min %.0f), text length %d (min %d)",
		ErrLowQuality, e.Confidence, e.MinConfidence, e.TextLength, e.MinTextLength)
}

func (e *GateError) Is(target error) bool { return target == ErrLowQuality }

// Aggregate joins non-empty tokens and averages the confidences of those
// that carry a score. With no scored tokens the confidence is 0.
func Aggregate(tokens []Token) (string, float64) {
	words := make([]string, 0, len(tokens))
	var sum float64
	var n int
	for _, tok := range tokens {
		if strings.TrimSpace(tok.Text) == "" {
			continue
		}
		words = append(words, tok.Text)
		if tok.Confidence < 0 {
			continue
		}
		sum += tok.Confidence
		n++
	}
	if n == 0 {
		return strings.Join(words, " "), 0
	}
	return strings.Join(words, " "), sum / float64(n)
}

// NormalizeText folds text to NFKC lower case and collapses all whitespace
// runs to single spaces.
func NormalizeText(s string) string {
	lower := cases.Lower(language.Und).String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(lower), " ")
}

// Extractor runs the OCR engine and applies the quality gate.
type Extractor struct {
	source        TokenSource
	minConfidence float64
	minTextLength int
}

// NewExtractor builds an Extractor. Non-positive limits fall back to defaults.
func NewExtractor(source TokenSource, minConfidence float64, minTextLength int) *Extractor {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	return &Extractor{source: source, minConfidence: minConfidence, minTextLength: minTextLength}
}

// Extract runs OCR over img. Engine failures return ErrEngine; a capture
// below the gate returns its Result together with a *GateError.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (Result, error) {
	tokens, err := e.source.Tokens(ctx, img)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrEngine, err)
	}

	raw, conf := Aggregate(tokens)
	res := Result{RawText: raw, Text: NormalizeText(raw), Confidence: conf}

	length := utf8.RuneCountInString(res.Text)
	if conf < e.minConfidence || length < e.minTextLength {
		return res, &GateError{
			Confidence:    conf,
			MinConfidence: e.minConfidence,
			TextLength:    length,
			MinTextLength: e.minTextLength,
		}
	}
	return res, nil
}
