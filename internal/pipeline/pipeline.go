// Package pipeline runs one ID card through normalization, the classifier
// and OCR validation branches, and decision fusion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/idcheck/internal/classifier"
	"github.com/example/idcheck/internal/face"
	"github.com/example/idcheck/internal/fields"
	"github.com/example/idcheck/internal/fusion"
	"github.com/example/idcheck/internal/institution"
	"github.com/example/idcheck/internal/logging"
	"github.com/example/idcheck/internal/normalize"
	"github.com/example/idcheck/internal/ocr"
)

// Branch names used in logs and metrics.
const (
	BranchClassification = "classification"
	BranchText           = "text"
)

// Branch statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Face detection statuses.
const (
	FaceDetected    = "detected"
	FaceNotDetected = "not_detected"
	FaceUnavailable = "unavailable"
)

const (
	msgValidated    = "Validation completed"
	msgLowQuality   = "OCR failed or confidence too low - classified as fake"
	msgEngineError  = "OCR engine error"
	msgTimedOut     = "OCR validation timed out"
	msgSkipped      = "OCR skipped: image is not an ID card"
	msgInvalidImage = "Invalid image data"
)

// Observer receives pipeline measurements.
type Observer interface {
	ObserveBranch(branch, status string, d time.Duration)
	ObserveVerdict(label, status string, d time.Duration)
	ObserveOCRConfidence(c float64)
}

type nopObserver struct{}

func (nopObserver) ObserveBranch(string, string, time.Duration)  {}
func (nopObserver) ObserveVerdict(string, string, time.Duration) {}
func (nopObserver) ObserveOCRConfidence(float64)                 {}

// ClassificationOutcome is the classifier branch result: either Result or Err is set.
type ClassificationOutcome struct {
	Result   *classifier.Result `json:"result,omitempty"`
	Err      error              `json:"-"`
	Duration time.Duration      `json:"-"`
}

// Status reports the branch status.
func (o ClassificationOutcome) Status() string {
	if o.Err != nil {
		return StatusError
	}
	return StatusSuccess
}

// TextOutcome is the OCR validation branch result. Record is only set when
// the capture passed the quality gate.
type TextOutcome struct {
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	ExtractedText string         `json:"extracted_text"`
	OCRConfidence float64        `json:"ocr_confidence"`
	Record        *fusion.Record `json:"validation,omitempty"`
	FaceStatus    string         `json:"face_status,omitempty"`
	Err           error          `json:"-"`
	Duration      time.Duration  `json:"-"`
}

// Result is everything known about one validation.
type Result struct {
	UserID         string                `json:"user_id"`
	Verdict        fusion.Verdict        `json:"verdict"`
	Classification ClassificationOutcome `json:"classification"`
	Text           TextOutcome           `json:"ocr"`
	Image          *normalize.Image      `json:"-"`
	Duration       time.Duration         `json:"-"`
}

// Dependencies are the long-lived handles shared by every request. They are
// built once at startup and only read afterwards.
type Dependencies struct {
	Normalizer *normalize.Normalizer
	Classifier classifier.Client
	Extractor  *ocr.Extractor
	Matcher    *institution.Matcher
	Detector   face.Detector
	// BranchTimeout bounds each branch; zero disables the bound.
	BranchTimeout time.Duration
	Observer      Observer
	Logger        *zap.Logger
}

// Pipeline validates ID card images. It is safe for concurrent use.
type Pipeline struct {
	normalizer    *normalize.Normalizer
	classifier    classifier.Client
	extractor     *ocr.Extractor
	matcher       *institution.Matcher
	detector      face.Detector
	branchTimeout time.Duration
	observer      Observer
	logger        *zap.Logger
}

// New builds a Pipeline. The classifier and face detector may be nil, in
// which case their signals are always treated as failed.
func New(deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: ocr extractor is required")
	case deps.Matcher == nil:
		return nil, errors.New("pipeline: institution matcher is required")
	case deps.Logger == nil:
		return nil, errors.New("pipeline: logger is required")
	}
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Pipeline{
		normalizer:    deps.Normalizer,
		classifier:    deps.Classifier,
		extractor:     deps.Extractor,
		matcher:       deps.Matcher,
		detector:      deps.Detector,
		branchTimeout: deps.BranchTimeout,
		observer:      obs,
		logger:        deps.Logger.Named("pipeline"),
	}, nil
}

// Run validates one encoded image for userID. Only undecodable input
// returns an error; the Result is still populated with the terminal
// invalid-image verdict in that case. Every other failure is folded into
// the verdict.
func (p *Pipeline) Run(ctx context.Context, userID string, data []byte) (*Result, error) {
	start := time.Now()
	requestID := RequestID(ctx)
	logger := logging.WithOperation(p.logger, "pipeline.run", requestID)

	img, err := p.normalizer.Normalize(ctx, diagnosticsName(requestID, start), data)
	if err != nil {
		logger.Warn("image decode failed", zap.Error(err))
		res := &Result{
			UserID:  userID,
			Verdict: fusion.InvalidImage(),
			Text:    TextOutcome{Status: StatusError, Message: msgInvalidImage, Err: err},
		}
		res.Duration = time.Since(start)
		p.observer.ObserveVerdict(res.Verdict.Label, res.Verdict.Status, res.Duration)
		return res, logging.NewOperationError("pipeline.normalize", requestID, err)
	}

	res := &Result{UserID: userID, Image: img}
	textCtx, cancelText := context.WithCancel(ctx)
	defer cancelText()

	var g errgroup.Group
	g.Go(func() error {
		res.Classification = p.classify(ctx, img, logging.WithBranch(logger, BranchClassification))
		if c := res.Classification.Result; c != nil && c.Label == classifier.NonID {
			cancelText()
		}
		return nil
	})
	g.Go(func() error {
		res.Text = p.validateText(textCtx, userID, img, logging.WithBranch(logger, BranchText))
		return nil
	})
	_ = g.Wait()

	nonID := res.Classification.Result != nil && res.Classification.Result.Label == classifier.NonID
	if nonID && res.Text.Status == StatusError && textCtx.Err() != nil && ctx.Err() == nil {
		res.Text = TextOutcome{Status: StatusSkipped, Message: msgSkipped, Duration: res.Text.Duration}
	}

	p.observer.ObserveBranch(BranchClassification, res.Classification.Status(), res.Classification.Duration)
	p.observer.ObserveBranch(BranchText, res.Text.Status, res.Text.Duration)
	if res.Text.Record != nil {
		p.observer.ObserveOCRConfidence(res.Text.Record.OCRConfidence)
	}

	res.Verdict = fusion.Decide(res.Classification.Result, res.Text.Record)
	res.Duration = time.Since(start)
	p.observer.ObserveVerdict(res.Verdict.Label, res.Verdict.Status, res.Duration)

	logger.Info("validation finished",
		zap.String("label", res.Verdict.Label),
		zap.String("status", res.Verdict.Status),
		zap.Float64("score", res.Verdict.Score),
		zap.String("classification_status", res.Classification.Status()),
		zap.String("ocr_status", res.Text.Status),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) classify(ctx context.Context, img *normalize.Image, logger *zap.Logger) ClassificationOutcome {
	start := time.Now()
	ctx, cancel := p.branchContext(ctx)
	defer cancel()

	out := ClassificationOutcome{}
	if p.classifier == nil {
		out.Err = fmt.Errorf("%w: no classifier configured", classifier.ErrClassification)
	} else {
		out.Result, out.Err = await(ctx, func() (*classifier.Result, error) {
			r, err := p.classifier.Classify(ctx, img.Raster)
			if err != nil {
				return nil, err
			}
			return r, r.Validate()
		})
		if out.Err != nil {
			out.Result = nil
		}
	}
	out.Duration = time.Since(start)

	if out.Err != nil {
		logger.Warn("image prediction failed, using zero confidence", zap.Error(out.Err))
	} else {
		logger.Debug("image classified",
			zap.String("label", out.Result.Label),
			zap.Float64("genuine_confidence", out.Result.GenuineConfidence()))
	}
	return out
}

func (p *Pipeline) validateText(ctx context.Context, userID string, img *normalize.Image, logger *zap.Logger) TextOutcome {
	start := time.Now()
	ctx, cancel := p.branchContext(ctx)
	defer cancel()

	out, err := await(ctx, func() (TextOutcome, error) {
		return p.runText(ctx, userID, img, logger), nil
	})
	if err != nil {
		out = TextOutcome{Status: StatusError, Message: msgTimedOut, Err: err}
		logger.Warn("ocr branch abandoned", zap.Error(err))
	}
	out.Duration = time.Since(start)
	return out
}

func (p *Pipeline) runText(ctx context.Context, userID string, img *normalize.Image, logger *zap.Logger) TextOutcome {
	res, err := p.extractor.Extract(ctx, img.Raster)
	switch {
	case errors.Is(err, ocr.ErrLowQuality):
		logger.Info("capture rejected by ocr gate", zap.Error(err))
		return TextOutcome{
			Status:        StatusFailed,
			Message:       msgLowQuality,
			ExtractedText: res.RawText,
			OCRConfidence: res.NormalizedConfidence(),
			Err:           err,
		}
	case err != nil:
		logger.Warn("ocr failed", zap.Error(err))
		return TextOutcome{Status: StatusError, Message: msgEngineError, Err: err}
	}

	record := &fusion.Record{
		Fields:        fields.Parse(res.Text),
		Institution:   p.matcher.Match(res.Text),
		OCRConfidence: res.NormalizedConfidence(),
		UserIDMatch:   fields.UserIDMatch(res.Text, userID),
	}

	faceStatus := FaceNotDetected
	found, faceErr := face.Presence(ctx, p.detector, img.Raster)
	switch {
	case faceErr != nil:
		// An unavailable detector counts as no face; the status keeps the difference visible.
		faceStatus = FaceUnavailable
		logger.Warn("face detection unavailable", zap.Error(faceErr))
	case found:
		faceStatus = FaceDetected
	}
	record.FacePhotoFound = found

	return TextOutcome{
		Status:        StatusSuccess,
		Message:       msgValidated,
		ExtractedText: res.RawText,
		OCRConfidence: record.OCRConfidence,
		Record:        record,
		FaceStatus:    faceStatus,
	}
}

func (p *Pipeline) branchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.branchTimeout > 0 {
		return context.WithTimeout(ctx, p.branchTimeout)
	}
	return context.WithCancel(ctx)
}

// await runs fn and returns its result, or ctx's error if ctx ends first.
// Collaborators that ignore ctx keep running in the background until done.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func diagnosticsName(requestID string, at time.Time) string {
	if requestID != "" {
		return requestID
	}
	return at.UTC().Format("20060102T150405.000000000")
}

type requestIDKey struct{}

// WithRequestID attaches a request id used for logs and diagnostics names.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id attached to ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
