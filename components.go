package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/example/idcheck/internal/classifier"
	"github.com/example/idcheck/internal/config"
	"github.com/example/idcheck/internal/diagnostics"
	"github.com/example/idcheck/internal/face"
	"github.com/example/idcheck/internal/face/cascade"
	"github.com/example/idcheck/internal/grpcclient"
	"github.com/example/idcheck/internal/institution"
	"github.com/example/idcheck/internal/metrics"
	"github.com/example/idcheck/internal/normalize"
	"github.com/example/idcheck/internal/ocr"
	"github.com/example/idcheck/internal/onnxclassifier"
	"github.com/example/idcheck/internal/orientation"
	"github.com/example/idcheck/internal/pipeline"
	"github.com/example/idcheck/internal/tesseract"
)

// components owns the long-lived pipeline collaborators.
type components struct {
	pipeline *pipeline.Pipeline
	closers  []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	comp := &components{}

	binary := tesseract.ResolveBinary(runtime.GOOS, cfg.OCR.TesseractPath)
	engine := tesseract.New(
		binary,
		tesseract.WithLanguage(cfg.OCR.Language),
		tesseract.WithPageSegMode(cfg.OCR.PageSegMode),
	)

	normOpts := []normalize.Option{normalize.WithMaxPixels(cfg.Server.MaxImagePixels)}
	if est := rotationEstimator(cfg.Orientation, engine, binary, exec.LookPath, logger); est != nil {
		normOpts = append(normOpts, normalize.WithEstimator(est))
	}

	sink, err := buildDiagnostics(ctx, cfg.Diagnostics, logger, comp)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		normOpts = append(normOpts, normalize.WithSink(sink))
		comp.closers = append(comp.closers, func() error { sink.Close(); return nil })
	}

	client, err := buildClassifier(ctx, cfg.Classifier, logger, comp)
	if err != nil {
		// scored as zero genuine confidence until the service is restarted
		logger.Error("classifier unavailable", zap.Error(err), zap.String("backend", cfg.Classifier.Backend))
		client = nil
	}

	registry, err := buildRegistry(cfg.Institutions)
	if err != nil {
		_ = comp.Close()
		return nil, err
	}
	logger.Info("institution registry loaded", zap.Int("institutions", registry.Len()))

	var detector face.Detector
	faces, err := cascade.New(cfg.Face.CascadePath, cfg.Face.PoolSize, cascade.Params{
		ScaleFactor:  cfg.Face.ScaleFactor,
		MinNeighbors: cfg.Face.MinNeighbors,
		MinSize:      cfg.Face.MinSize,
	})
	if err != nil {
		// face photos will be reported as not found
		logger.Warn("face detector unavailable", zap.Error(err), zap.String("cascade", cfg.Face.CascadePath))
	} else {
		detector = faces
		comp.closers = append(comp.closers, faces.Close)
	}

	p, err := pipeline.New(pipeline.Dependencies{
		Normalizer:    normalize.NewNormalizer(logger, normOpts...),
		Classifier:    client,
		Extractor:     ocr.NewExtractor(engine, cfg.OCR.MinConfidence, cfg.OCR.MinTextLength),
		Matcher:       institution.NewMatcher(registry, cfg.Institutions.Threshold, cfg.Institutions.SubstringBonus),
		Detector:      detector,
		BranchTimeout: cfg.Pipeline.BranchTimeout,
		Observer:      metrics.Recorder{},
		Logger:        logger,
	})
	if err != nil {
		_ = comp.Close()
		return nil, err
	}
	comp.pipeline = p
	return comp, nil
}

// rotationEstimator picks the orientation estimator for mode. A missing
// tesseract binary disables rotation.
func rotationEstimator(cfg config.OrientationConfig, engine *tesseract.Engine, binary string, lookPath func(string) (string, error), logger *zap.Logger) normalize.RotationEstimator {
	switch strings.ToLower(cfg.Mode) {
	case config.OrientationTesseract:
		if _, err := lookPath(binary); err != nil {
			logger.Warn("tesseract not found, orientation correction disabled", zap.String("binary", binary), zap.Error(err))
			return nil
		}
		return engine
	case config.OrientationHeuristic:
		return orientation.NewHeuristic(cfg.ConfidenceThreshold)
	default:
		return nil
	}
}

func buildClassifier(ctx context.Context, cfg config.ClassifierConfig, logger *zap.Logger, comp *components) (classifier.Client, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.ClassifierGRPC:
		client, conn, err := grpcclient.DialClassifier(ctx, cfg.GRPCAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to classifier: %w", err)
		}
		comp.closers = append(comp.closers, conn.Close)
		return classifier.Validated(client), nil
	default:
		model, err := onnxclassifier.New(onnxclassifier.Config{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.LibraryPath,
			NumThreads:  cfg.NumThreads,
			Workers:     cfg.Workers,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("load classifier model: %w", err)
		}
		comp.closers = append(comp.closers, model.Close)
		return classifier.Validated(model), nil
	}
}

func buildRegistry(cfg config.InstitutionsConfig) (*institution.Registry, error) {
	if cfg.File != "" {
		return institution.LoadRegistryFile(cfg.File, cfg.Names)
	}
	return institution.NewRegistry(cfg.Names)
}

func buildDiagnostics(ctx context.Context, cfg config.DiagnosticsConfig, logger *zap.Logger, comp *components) (*diagnostics.Sink, error) {
	var store diagnostics.Store
	switch strings.ToLower(cfg.Mode) {
	case config.DiagnosticsFile:
		store = diagnostics.FileStore{Dir: cfg.Dir}
	case config.DiagnosticsGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		comp.closers = append(comp.closers, client.Close)
		store = diagnostics.GCSStore{Client: client, Bucket: cfg.Bucket, Prefix: cfg.Prefix}
	default:
		return nil, nil
	}
	return diagnostics.NewSink(store, cfg.QueueSize, 0, logger), nil
}
