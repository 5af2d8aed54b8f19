// Package onnxclassifier runs the ID-card authenticity model in-process
// through ONNX Runtime.
package onnxclassifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	onnxrt "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/idcheck/internal/classifier"
)

// InputSize is the square model input edge in pixels.
const InputSize = 224

var (
	mean = [3]float32{0.485, 0.456, 0.406}
	std  = [3]float32{0.229, 0.224, 0.225}
)

var defaultLibraryPaths = []string{
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/libonnxruntime.so",
	"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
}

// Config selects the model and runtime.
type Config struct {
	ModelPath   string
	LibraryPath string
	NumThreads  int
	// Workers bounds concurrent inferences.
	Workers int
}

// Classifier is a classifier.Client backed by an ONNX session.
type Classifier struct {
	session *onnxrt.DynamicAdvancedSession
	slots   chan struct{}
	logger  *zap.Logger
}

// New loads the model. The session lives until Close.
func New(cfg Config, logger *zap.Logger) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx model path is required")
	}
	if lib := libraryPath(cfg.LibraryPath); lib != "" {
		onnxrt.SetSharedLibraryPath(lib)
	}
	if !onnxrt.IsInitialized() {
		if err := onnxrt.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnx: %w", err)
		}
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session opts: %w", err)
	}
	defer func() { _ = opts.Destroy() }()
	if cfg.NumThreads > 0 {
		_ = opts.SetIntraOpNumThreads(cfg.NumThreads)
	}

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath, []string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	logger.Info("onnx classifier loaded",
		zap.String("model", cfg.ModelPath),
		zap.String("input", inputs[0].Name),
		zap.Int("workers", workers))
	return &Classifier{session: sess, slots: make(chan struct{}, workers), logger: logger}, nil
}

func libraryPath(configured string) string {
	if configured != "" {
		return configured
	}
	for _, p := range defaultLibraryPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Classify implements classifier.Client.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (*classifier.Result, error) {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", classifier.ErrClassification, ctx.Err())
	}
	defer func() { <-c.slots }()

	input, err := onnxrt.NewTensor(onnxrt.NewShape(1, 3, InputSize, InputSize), Preprocess(img))
	if err != nil {
		return nil, fmt.Errorf("%w: input tensor: %w", classifier.ErrClassification, err)
	}
	defer func() { _ = input.Destroy() }()

	outs := []onnxrt.Value{nil}
	if err := c.session.Run([]onnxrt.Value{input}, outs); err != nil {
		return nil, fmt.Errorf("%w: run: %w", classifier.ErrClassification, err)
	}
	if outs[0] == nil {
		return nil, fmt.Errorf("%w: no output from model", classifier.ErrClassification)
	}
	defer func() { _ = outs[0].Destroy() }()

	t, ok := outs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: invalid output tensor type", classifier.ErrClassification)
	}
	res, err := classifier.FromLogits(t.GetData())
	if err != nil {
		return nil, err
	}
	c.logger.Debug("classified", zap.String("label", res.Label), zap.Any("probabilities", res.Probabilities))
	return res, nil
}

// Close releases the session.
func (c *Classifier) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Destroy()
}

// Preprocess resizes img to InputSize squared and returns ImageNet-normalized
// CHW float data.
func Preprocess(img image.Image) []float32 {
	resized := imaging.Resize(img, InputSize, InputSize, imaging.Linear)
	plane := InputSize * InputSize
	data := make([]float32, 3*plane)
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			i := resized.PixOffset(x, y)
			p := y*InputSize + x
			for ch := 0; ch < 3; ch++ {
				v := float32(resized.Pix[i+ch]) / 255
				data[ch*plane+p] = (v - mean[ch]) / std[ch]
			}
		}
	}
	return data
}
