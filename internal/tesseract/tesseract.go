// Package tesseract drives the tesseract command line for word-level OCR
// and orientation detection.
package tesseract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/idcheck/internal/ocr"
)

const (
	windowsBinary = `C:\Program Files\Tesseract-OCR\tesseract.exe`
	unixBinary    = "/usr/bin/tesseract"
)

var rotateRe = regexp.MustCompile(`Rotate:\s*(\d+)`)

// ResolveBinary picks the tesseract executable for the target platform.
// An explicitly configured path always wins. It is meant to be called once
// at startup.
func ResolveBinary(goos, configured string) string {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	if goos == "windows" {
		return windowsBinary
	}
	return unixBinary
}

// Runner executes name with args, feeding stdin and returning stdout.
type Runner func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// ExecRunner runs the command through os/exec.
func ExecRunner(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Engine is a tesseract-backed OCR token source and rotation estimator.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	binary   string
	language string
	psm      int
	run      Runner
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner replaces the command runner, mainly for tests.
func WithRunner(r Runner) Option { return func(e *Engine) { e.run = r } }

// WithLanguage sets the -l argument.
func WithLanguage(lang string) Option { return func(e *Engine) { e.language = lang } }

// WithPageSegMode sets --psm for word extraction.
func WithPageSegMode(psm int) Option { return func(e *Engine) { e.psm = psm } }

// New builds an Engine around the given binary.
func New(binary string, opts ...Option) *Engine {
	e := &Engine{binary: binary, language: "eng", psm: 3, run: ExecRunner}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tokens implements ocr.TokenSource using tesseract's TSV output.
func (e *Engine) Tokens(ctx context.Context, img image.Image) ([]ocr.Token, error) {
	payload, err := encode(img)
	if err != nil {
		return nil, err
	}
	args := []string{"stdin", "stdout", "-l", e.language, "--psm", strconv.Itoa(e.psm), "tsv"}
	out, err := e.run(ctx, e.binary, args, payload)
	if err != nil {
		return nil, fmt.Errorf("tesseract tsv: %w", err)
	}
	return ParseTSV(out)
}

// EstimateRotation implements normalize.RotationEstimator using OSD (--psm 0).
func (e *Engine) EstimateRotation(ctx context.Context, img image.Image) (int, error) {
	payload, err := encode(img)
	if err != nil {
		return 0, err
	}
	out, err := e.run(ctx, e.binary, []string{"stdin", "stdout", "--psm", "0"}, payload)
	if err != nil {
		return 0, fmt.Errorf("tesseract osd: %w", err)
	}
	return ParseOSD(out)
}

// ParseOSD extracts the "Rotate:" value from OSD output.
func ParseOSD(out []byte) (int, error) {
	m := rotateRe.FindSubmatch(out)
	if m == nil {
		return 0, errors.New("osd output has no rotation")
	}
	return strconv.Atoi(string(m[1]))
}

// ParseTSV converts tesseract TSV rows into tokens in reading order. Rows
// without a confidence column value keep ocr.NoConfidence.
func ParseTSV(out []byte) ([]ocr.Token, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	confIdx, textIdx := -1, -1
	var tokens []ocr.Token
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if confIdx < 0 {
			for i, c := range cols {
				switch c {
				case "conf":
					confIdx = i
				case "text":
					textIdx = i
				}
			}
			if confIdx < 0 || textIdx < 0 {
				return nil, fmt.Errorf("tsv header missing conf/text columns: %q", line)
			}
			continue
		}

		tok := ocr.Token{Confidence: ocr.NoConfidence}
		if textIdx < len(cols) {
			tok.Text = cols[textIdx]
		}
		if confIdx < len(cols) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(cols[confIdx]), 64); err == nil && v >= 0 {
				tok.Confidence = v
			}
		}
		tokens = append(tokens, tok)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tsv: %w", err)
	}
	if confIdx < 0 {
		return nil, errors.New("empty tsv output")
	}
	return tokens, nil
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png for tesseract: %w", err)
	}
	return buf.Bytes(), nil
}
