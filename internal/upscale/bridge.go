package upscale

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ytaudio/internal/domain"
	"ytaudio/internal/logging"
	"ytaudio/internal/stage"
)

const (
	exitMissingDependency = 10
	exitModelUnavailable  = 11

	progressMarker = "PROGRESS"
)

// Params are the numeric model parameters forwarded to the inference process.
type Params struct {
	Steps    int
	Guidance float64
	Model    string
	Seed     int
}

// Request is one enhancement of a 48 kHz WAV into another.
type Request struct {
	Input   string
	Output  string
	Quality domain.Quality
	Params  Params
}

// Enhancer is the enhancement capability the pipeline depends on.
type Enhancer interface {
	Enhance(ctx context.Context, req Request, onProgress stage.ProgressFunc) stage.Outcome
}

// Options configure a Bridge.
type Options struct {
	Python      string
	ModelDir    string
	FastTimeout time.Duration
	BestTimeout time.Duration
	Logger      *slog.Logger
}

// Bridge selects the fast or best variant by request quality. A missing python runtime
// is reported as a dependency problem before any process starts.
type Bridge struct {
	python   string
	variants map[domain.Quality]Enhancer
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

// NewBridge wires both variants onto runner.
func NewBridge(opts Options, runner stage.Runner) *Bridge {
	return &Bridge{
		python: opts.Python,
		variants: map[domain.Quality]Enhancer{
			domain.QualityFast: &FlashSR{
				python:    opts.Python,
				modelPath: FlashSRModelPath(opts.ModelDir),
				timeout:   opts.FastTimeout,
				runner:    runner,
				stat:      os.Stat,
			},
			domain.QualityBest: &AudioSR{
				python:  opts.Python,
				timeout: opts.BestTimeout,
				runner:  runner,
			},
		},
		lookPath: exec.LookPath,
		logger:   logging.OrDefault(opts.Logger),
	}
}

// Enhance runs the variant for req.Quality.
func (b *Bridge) Enhance(ctx context.Context, req Request, onProgress stage.ProgressFunc) stage.Outcome {
	if strings.TrimSpace(b.python) == "" {
		return stage.DependencyMissing("python runtime is not configured; run `ytaudio update-models`")
	}
	if _, err := b.lookPath(b.python); err != nil {
		return stage.DependencyMissing("python runtime %s not found; run `ytaudio update-models`", b.python)
	}

	variant, ok := b.variants[req.Quality]
	if !ok {
		return stage.Fatal(fmt.Errorf("unknown enhancement quality %q", req.Quality))
	}

	b.logger.Debug("enhancement start", "quality", req.Quality, "input", req.Input)
	return variant.Enhance(ctx, req, onProgress)
}

// FlashSRModelPath is where update-models stores the FlashSR ONNX model.
func FlashSRModelPath(modelDir string) string {
	if strings.TrimSpace(modelDir) == "" {
		return ""
	}
	return filepath.Join(modelDir, "flashsr", "model.onnx")
}

// classifier maps the bridge exit protocol. Inference failures are never transient.
func classifier() stage.Classifier {
	return stage.FatalExitCodes(map[int]error{
		exitMissingDependency: fmt.Errorf("python packages missing, run `ytaudio update-models`: %w", stage.ErrDependencyMissing),
		exitModelUnavailable:  fmt.Errorf("model unavailable, run `ytaudio update-models`: %w", stage.ErrDependencyMissing),
	}, func(report stage.ExitReport) (stage.Kind, error) {
		_, err := stage.DefaultClassifier(report)
		return stage.KindFatal, err
	})
}

func pythonEnv() []string {
	return []string{"PYTHONUNBUFFERED=1", "TF_CPP_MIN_LOG_LEVEL=3"}
}

// NewBridgeForTests replaces the python lookup.
func NewBridgeForTests(opts Options, runner stage.Runner, lookPath func(string) (string, error)) *Bridge {
	b := NewBridge(opts, runner)
	if lookPath != nil {
		b.lookPath = lookPath
	}
	b.logger = logging.Discard()
	return b
}
