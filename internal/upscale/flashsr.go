package upscale

import (
	"context"
	_ "embed"
	"os"
	"time"

	"ytaudio/internal/stage"
)

//go:embed scripts/flashsr.py
var flashSRScript string

// FlashSR is the fast tier: a single ONNX pass from 16 kHz to 48 kHz.
type FlashSR struct {
	python    string
	modelPath string
	timeout   time.Duration
	runner    stage.Runner
	stat      func(string) (os.FileInfo, error)
}

// Enhance runs the ONNX model. When no local model file exists the script fetches it from
// the Hugging Face hub.
func (f *FlashSR) Enhance(ctx context.Context, req Request, onProgress stage.ProgressFunc) stage.Outcome {
	args := []string{"-u", "-c", flashSRScript, "--input", req.Input, "--output", req.Output}
	if f.modelPath != "" {
		if _, err := f.stat(f.modelPath); err == nil {
			args = append(args, "--model-path", f.modelPath)
		}
	}

	return f.runner.Run(ctx, stage.Invocation{
		Command: stage.Command{
			Name:     f.python,
			Args:     args,
			Env:      pythonEnv(),
			Progress: stage.MarkerExtractor(progressMarker),
			Classify: classifier(),
		},
		Input:   req.Input,
		Output:  req.Output,
		Timeout: f.timeout,
	}, onProgress)
}
