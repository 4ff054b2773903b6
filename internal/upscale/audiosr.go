package upscale

import (
	"context"
	_ "embed"
	"strconv"
	"time"

	"ytaudio/internal/stage"
)

//go:embed scripts/audiosr.py
var audioSRScript string

// AudioSR is the best tier: latent diffusion, minutes per track.
type AudioSR struct {
	python  string
	timeout time.Duration
	runner  stage.Runner
}

// Enhance runs the diffusion model. Progress comes from the sampler's step counter.
func (a *AudioSR) Enhance(ctx context.Context, req Request, onProgress stage.ProgressFunc) stage.Outcome {
	p := withDefaults(req.Params)
	args := []string{
		"-u", "-c", audioSRScript,
		"--input", req.Input,
		"--output", req.Output,
		"--steps", strconv.Itoa(p.Steps),
		"--guidance", strconv.FormatFloat(p.Guidance, 'f', -1, 64),
		"--model", p.Model,
		"--seed", strconv.Itoa(p.Seed),
	}

	return a.runner.Run(ctx, stage.Invocation{
		Command: stage.Command{
			Name: a.python,
			Args: args,
			Env:  pythonEnv(),
			Progress: stage.FirstOf(
				stage.MarkerExtractor(progressMarker),
				stage.StepExtractor(),
			),
			Classify: classifier(),
		},
		Input:   req.Input,
		Output:  req.Output,
		Timeout: a.timeout,
	}, onProgress)
}

func withDefaults(p Params) Params {
	if p.Steps <= 0 {
		p.Steps = 50
	}
	if p.Guidance <= 0 {
		p.Guidance = 3.5
	}
	if p.Model == "" {
		p.Model = "basic"
	}
	return p
}
