package domain

// Settings is the fully resolved configuration. It is passed by value and never mutated
// after resolution.
type Settings struct {
	Paths     PathSettings      `toml:"paths"`
	Output    OutputSettings    `toml:"output"`
	Upscale   UpscaleSettings   `toml:"upscale"`
	Normalize NormalizeSettings `toml:"normalize"`
	Batch     BatchSettings     `toml:"batch"`
	Stages    StageSettings     `toml:"stages"`
	Temp      TempSettings      `toml:"temp"`
	History   HistorySettings   `toml:"history"`
}

// PathSettings locates the external tools.
type PathSettings struct {
	YtDlp  string `toml:"yt_dlp"`
	FFmpeg string `toml:"ffmpeg"`
	Python string `toml:"python"`
}

type OutputSettings struct {
	Format    OutputFormat `toml:"format"`
	Directory string       `toml:"directory"`
}

type UpscaleSettings struct {
	Enabled  bool            `toml:"enabled"`
	Quality  Quality         `toml:"quality"`
	ModelDir string          `toml:"model_dir"`
	AudioSR  AudioSRSettings `toml:"audiosr"`
}

// AudioSRSettings tunes the diffusion model used by the best tier.
type AudioSRSettings struct {
	Steps    int     `toml:"ddim_steps"`
	Guidance float64 `toml:"guidance_scale"`
	Model    string  `toml:"model_name"`
	Seed     int     `toml:"seed"`
}

type NormalizeSettings struct {
	Enabled    bool    `toml:"enabled"`
	TargetLUFS float64 `toml:"target_lufs"`
	TruePeak   float64 `toml:"true_peak"`
	LRA        float64 `toml:"lra"`
}

type BatchSettings struct {
	MaxParallel     int  `toml:"max_parallel"`
	ContinueOnError bool `toml:"continue_on_error"`
}

// StageSettings bounds each external invocation. Timeouts apply per attempt.
type StageSettings struct {
	DownloadTimeout    Duration `toml:"download_timeout"`
	DecodeTimeout      Duration `toml:"decode_timeout"`
	UpscaleFastTimeout Duration `toml:"upscale_fast_timeout"`
	UpscaleBestTimeout Duration `toml:"upscale_best_timeout"`
	NormalizeTimeout   Duration `toml:"normalize_timeout"`
	EncodeTimeout      Duration `toml:"encode_timeout"`
	MetadataTimeout    Duration `toml:"metadata_timeout"`
	RetryLimit         int      `toml:"retry_limit"`
	BackoffInitial     Duration `toml:"backoff_initial"`
	BackoffMax         Duration `toml:"backoff_max"`
	KillGrace          Duration `toml:"kill_grace"`
}

type TempSettings struct {
	Cleanup   bool   `toml:"cleanup"`
	Directory string `toml:"directory"`
}

type HistorySettings struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// JobOptions derives per-job defaults from s.
func (s Settings) JobOptions() JobOptions {
	return JobOptions{
		Format:     s.Output.Format,
		OutputDir:  s.Output.Directory,
		Enhance:    s.Upscale.Enabled,
		Quality:    s.Upscale.Quality,
		Normalize:  s.Normalize.Enabled,
		TargetLUFS: s.Normalize.TargetLUFS,
		KeepTemp:   !s.Temp.Cleanup,
	}
}
