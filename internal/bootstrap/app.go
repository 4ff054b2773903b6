package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"ytaudio/internal/config"
	"ytaudio/internal/diagnostics"
	"ytaudio/internal/domain"
	"ytaudio/internal/history"
	"ytaudio/internal/jobs"
	"ytaudio/internal/logging"
	"ytaudio/internal/models"
	"ytaudio/internal/pipeline"
	"ytaudio/internal/sources"
	"ytaudio/internal/stage"
	"ytaudio/internal/upscale"
)

const busCapacity = 256

// Options locate configuration and logging for New.
type Options struct {
	ConfigPath string
	EnvFile    string
	Logger     *slog.Logger
}

// App wires configuration, the stage runner, the executor and the scheduler.
type App struct {
	Settings domain.Settings
	Source   config.Source
	Store    config.Store

	runner   stage.Runner
	enhancer upscale.Enhancer
	resolver *sources.Resolver
	checker  *diagnostics.Checker
	logger   *slog.Logger

	mu     sync.Mutex
	active *jobs.Scheduler
}

// New resolves settings and builds the production application.
func New(opts Options) (*App, error) {
	logger := logging.OrDefault(opts.Logger)

	settings, src, err := config.Resolve(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, err
	}

	runner := stage.NewExecRunner(settings.Stages.KillGrace.Std(), logger)
	return newApp(settings, src, runner, nil, logger), nil
}

func newApp(settings domain.Settings, src config.Source, runner stage.Runner, enhancer upscale.Enhancer, logger *slog.Logger) *App {
	if enhancer == nil {
		enhancer = upscale.NewBridge(upscale.Options{
			Python:      settings.Paths.Python,
			ModelDir:    settings.Upscale.ModelDir,
			FastTimeout: settings.Stages.UpscaleFastTimeout.Std(),
			BestTimeout: settings.Stages.UpscaleBestTimeout.Std(),
			Logger:      logger,
		}, runner)
	}
	return &App{
		Settings: settings,
		Source:   src,
		Store:    config.NewTOMLStore(src.ConfigPath),
		runner:   runner,
		enhancer: enhancer,
		resolver: sources.NewResolver(nil, logger),
		checker:  diagnostics.NewChecker(runner),
		logger:   logger,
	}
}

// JobOverrides are per-invocation choices layered over the configured defaults. Nil
// fields keep the configured value.
type JobOverrides struct {
	Format    *domain.OutputFormat
	OutputDir *string
	Enhance   *bool
	Quality   *domain.Quality
	Normalize *bool
	LUFS      *float64
	KeepTemp  *bool
}

// JobOptions merges overrides into the configured defaults and validates the result.
func (a *App) JobOptions(o JobOverrides) (domain.JobOptions, error) {
	opts := a.Settings.JobOptions()
	if o.Format != nil {
		opts.Format = *o.Format
	}
	if o.OutputDir != nil {
		opts.OutputDir = *o.OutputDir
	}
	if o.Enhance != nil {
		opts.Enhance = *o.Enhance
	}
	if o.Quality != nil {
		opts.Quality = *o.Quality
	}
	if o.Normalize != nil {
		opts.Normalize = *o.Normalize
	}
	if o.LUFS != nil {
		opts.TargetLUFS = *o.LUFS
	}
	if o.KeepTemp != nil {
		opts.KeepTemp = *o.KeepTemp
	}

	if strings.TrimSpace(opts.OutputDir) == "" {
		return domain.JobOptions{}, &config.ValidationError{Field: "output", Reason: "must not be empty"}
	}
	if err := config.ValidateLUFS(opts.TargetLUFS); err != nil {
		return domain.JobOptions{}, &config.ValidationError{Field: "lufs", Reason: err.Error()}
	}
	return opts, nil
}

// ResolveSources expands a list file or playlist URL into video URLs.
func (a *App) ResolveSources(ctx context.Context, input string) ([]string, error) {
	return a.resolver.Resolve(ctx, input)
}

// BatchRequest is one run of the scheduler.
type BatchRequest struct {
	Sources     []string
	Options     domain.JobOptions
	MaxParallel int
	// OnEvent receives every delivered event on a single goroutine.
	OnEvent func(jobs.Event)
}

// RunBatch runs sources through the pipeline, streams events to OnEvent and records the
// results in history. A cancelled batch still returns its partial result.
func (a *App) RunBatch(ctx context.Context, req BatchRequest) (jobs.BatchResult, error) {
	if err := config.ValidateParallelism(req.MaxParallel); err != nil {
		return jobs.BatchResult{}, err
	}
	for _, src := range req.Sources {
		if err := sources.ValidateURL(src); err != nil {
			return jobs.BatchResult{}, err
		}
	}

	batch, err := jobs.NewJobs(req.Sources, req.Options)
	if err != nil {
		return jobs.BatchResult{}, err
	}

	bus := jobs.NewBus(busCapacity)

	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for event := range bus.Events() {
			if req.OnEvent != nil {
				req.OnEvent(event)
			}
		}
	}()

	executor := pipeline.New(pipeline.Options{
		Settings:  a.Settings,
		Runner:    a.runner,
		Enhancer:  a.enhancer,
		Publisher: bus,
		Logger:    a.logger,
	})
	scheduler := jobs.NewScheduler(executor, jobs.SchedulerOptions{
		ContinueOnError: a.Settings.Batch.ContinueOnError,
		Publisher:       bus,
		Logger:          a.logger,
	})

	a.mu.Lock()
	a.active = scheduler
	a.mu.Unlock()
	result, runErr := scheduler.RunBatch(ctx, batch, req.MaxParallel)
	a.mu.Lock()
	a.active = nil
	a.mu.Unlock()
	bus.Close()
	consumer.Wait()

	if dropped := bus.Dropped(); dropped > 0 {
		a.logger.Debug("progress ticks dropped", "count", dropped)
	}
	if runErr != nil {
		return result, runErr
	}

	if err := a.recordHistory(context.WithoutCancel(ctx), result, req.Options); err != nil {
		a.logger.Warn("record history", "error", err)
	}
	return result, nil
}

// CancelJob cancels one job of the running batch and leaves its siblings alone. It
// reports false when no batch is running or the job is not in flight.
func (a *App) CancelJob(jobID string) bool {
	a.mu.Lock()
	scheduler := a.active
	a.mu.Unlock()
	if scheduler == nil {
		return false
	}
	return scheduler.Cancel(jobID)
}

func (a *App) recordHistory(ctx context.Context, result jobs.BatchResult, opts domain.JobOptions) error {
	if !a.Settings.History.Enabled || result.Len() == 0 {
		return nil
	}
	store, err := history.Open(ctx, a.Settings.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.AddBatch(ctx, result, opts)
}

// History lists recent runs. A disabled ledger is reported as an error.
func (a *App) History(ctx context.Context, limit int) ([]history.Record, error) {
	if !a.Settings.History.Enabled {
		return nil, errors.New("history is disabled (history.enabled = false)")
	}
	store, err := history.Open(ctx, a.Settings.History.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(ctx, limit)
}

// Doctor runs dependency diagnostics against the resolved settings.
func (a *App) Doctor(ctx context.Context) domain.DiagnosticReport {
	return a.checker.Run(ctx, a.Settings)
}

// UpdateModels provisions the python environment and model files, then reloads settings.
func (a *App) UpdateModels(ctx context.Context, onStep func(models.Step)) (models.Report, error) {
	modelDir := a.Settings.Upscale.ModelDir
	if strings.TrimSpace(modelDir) == "" {
		return models.Report{}, fmt.Errorf("upscale.model_dir is not configured")
	}

	installer := models.NewInstaller(models.Options{
		VenvDir:  config.VenvDir(),
		ModelDir: modelDir,
		Store:    a.Store,
		Runner:   a.runner,
		Logger:   a.logger,
		OnStep:   onStep,
	})
	report, err := installer.Install(ctx)
	if err != nil {
		return report, err
	}

	a.Settings.Paths.Python = report.Settings.Paths.Python
	a.Settings.Upscale.ModelDir = report.Settings.Upscale.ModelDir
	return report, nil
}

// Models lists the enhancement model assets with their download state.
func (a *App) Models() []domain.ModelAsset {
	return models.Catalog(a.Settings.Upscale.ModelDir)
}

// SaveSettings writes the resolved settings to the config file.
func (a *App) SaveSettings() error {
	return a.Store.Save(a.Settings)
}

// NewForTests builds an app around injected settings, runner and enhancer.
func NewForTests(settings domain.Settings, configPath string, runner stage.Runner, enhancer upscale.Enhancer, logger *slog.Logger) *App {
	return newApp(settings, config.Source{ConfigPath: configPath}, runner, enhancer, logging.OrDefault(logger))
}
