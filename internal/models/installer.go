package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ytaudio/internal/config"
	"ytaudio/internal/domain"
	"ytaudio/internal/logging"
	"ytaudio/internal/stage"
)

// Packages are the pinned python requirements of the enhancement scripts.
var Packages = []string{
	"torch>=2.0.0",
	"audiosr==0.0.7",
	"onnxruntime>=1.16.0",
	"librosa>=0.10.0",
	"soundfile>=0.12.0",
	"huggingface-hub>=0.20.0",
	"numpy>=1.24.0",
}

// ErrNoSystemPython is returned when no interpreter is available to create the venv.
var ErrNoSystemPython = errors.New("python 3 not found on PATH")

const (
	venvTimeout    = 5 * time.Minute
	packageTimeout = 30 * time.Minute
)

// StepStatus is the outcome of one setup step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// Step reports one unit of setup work.
type Step struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// Report summarizes an Install run.
type Report struct {
	Python   string          `json:"python"`
	ModelDir string          `json:"modelDir"`
	Steps    []Step          `json:"steps"`
	Settings domain.Settings `json:"-"`
}

// Failed reports whether any step failed.
func (r Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}

// Options configure an Installer.
type Options struct {
	VenvDir  string
	ModelDir string
	Store    config.Store
	Runner   stage.Runner
	Logger   *slog.Logger
	// OnStep is called as each step finishes.
	OnStep func(Step)
}

// Installer creates the managed venv, installs packages and downloads model files.
type Installer struct {
	venvDir  string
	modelDir string
	store    config.Store
	runner   stage.Runner
	logger   *slog.Logger
	onStep   func(Step)

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	mkdirAll func(string, os.FileMode) error
	download func(ctx context.Context, dest, url string) error
}

// NewInstaller wires an installer with real OS and network dependencies.
func NewInstaller(opts Options) *Installer {
	client := &http.Client{}
	return &Installer{
		venvDir:  opts.VenvDir,
		modelDir: opts.ModelDir,
		store:    opts.Store,
		runner:   opts.Runner,
		logger:   logging.OrDefault(opts.Logger),
		onStep:   opts.OnStep,
		lookPath: exec.LookPath,
		stat:     os.Stat,
		mkdirAll: os.MkdirAll,
		download: func(ctx context.Context, dest, url string) error {
			return downloadURLToFile(ctx, client, dest, url)
		},
	}
}

// venvPython is the interpreter inside venvDir.
func (i *Installer) venvPython() string {
	if filepath.Separator == '\\' {
		return filepath.Join(i.venvDir, "Scripts", "python.exe")
	}
	return filepath.Join(i.venvDir, "bin", "python")
}

func (i *Installer) record(report *Report, step Step) {
	report.Steps = append(report.Steps, step)
	i.logger.Info("setup step", "name", step.Name, "status", step.Status, "detail", step.Detail)
	if i.onStep != nil {
		i.onStep(step)
	}
}

// Install provisions everything the enhancement stage needs and persists the python and
// model paths. Package and model failures are reported but do not stop later steps;
// failing to create the venv does.
func (i *Installer) Install(ctx context.Context) (Report, error) {
	report := Report{Python: i.venvPython(), ModelDir: i.modelDir}

	if err := i.ensureVenv(ctx, &report); err != nil {
		return report, err
	}

	python := report.Python
	if err := i.pip(ctx, python, venvTimeout, "install", "--upgrade", "pip"); err != nil {
		i.record(&report, Step{Name: "pip", Status: StepFailed, Detail: err.Error()})
	} else {
		i.record(&report, Step{Name: "pip", Status: StepOK, Detail: "upgraded"})
	}

	for _, pkg := range Packages {
		name := packageName(pkg)
		if err := i.pip(ctx, python, packageTimeout, "install", pkg); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			i.record(&report, Step{Name: name, Status: StepFailed, Detail: err.Error()})
			continue
		}
		i.record(&report, Step{Name: name, Status: StepOK, Detail: pkg})
	}

	i.downloadModels(ctx, &report)
	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	settings, err := i.persist(python)
	if err != nil {
		return report, err
	}
	report.Settings = settings
	return report, nil
}

func (i *Installer) ensureVenv(ctx context.Context, report *Report) error {
	if _, err := i.stat(report.Python); err == nil {
		i.record(report, Step{Name: "venv", Status: StepSkipped, Detail: "exists at " + i.venvDir})
		return nil
	}

	system, err := i.systemPython()
	if err != nil {
		i.record(report, Step{Name: "venv", Status: StepFailed, Detail: err.Error()})
		return err
	}
	if err := i.mkdirAll(filepath.Dir(i.venvDir), 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	outcome := i.runner.Run(ctx, stage.Invocation{
		Command: stage.Command{Name: system, Args: []string{"-m", "venv", i.venvDir}},
		Timeout: venvTimeout,
	}, nil)
	if !outcome.OK() {
		err := fmt.Errorf("create virtual environment: %w", outcome.Err)
		i.record(report, Step{Name: "venv", Status: StepFailed, Detail: err.Error()})
		return err
	}
	i.record(report, Step{Name: "venv", Status: StepOK, Detail: "created at " + i.venvDir})
	return nil
}

func (i *Installer) systemPython() (string, error) {
	for _, name := range []string{"python3", "python"} {
		if path, err := i.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrNoSystemPython
}

func (i *Installer) pip(ctx context.Context, python string, timeout time.Duration, args ...string) error {
	outcome := i.runner.Run(ctx, stage.Invocation{
		Command: stage.Command{
			Name: python,
			Args: append([]string{"-m", "pip", "--disable-pip-version-check"}, args...),
			Env:  []string{"PIP_NO_INPUT=1"},
		},
		Timeout: timeout,
	}, nil)
	if !outcome.OK() {
		if tail := lastLine(outcome.Log.Stderr); tail != "" {
			return fmt.Errorf("%w: %s", outcome.Err, tail)
		}
		return outcome.Err
	}
	return nil
}

func (i *Installer) downloadModels(ctx context.Context, report *Report) {
	asset, _ := assetByID(flashSRID)
	dest := localPath(i.modelDir, asset)
	if info, err := i.stat(dest); err == nil && !info.IsDir() {
		i.record(report, Step{Name: asset.Name, Status: StepSkipped, Detail: "already downloaded"})
		return
	}
	if err := i.download(ctx, dest, asset.URL); err != nil {
		i.record(report, Step{Name: asset.Name, Status: StepFailed, Detail: err.Error() + "; it will be fetched on first use"})
		return
	}
	i.record(report, Step{Name: asset.Name, Status: StepOK, Detail: dest})
}

// persist stores the venv interpreter and model directory in the config file.
func (i *Installer) persist(python string) (domain.Settings, error) {
	if i.store == nil {
		return domain.Settings{}, fmt.Errorf("settings store is not configured")
	}
	settings, err := i.store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings.Paths.Python = python
	settings.Upscale.ModelDir = i.modelDir
	if err := i.store.Save(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

func packageName(requirement string) string {
	name := requirement
	for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<"} {
		if idx := strings.Index(name, sep); idx >= 0 {
			name = name[:idx]
		}
	}
	return strings.TrimSpace(name)
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// NewInstallerForTests builds an installer with injectable lookups and downloads.
func NewInstallerForTests(
	opts Options,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	download func(ctx context.Context, dest, url string) error,
) *Installer {
	i := NewInstaller(opts)
	i.lookPath = lookPath
	i.stat = stat
	i.download = download
	return i
}
