package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"ytaudio/internal/domain"
	"ytaudio/internal/stage"
	"ytaudio/internal/upscale"
)

const queryTimeout = 20 * time.Second

// pythonModules are imported by the enhancement scripts.
var pythonModules = []string{"audiosr", "onnxruntime", "librosa"}

// Checker validates external tools, the enhancement runtime and output paths.
type Checker struct {
	runner     stage.Runner
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies. Queries run through runner.
func NewChecker(runner stage.Runner) *Checker {
	return &Checker{
		runner:     runner,
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes all checks and returns a combined report. Enhancement checks are optional
// unless enhancement is enabled by default.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(ctx, "yt-dlp", settings.Paths.YtDlp, "--version", firstLine),
		c.checkTool(ctx, "ffmpeg", settings.Paths.FFmpeg, "-version", ffmpegVersion),
	}

	required := settings.Upscale.Enabled
	python := c.checkPython(ctx, settings.Paths.Python, required)
	items = append(items, python)
	for _, module := range pythonModules {
		if python.Status != domain.DiagnosticStatusPass {
			items = append(items, skipped("python_"+module, module, "Python runtime unavailable.", required))
			continue
		}
		items = append(items, c.checkModule(ctx, settings.Paths.Python, module, required))
	}
	items = append(items,
		c.checkFlashSRModel(settings.Upscale.ModelDir),
		c.checkOutputDir(settings.Output.Directory),
	)

	report := domain.DiagnosticReport{
		GeneratedAt: c.now(),
		Items:       items,
	}
	report.HasFailures = len(report.Failed()) > 0
	return report
}

// query runs name with args and returns its stdout.
func (c *Checker) query(ctx context.Context, name string, args ...string) (string, error) {
	outcome := c.runner.Run(ctx, stage.Invocation{
		Command: stage.Command{Name: name, Args: args},
		Timeout: queryTimeout,
	}, nil)
	if !outcome.OK() {
		return outcome.Log.Stdout, outcome.Err
	}
	return outcome.Log.Stdout, nil
}

func firstLine(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(line)
}

// ffmpegVersion picks the version word out of "ffmpeg version 7.1 Copyright ...".
func ffmpegVersion(out string) string {
	fields := strings.Fields(firstLine(out))
	if len(fields) >= 3 {
		return fields[2]
	}
	return "unknown"
}

// checkTool verifies a required CLI executable can be found and started.
func (c *Checker) checkTool(ctx context.Context, name, configured, versionFlag string, version func(string) string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "tool_" + name,
		Name: name,
	}

	if strings.TrimSpace(configured) == "" {
		configured = name
	}
	path, err := c.lookPath(configured)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found: %s", configured)
		item.Hint = fmt.Sprintf("Install %s and make sure it is on PATH, or set paths.%s in the config file.", name, strings.ReplaceAll(name, "-", "_"))
		return item
	}

	out, err := c.query(ctx, path, versionFlag)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Found at %s but it failed to report a version", path)
		item.Hint = "Reinstall the tool; the binary may be broken."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%s (%s)", version(out), path)
	return item
}

func (c *Checker) checkPython(ctx context.Context, python string, required bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:       "python",
		Name:     "python",
		Optional: !required,
	}

	if strings.TrimSpace(python) == "" {
		item.Status = missingStatus(required)
		item.Message = "No python runtime configured."
		item.Hint = "Run `ytaudio update-models` to create the enhancement environment."
		return item
	}

	path, err := c.lookPath(python)
	if err != nil {
		item.Status = missingStatus(required)
		item.Message = fmt.Sprintf("Python runtime not found: %s", python)
		item.Hint = "Run `ytaudio update-models` to create the enhancement environment."
		return item
	}

	out, err := c.query(ctx, path, "--version")
	if err != nil {
		item.Status = missingStatus(required)
		item.Message = fmt.Sprintf("Python at %s failed to start", path)
		item.Hint = "Recreate the environment with `ytaudio update-models`."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%s (%s)", strings.TrimPrefix(firstLine(out), "Python "), path)
	return item
}

func (c *Checker) checkModule(ctx context.Context, python, module string, required bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:       "python_" + module,
		Name:     module,
		Optional: !required,
	}

	script := fmt.Sprintf("import %s; print(getattr(%s, '__version__', 'installed'))", module, module)
	out, err := c.query(ctx, python, "-c", script)
	if err != nil {
		item.Status = missingStatus(required)
		item.Message = "Not installed."
		item.Hint = "Run `ytaudio update-models`."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = firstLine(out)
	return item
}

// checkFlashSRModel looks for the pre-downloaded fast-tier model. Without it the model is
// fetched on first use, so a miss is only a warning.
func (c *Checker) checkFlashSRModel(modelDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:       "model_flashsr",
		Name:     "FlashSR model",
		Optional: true,
	}

	path := upscale.FlashSRModelPath(modelDir)
	info, err := c.stat(path)
	if err != nil || info.IsDir() {
		item.Status = domain.DiagnosticStatusWarn
		if err != nil && !IsNotExist(err) {
			item.Message = fmt.Sprintf("Cannot access model file: %s", path)
		} else {
			item.Message = fmt.Sprintf("Not downloaded: %s", path)
		}
		item.Hint = "Run `ytaudio update-models`; otherwise it is downloaded on first use."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%s (%d MB)", path, info.Size()>>20)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set output.directory in the config file or pass --output."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for extracted audio."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

func missingStatus(required bool) domain.DiagnosticStatus {
	if required {
		return domain.DiagnosticStatusFail
	}
	return domain.DiagnosticStatusWarn
}

func skipped(id, name, reason string, required bool) domain.DiagnosticItem {
	return domain.DiagnosticItem{
		ID:       id,
		Name:     name,
		Status:   missingStatus(required),
		Message:  reason,
		Hint:     "Run `ytaudio update-models`.",
		Optional: !required,
	}
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	runner stage.Runner,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	c := NewChecker(runner)
	c.lookPath = lookPath
	c.stat = stat
	c.mkdirAll = mkdirAll
	c.createTemp = createTemp
	c.remove = remove
	return c
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
