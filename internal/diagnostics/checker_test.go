package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ytaudio/internal/domain"
	"ytaudio/internal/stage"
	"ytaudio/internal/upscale"
)

func fakeToolchain(failModules ...string) stage.Runner {
	return stage.RunnerFunc(func(ctx context.Context, inv stage.Invocation, onProgress stage.ProgressFunc) stage.Outcome {
		args := strings.Join(inv.Command.Args, " ")
		for _, module := range failModules {
			if strings.Contains(args, "import "+module) {
				return stage.Fatal(errors.New("ModuleNotFoundError")).WithLog(stage.CommandLog{ExitCode: 1})
			}
		}

		stdout := "1.0"
		switch {
		case strings.HasSuffix(inv.Command.Name, "ffmpeg"):
			stdout = "ffmpeg version 7.1 Copyright (c) 2000-2024"
		case strings.HasSuffix(inv.Command.Name, "yt-dlp"):
			stdout = "2025.01.15"
		case args == "--version":
			stdout = "Python 3.11.9"
		}
		return stage.Success("").WithLog(stage.CommandLog{Stdout: stdout})
	})
}

func foundAll(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	return "/usr/local/bin/" + name, nil
}

func testSettings(root string) domain.Settings {
	return domain.Settings{
		Paths:   domain.PathSettings{YtDlp: "yt-dlp", FFmpeg: "ffmpeg", Python: "python3"},
		Output:  domain.OutputSettings{Directory: filepath.Join(root, "output")},
		Upscale: domain.UpscaleSettings{Enabled: true, ModelDir: filepath.Join(root, "models")},
	}
}

func findItem(t *testing.T, report domain.DiagnosticReport, id string) domain.DiagnosticItem {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			return item
		}
	}
	t.Fatalf("item %s not found in %+v", id, report.Items)
	return domain.DiagnosticItem{}
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	settings := testSettings(root)
	modelPath := upscale.FlashSRModelPath(settings.Upscale.ModelDir)
	if err := os.MkdirAll(filepath.Dir(modelPath), 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(modelPath, []byte("onnx"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	checker := NewCheckerForTests(fakeToolchain(), foundAll, os.Stat, os.MkdirAll, os.CreateTemp, os.Remove)
	report := checker.Run(context.Background(), settings)

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	for _, item := range report.Items {
		if item.Status != domain.DiagnosticStatusPass {
			t.Fatalf("item %s status = %s (%s)", item.ID, item.Status, item.Message)
		}
	}
	if got := findItem(t, report, "tool_ffmpeg").Message; !strings.HasPrefix(got, "7.1 ") {
		t.Fatalf("ffmpeg message = %q", got)
	}
	if got := findItem(t, report, "python").Message; !strings.HasPrefix(got, "3.11.9 ") {
		t.Fatalf("python message = %q", got)
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		fakeToolchain(),
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	settings := testSettings(t.TempDir())
	settings.Output.Directory = ""
	report := checker.Run(context.Background(), settings)

	if !report.HasFailures {
		t.Fatal("expected failures")
	}
	for _, id := range []string{"tool_yt-dlp", "tool_ffmpeg", "python", "python_audiosr", "output_dir"} {
		if item := findItem(t, report, id); item.Status != domain.DiagnosticStatusFail {
			t.Fatalf("%s status = %s, want fail", id, item.Status)
		}
	}
	if item := findItem(t, report, "model_flashsr"); item.Status != domain.DiagnosticStatusWarn {
		t.Fatalf("model status = %s, want warn", item.Status)
	}
}

// TestCheckerEnhancementOptionalWhenDisabled keeps missing modules as warnings.
func TestCheckerEnhancementOptionalWhenDisabled(t *testing.T) {
	root := t.TempDir()
	settings := testSettings(root)
	settings.Upscale.Enabled = false

	checker := NewCheckerForTests(fakeToolchain("audiosr"), foundAll, os.Stat, os.MkdirAll, os.CreateTemp, os.Remove)
	report := checker.Run(context.Background(), settings)

	if report.HasFailures {
		t.Fatalf("expected only warnings, got %+v", report.Failed())
	}
	item := findItem(t, report, "python_audiosr")
	if item.Status != domain.DiagnosticStatusWarn || !item.Optional {
		t.Fatalf("audiosr item = %+v, want optional warning", item)
	}
	if item := findItem(t, report, "python_librosa"); item.Status != domain.DiagnosticStatusPass {
		t.Fatalf("librosa status = %s, want pass", item.Status)
	}
}

// TestCheckerMissingModuleFailsWhenEnabled makes enhancement modules required.
func TestCheckerMissingModuleFailsWhenEnabled(t *testing.T) {
	checker := NewCheckerForTests(fakeToolchain("onnxruntime"), foundAll, os.Stat, os.MkdirAll, os.CreateTemp, os.Remove)
	report := checker.Run(context.Background(), testSettings(t.TempDir()))

	failed := report.Failed()
	if len(failed) != 1 || failed[0].ID != "python_onnxruntime" {
		t.Fatalf("failed = %+v, want only python_onnxruntime", failed)
	}
}

// TestCheckOutputDirNotWritable maps temp-file errors to a failure.
func TestCheckOutputDirNotWritable(t *testing.T) {
	checker := NewCheckerForTests(
		fakeToolchain(),
		foundAll,
		os.Stat,
		func(string, os.FileMode) error { return nil },
		func(string, string) (*os.File, error) { return nil, os.ErrPermission },
		os.Remove,
	)

	item := checker.checkOutputDir("/readonly")
	if item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("status = %s, want fail", item.Status)
	}
}
