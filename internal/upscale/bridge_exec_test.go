//go:build !windows

package upscale

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytaudio/internal/domain"
	"ytaudio/internal/stage"
)

// fakePython writes a shell script that ignores "-u -c <script>" and honours --output.
func fakePython(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python")
	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
` + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestBridgeExecProgressAndSuccess(t *testing.T) {
	python := fakePython(t, `echo "PROGRESS 0.25"
echo "PROGRESS 0.75"
echo wav > "$out"`)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(input, []byte("wav"), 0o644))
	output := filepath.Join(dir, "out.wav")

	var mu sync.Mutex
	var ticks []float64
	bridge := NewBridge(Options{Python: python, FastTimeout: 10 * time.Second}, stage.NewExecRunner(time.Second, nil))
	outcome := bridge.Enhance(context.Background(), Request{Input: input, Output: output, Quality: domain.QualityFast}, func(v float64) {
		mu.Lock()
		ticks = append(ticks, v)
		mu.Unlock()
	})

	require.True(t, outcome.OK(), "err: %v", outcome.Err)
	assert.FileExists(t, output)
	assert.Equal(t, []float64{0.25, 0.75}, ticks)
}

func TestBridgeExecMissingModuleIsDependencyMissing(t *testing.T) {
	python := fakePython(t, `echo "missing python dependency: No module named 'onnxruntime'" >&2
exit 10`)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(input, []byte("wav"), 0o644))

	bridge := NewBridge(Options{Python: python, FastTimeout: 10 * time.Second}, stage.NewExecRunner(time.Second, nil))
	outcome := bridge.Enhance(context.Background(), Request{
		Input: input, Output: filepath.Join(dir, "out.wav"), Quality: domain.QualityFast,
	}, nil)

	assert.Equal(t, stage.KindFatal, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, stage.ErrDependencyMissing)
	assert.Contains(t, outcome.Err.Error(), "onnxruntime")
}
