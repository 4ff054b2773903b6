package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytaudio/internal/config"
	"ytaudio/internal/domain"
	"ytaudio/internal/jobs"
	"ytaudio/internal/logging"
	"ytaudio/internal/stage"
	"ytaudio/internal/upscale"
)

const loudnormOutput = `[Parsed_loudnorm_0 @ 0x55d]
{
	"input_i" : "-23.54",
	"input_tp" : "-5.12",
	"input_lra" : "7.10",
	"input_thresh" : "-34.01",
	"output_i" : "-14.02",
	"output_tp" : "-1.00",
	"output_lra" : "6.00",
	"output_thresh" : "-24.40",
	"normalization_type" : "dynamic",
	"target_offset" : "0.02"
}`

const infoJSON = `{"id":"vid123","title":"Song: Live?","uploader":"Some Artist","upload_date":"20240102","duration":10}`

type stepHook func(ctx context.Context, n int) (stage.Outcome, bool)

// fakeToolchain stands in for yt-dlp and ffmpeg and writes the files they would produce.
type fakeToolchain struct {
	mu     sync.Mutex
	counts map[string]int
	hooks  map[string]stepHook
}

func newFakeToolchain() *fakeToolchain {
	return &fakeToolchain{counts: map[string]int{}, hooks: map[string]stepHook{}}
}

func stepOf(inv stage.Invocation) string {
	if inv.Command.Name == "yt-dlp" {
		return "download"
	}
	base := filepath.Base(inv.Output)
	switch {
	case inv.Output == "":
		return "measure"
	case base == "decoded.wav":
		return "decode"
	case base == "normalized.wav":
		return "normalize"
	case strings.HasPrefix(base, "encoded."):
		return "encode"
	case strings.HasPrefix(base, "tagged."):
		return "metadata"
	default:
		return "unknown"
	}
}

func (f *fakeToolchain) count(step string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[step]
}

func (f *fakeToolchain) Run(ctx context.Context, inv stage.Invocation, onProgress stage.ProgressFunc) stage.Outcome {
	step := stepOf(inv)
	f.mu.Lock()
	f.counts[step]++
	n := f.counts[step]
	hook := f.hooks[step]
	f.mu.Unlock()

	if hook != nil {
		if outcome, ok := hook(ctx, n); ok {
			return outcome
		}
	}
	if onProgress != nil {
		onProgress(0.5)
	}

	switch step {
	case "download":
		dir := filepath.Dir(inv.Output)
		for name, content := range map[string]string{
			"vid123.opus":      "opus",
			"vid123.info.json": infoJSON,
			"vid123.jpg":       "jpeg",
		} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
				return stage.Fatal(err)
			}
		}
		return stage.Success(inv.Output)
	case "measure":
		return stage.Success("").WithLog(stage.CommandLog{Command: "ffmpeg", Stderr: loudnormOutput})
	default:
		if err := os.WriteFile(inv.Output, []byte(step), 0o644); err != nil {
			return stage.Fatal(err)
		}
		return stage.Success(inv.Output)
	}
}

type fakeEnhancer struct {
	mu      sync.Mutex
	calls   int
	quality domain.Quality
	outcome func(n int) (stage.Outcome, bool)
}

func (f *fakeEnhancer) Enhance(ctx context.Context, req upscale.Request, onProgress stage.ProgressFunc) stage.Outcome {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.quality = req.Quality
	f.mu.Unlock()

	if f.outcome != nil {
		if out, ok := f.outcome(n); ok {
			return out
		}
	}
	if err := os.WriteFile(req.Output, []byte("upscaled"), 0o644); err != nil {
		return stage.Fatal(err)
	}
	return stage.Success(req.Output)
}

type eventLog struct {
	mu     sync.Mutex
	events []jobs.Event
}

func (l *eventLog) Publish(event jobs.Event) jobs.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return event
}

func (l *eventLog) all() []jobs.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]jobs.Event(nil), l.events...)
}

func (l *eventLog) ofKind(kind jobs.EventKind) []jobs.Event {
	var out []jobs.Event
	for _, e := range l.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) transitions() []domain.Stage {
	var out []domain.Stage
	for _, e := range l.ofKind(jobs.EventKindTransition) {
		out = append(out, e.Stage)
	}
	return out
}

type harness struct {
	exec     *Executor
	tools    *fakeToolchain
	enhancer *fakeEnhancer
	events   *eventLog
	waits    []time.Duration
	root     string
	tempDir  string
	outDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		tools:    newFakeToolchain(),
		enhancer: &fakeEnhancer{},
		events:   &eventLog{},
		root:     root,
		tempDir:  filepath.Join(root, "tmp"),
		outDir:   filepath.Join(root, "out"),
	}
	require.NoError(t, os.MkdirAll(h.tempDir, 0o755))

	settings := config.DefaultSettings()
	settings.Temp.Directory = h.tempDir
	settings.Output.Directory = h.outDir

	h.exec = New(Options{
		Settings:  settings,
		Runner:    h.tools,
		Enhancer:  h.enhancer,
		Publisher: h.events,
		Logger:    logging.Discard(),
	})
	h.exec.sleep = func(ctx context.Context, d time.Duration) error {
		h.waits = append(h.waits, d)
		return ctx.Err()
	}
	return h
}

func (h *harness) job(t *testing.T, mutate func(*domain.JobOptions)) domain.Job {
	t.Helper()
	opts := domain.JobOptions{
		Format:     domain.FormatFLAC,
		OutputDir:  h.outDir,
		Quality:    domain.QualityFast,
		TargetLUFS: -14,
	}
	if mutate != nil {
		mutate(&opts)
	}
	job, err := jobs.NewJob("https://www.youtube.com/watch?v=vid123", 1, opts)
	require.NoError(t, err)
	return job
}

func assertSingleTerminalLast(t *testing.T, events []jobs.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	terminals := 0
	for _, e := range events {
		if e.Kind == jobs.EventKindTerminal {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, jobs.EventKindTerminal, events[len(events)-1].Kind)
}

func assertOrdered(t *testing.T, stages []domain.Stage) {
	t.Helper()
	for i := 1; i < len(stages); i++ {
		assert.Less(t, stages[i-1].Order(), stages[i].Order(), "%s before %s", stages[i-1], stages[i])
	}
}

func assertWorkspaceRemoved(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunCompletesEveryStage(t *testing.T) {
	h := newHarness(t)
	job := h.job(t, func(o *domain.JobOptions) {
		o.Enhance = true
		o.Normalize = true
	})

	result := h.exec.Run(context.Background(), job)

	require.True(t, result.Succeeded(), "error: %v", result.Err)
	assert.Equal(t, filepath.Join(h.outDir, "Song_ Live_.flac"), result.OutputPath)
	assert.Equal(t, "Song: Live?", result.Title)
	assert.FileExists(t, result.OutputPath)

	assert.Equal(t, []domain.Stage{
		domain.StageDownloading,
		domain.StageDecoding,
		domain.StageUpscaling,
		domain.StageNormalizing,
		domain.StageEncoding,
		domain.StageEmbeddingMetadata,
	}, h.events.transitions())
	assert.Equal(t, []domain.Stage{
		domain.StageQueued,
		domain.StageDownloading,
		domain.StageDecoding,
		domain.StageUpscaling,
		domain.StageNormalizing,
		domain.StageEncoding,
		domain.StageEmbeddingMetadata,
		domain.StageCompleted,
	}, result.Stages)

	events := h.events.all()
	assertSingleTerminalLast(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.StageCompleted, last.Stage)
	assert.Equal(t, result.OutputPath, last.OutputPath)
	for _, e := range events {
		assert.Equal(t, job.ID, e.JobID)
	}

	assert.Equal(t, 1, h.tools.count("measure"))
	assert.Equal(t, 1, h.tools.count("normalize"))
	assert.Equal(t, domain.QualityFast, h.enhancer.quality)
	assert.NotEmpty(t, h.events.ofKind(jobs.EventKindProgress))
	assertWorkspaceRemoved(t, h.tempDir)
}

func TestRunDownloadRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.tools.hooks["download"] = func(ctx context.Context, n int) (stage.Outcome, bool) {
		if n <= 2 {
			return stage.Retryable(errors.New("Connection reset by peer")), true
		}
		return stage.Outcome{}, false
	}

	result := h.exec.Run(context.Background(), h.job(t, nil))

	require.True(t, result.Succeeded(), "error: %v", result.Err)
	assert.Equal(t, 3, h.tools.count("download"))
	assert.Equal(t, 3, result.Attempts[domain.StageDownloading])
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.waits)

	retries := h.events.ofKind(jobs.EventKindRetry)
	require.Len(t, retries, 2)
	assert.Equal(t, 2, retries[0].Attempt)
	assert.Equal(t, 3, retries[1].Attempt)
	assert.Equal(t, domain.StageDownloading, retries[0].Stage)
}

func TestRunRetryableThenFatalStopsAfterLimit(t *testing.T) {
	h := newHarness(t)
	limit := h.exec.retry.Limit
	h.tools.hooks["decode"] = func(ctx context.Context, n int) (stage.Outcome, bool) {
		if n <= limit {
			return stage.Retryable(stage.ErrTimeout), true
		}
		return stage.Fatal(errors.New("Invalid data found when processing input")), true
	}

	result := h.exec.Run(context.Background(), h.job(t, nil))

	assert.Equal(t, domain.StageFailed, result.Stage)
	assert.Equal(t, domain.ErrorKindDecode, result.ErrorKind)
	assert.Equal(t, domain.StageDecoding, result.FailedAt)
	assert.Equal(t, limit+1, h.tools.count("decode"))
	assert.Equal(t, 0, h.tools.count("encode"))
	assertSingleTerminalLast(t, h.events.all())
	assertWorkspaceRemoved(t, h.tempDir)
}

func TestRunExhaustedTimeoutsReportTimeout(t *testing.T) {
	h := newHarness(t)
	h.tools.hooks["encode"] = func(ctx context.Context, n int) (stage.Outcome, bool) {
		return stage.Retryable(stage.ErrTimeout), true
	}

	result := h.exec.Run(context.Background(), h.job(t, nil))

	assert.Equal(t, domain.StageFailed, result.Stage)
	assert.Equal(t, domain.ErrorKindTimeout, result.ErrorKind)
	assert.Equal(t, h.exec.retry.Limit+1, h.tools.count("encode"))
	assert.ErrorIs(t, result.Err, stage.ErrTimeout)

	var stageErr *StageError
	require.ErrorAs(t, result.Err, &stageErr)
	assert.Equal(t, h.exec.retry.Limit+1, stageErr.Attempts)
}

func TestRunEnhancementDisabledSkipsUpscaling(t *testing.T) {
	h := newHarness(t)

	result := h.exec.Run(context.Background(), h.job(t, nil))

	require.True(t, result.Succeeded(), "error: %v", result.Err)
	for _, e := range h.events.all() {
		assert.NotEqual(t, domain.StageUpscaling, e.Stage)
		assert.NotEqual(t, domain.StageNormalizing, e.Stage)
	}
	assert.Equal(t, 0, h.enhancer.calls)
	assert.Equal(t, 0, h.tools.count("measure"))
	assertOrdered(t, h.events.transitions())
}

func TestRunMissingEnhancerRuntimeIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.enhancer.outcome = func(n int) (stage.Outcome, bool) {
		return stage.DependencyMissing("python runtime %q not found", "python3"), true
	}

	result := h.exec.Run(context.Background(), h.job(t, func(o *domain.JobOptions) { o.Enhance = true }))

	assert.Equal(t, domain.StageFailed, result.Stage)
	assert.Equal(t, domain.ErrorKindDependencyMissing, result.ErrorKind)
	assert.Equal(t, domain.StageUpscaling, result.FailedAt)
	assert.Equal(t, 1, h.enhancer.calls)
	assert.Equal(t, 1, result.Attempts[domain.StageUpscaling])
	assert.Empty(t, h.events.ofKind(jobs.EventKindRetry))
	assert.ErrorIs(t, result.Err, stage.ErrDependencyMissing)
}

func TestRunCancelledMidStage(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.tools.hooks["decode"] = func(ctx context.Context, n int) (stage.Outcome, bool) {
		cancel()
		return stage.Cancelled(), true
	}

	result := h.exec.Run(ctx, h.job(t, nil))

	assert.Equal(t, domain.StageFailed, result.Stage)
	assert.Equal(t, domain.ErrorKindCancelled, result.ErrorKind)
	assert.Equal(t, 1, h.tools.count("decode"))
	assert.Equal(t, 0, h.tools.count("encode"))
	assert.Equal(t, []domain.Stage{
		domain.StageQueued, domain.StageDownloading, domain.StageDecoding, domain.StageFailed,
	}, result.Stages)

	events := h.events.all()
	assertSingleTerminalLast(t, events)
	assert.Equal(t, domain.ErrorKindCancelled, events[len(events)-1].ErrorKind)
	assertWorkspaceRemoved(t, h.tempDir)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := h.exec.Run(ctx, h.job(t, nil))

	assert.Equal(t, domain.ErrorKindCancelled, result.ErrorKind)
	assert.Equal(t, 0, h.tools.count("download"))
	assertSingleTerminalLast(t, h.events.all())
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.tools.hooks["download"] = func(ctx context.Context, n int) (stage.Outcome, bool) {
		return stage.Retryable(errors.New("HTTP Error 503")), true
	}
	h.exec.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result := h.exec.Run(ctx, h.job(t, nil))

	assert.Equal(t, domain.ErrorKindCancelled, result.ErrorKind)
	assert.Equal(t, 1, h.tools.count("download"))
}

func TestRunKeepTempRetainsWorkspace(t *testing.T) {
	h := newHarness(t)

	result := h.exec.Run(context.Background(), h.job(t, func(o *domain.JobOptions) { o.KeepTemp = true }))

	require.True(t, result.Succeeded(), "error: %v", result.Err)
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "ytaudio-"+jobs.ShortID(result.JobID)))
}

func TestRunRequiresOutputDirectory(t *testing.T) {
	h := newHarness(t)

	result := h.exec.Run(context.Background(), h.job(t, func(o *domain.JobOptions) { o.OutputDir = " " }))

	assert.Equal(t, domain.StageFailed, result.Stage)
	assert.Equal(t, domain.ErrorKindConfigInvalid, result.ErrorKind)
	assert.Equal(t, 0, h.tools.count("download"))
	assertSingleTerminalLast(t, h.events.all())
}

func TestRunAvoidsOverwritingExistingOutput(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.outDir, 0o755))
	existing := filepath.Join(h.outDir, "Song_ Live_.mp3")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	result := h.exec.Run(context.Background(), h.job(t, func(o *domain.JobOptions) { o.Format = domain.FormatMP3 }))

	require.True(t, result.Succeeded(), "error: %v", result.Err)
	assert.Equal(t, filepath.Join(h.outDir, "Song_ Live_ (1).mp3"), result.OutputPath)
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestRunConcurrentJobsWithSameTitleKeepBothOutputs(t *testing.T) {
	h := newHarness(t)

	// Hold the first two link calls until both jobs have reached the same name.
	var arrived sync.WaitGroup
	arrived.Add(2)
	var calls atomic.Int32
	link := h.exec.link
	h.exec.link = func(oldname, newname string) error {
		if calls.Add(1) <= 2 {
			arrived.Done()
			arrived.Wait()
		}
		return link(oldname, newname)
	}

	var (
		wg      sync.WaitGroup
		results [2]jobs.JobResult
	)
	for i := range results {
		job := h.job(t, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.exec.Run(context.Background(), job)
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.True(t, r.Succeeded(), "error: %v", r.Err)
		assert.FileExists(t, r.OutputPath)
	}
	assert.NotEqual(t, results[0].OutputPath, results[1].OutputPath)
	assert.ElementsMatch(t, []string{
		filepath.Join(h.outDir, "Song_ Live_.flac"),
		filepath.Join(h.outDir, "Song_ Live_ (1).flac"),
	}, []string{results[0].OutputPath, results[1].OutputPath})

	entries, err := os.ReadDir(h.outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunCopiesOutputWhenLinkUnsupported(t *testing.T) {
	h := newHarness(t)
	h.exec.link = func(oldname, newname string) error {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: errors.New("invalid cross-device link")}
	}
	require.NoError(t, os.MkdirAll(h.outDir, 0o755))
	existing := filepath.Join(h.outDir, "Song_ Live_.flac")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	result := h.exec.Run(context.Background(), h.job(t, nil))

	require.True(t, result.Succeeded(), "error: %v", result.Err)
	assert.Equal(t, filepath.Join(h.outDir, "Song_ Live_ (1).flac"), result.OutputPath)
	data, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "metadata", string(data))
	old, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestDownloadWithoutAudioFails(t *testing.T) {
	h := newHarness(t)
	h.tools.hooks["download"] = func(ctx context.Context, n int) (stage.Outcome, bool) {
		return stage.Success(""), true
	}

	result := h.exec.Run(context.Background(), h.job(t, nil))

	assert.Equal(t, domain.ErrorKindDownload, result.ErrorKind)
	assert.Contains(t, result.ErrorMessage(), "audio file not found")
}
