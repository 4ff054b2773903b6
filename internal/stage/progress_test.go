package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentExtractor(t *testing.T) {
	e := PercentExtractor()

	v, ok := e.Extract("[download]  45.3% of   3.45MiB at  1.2MiB/s ETA 00:02")
	assert.True(t, ok)
	assert.InDelta(t, 0.453, v, 1e-9)

	_, ok = e.Extract("[info] Writing video metadata")
	assert.False(t, ok)

	_, ok = e.Extract("ratio 250%")
	assert.False(t, ok)
}

func TestStepExtractor(t *testing.T) {
	e := StepExtractor()

	v, ok := e.Extract("DDIM Sampler:  46%|████▌     | 23/50 [00:10<00:12,  2.10it/s]")
	assert.True(t, ok)
	assert.InDelta(t, 0.46, v, 1e-9)

	_, ok = e.Extract("loaded 3 checkpoints")
	assert.False(t, ok)

	_, ok = e.Extract("| 60/50 ")
	assert.False(t, ok)
}

func TestMarkerExtractor(t *testing.T) {
	e := MarkerExtractor("PROGRESS")

	v, ok := e.Extract("PROGRESS 0.42")
	assert.True(t, ok)
	assert.InDelta(t, 0.42, v, 1e-9)

	_, ok = e.Extract("PROGRESSIVE loading")
	assert.False(t, ok)
}

func TestFFmpegExtractor(t *testing.T) {
	e := FFmpegExtractor(10 * time.Second)

	v, ok := e.Extract("out_time_us=2500000")
	assert.True(t, ok)
	assert.InDelta(t, 0.25, v, 1e-9)

	v, ok = e.Extract("progress=end")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = e.Extract("progress=continue")
	assert.False(t, ok)

	_, ok = FFmpegExtractor(0).Extract("out_time_us=2500000")
	assert.False(t, ok, "no duration means no fraction")
}

func TestFirstOf(t *testing.T) {
	e := FirstOf(nil, MarkerExtractor("PROGRESS"), StepExtractor())

	v, ok := e.Extract("PROGRESS 0.9")
	assert.True(t, ok)
	assert.InDelta(t, 0.9, v, 1e-9)

	v, ok = e.Extract(" 10/20 [00:01<00:01]")
	assert.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)
}

func TestLineWriterSplitsCarriageReturns(t *testing.T) {
	var got []string
	w := newLineWriter(func(line string) { got = append(got, line) })

	_, _ = w.Write([]byte("a\r\nb"))
	_, _ = w.Write([]byte("c\rd\n\npartial"))
	w.Flush()

	assert.Equal(t, []string{"a", "bc", "d", "partial"}, got)
}

func TestTailKeepsLastLines(t *testing.T) {
	tl := newTail(3)
	for _, line := range []string{"1", "2", "3", "4", "5"} {
		tl.Add(line)
	}
	assert.Equal(t, []string{"3", "4", "5"}, tl.Lines())

	short := newTail(3)
	short.Add("x")
	assert.Equal(t, []string{"x"}, short.Lines())
}

func TestDefaultClassifier(t *testing.T) {
	kind, err := DefaultClassifier(ExitReport{ExitCode: 1, Stderr: []string{"Temporary failure in name resolution"}})
	assert.Equal(t, KindRetryable, kind)
	assert.Error(t, err)

	kind, err = DefaultClassifier(ExitReport{ExitCode: 1, Stderr: []string{"Unknown encoder 'libfoo'", ""}})
	assert.Equal(t, KindFatal, kind)
	assert.Contains(t, err.Error(), "Unknown encoder")

	fatal := WithFatalMarkers(nil, "Private video")
	kind, _ = fatal(ExitReport{ExitCode: 1, Stderr: []string{"ERROR: Private video. timed out"}})
	assert.Equal(t, KindFatal, kind)
}
