package stage

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Extractor turns one diagnostic line into a completion fraction.
type Extractor interface {
	Extract(line string) (float64, bool)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(line string) (float64, bool)

// Extract calls f.
func (f ExtractorFunc) Extract(line string) (float64, bool) {
	return f(line)
}

var (
	percentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)
	stepPattern    = regexp.MustCompile(`(?:^|[\s|])(\d+)\s*/\s*(\d+)(?:[\s\[]|$)`)
)

// PercentExtractor recognizes "45.3%" style markers, as printed by yt-dlp --newline.
func PercentExtractor() Extractor {
	return ExtractorFunc(func(line string) (float64, bool) {
		m := percentPattern.FindStringSubmatch(line)
		if m == nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v > 100 {
			return 0, false
		}
		return v / 100, true
	})
}

// StepExtractor recognizes "23/50" step counters, as printed by tqdm during diffusion.
func StepExtractor() Extractor {
	return ExtractorFunc(func(line string) (float64, bool) {
		m := stepPattern.FindStringSubmatch(line)
		if m == nil {
			return 0, false
		}
		done, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || total <= 0 || done > total {
			return 0, false
		}
		return float64(done) / float64(total), true
	})
}

// MarkerExtractor recognizes lines of the form "<prefix> <fraction>".
func MarkerExtractor(prefix string) Extractor {
	return ExtractorFunc(func(line string) (float64, bool) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, prefix)), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	})
}

// FFmpegExtractor reads key=value lines from ffmpeg -progress against a known duration.
// Without a duration only the final progress=end line is reported.
func FFmpegExtractor(total time.Duration) Extractor {
	return ExtractorFunc(func(line string) (float64, bool) {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			return 0, false
		}
		switch key {
		case "progress":
			if value == "end" {
				return 1, true
			}
			return 0, false
		case "out_time_us", "out_time_ms":
			if total <= 0 {
				return 0, false
			}
			// ffmpeg reports both keys in microseconds.
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				return 0, false
			}
			return float64(us) / float64(total.Microseconds()), true
		default:
			return 0, false
		}
	})
}

// FirstOf tries each extractor in order and returns the first match.
func FirstOf(extractors ...Extractor) Extractor {
	return ExtractorFunc(func(line string) (float64, bool) {
		for _, e := range extractors {
			if e == nil {
				continue
			}
			if v, ok := e.Extract(line); ok {
				return v, true
			}
		}
		return 0, false
	})
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
