package stage

import (
	"bytes"
	"strings"
	"sync"
)

// lineWriter splits a byte stream on \n and \r and hands each line to emit.
// Progress bars rewrite the same terminal line with \r, so both count as terminators.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.buf = w.buf[i+1:]
		if line != "" {
			w.emit(line)
		}
	}
	// Guard against tools that never terminate a line.
	if len(w.buf) > 64*1024 {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

// tail keeps the last n lines.
type tail struct {
	lines []string
	size  int
	next  int
	full  bool
}

func newTail(size int) *tail {
	if size <= 0 {
		size = 1
	}
	return &tail{lines: make([]string, size), size: size}
}

func (t *tail) Add(line string) {
	t.lines[t.next] = line
	t.next = (t.next + 1) % t.size
	if t.next == 0 {
		t.full = true
	}
}

func (t *tail) Lines() []string {
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, t.size)
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}

func (t *tail) String() string {
	return strings.Join(t.Lines(), "\n")
}
