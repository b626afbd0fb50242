package pbx

import (
	"strings"
	"sync"
)

// fakeSink is an in-memory sink recording every write as a separate line,
// standing in for a client connection in unit tests.
type fakeSink struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (f *fakeSink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		f.lines = append(f.lines, line)
	}
	return len(p), nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

func (f *fakeSink) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) == 0 {
		return ""
	}
	return f.lines[len(f.lines)-1]
}
