package server

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

// LogBuffer is an io.Writer that keeps the last maxLines lines written to
// it, backing the opt-in GET /logs endpoint (spec.md §9 Open Question:
// "whether this is intended to be externally exposed in production is
// unclear. Recommend making it opt-in" — see ORACLE_LOGS_ENDPOINT_ENABLED
// in pkg/config). It never touches disk itself; wrap it with
// io.MultiWriter alongside the process's real log output.
type LogBuffer struct {
	mu       sync.Mutex
	lines    [][]byte
	maxLines int
	path     string
}

// NewLogBuffer returns a LogBuffer retaining at most maxLines lines.
// path is purely informational, surfaced in GET /status's log_file field.
func NewLogBuffer(maxLines int, path string) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 1000
	}
	return &LogBuffer{maxLines: maxLines, path: path}
}

// Write implements io.Writer, splitting p into lines and appending them,
// trimming the oldest lines once the buffer exceeds maxLines.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	scanner := bufio.NewScanner(bytes.NewReader(p))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		b.lines = append(b.lines, line)
	}
	if len(b.lines) > b.maxLines {
		b.lines = b.lines[len(b.lines)-b.maxLines:]
	}
	return len(p), nil
}

// Tail returns the last n lines currently buffered, oldest first.
func (b *LogBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.lines) {
		n = len(b.lines)
	}
	start := len(b.lines) - n
	out := make([]string, n)
	for i, line := range b.lines[start:] {
		out[i] = string(line)
	}
	return out
}

// Path returns the informational log file path, if any.
func (b *LogBuffer) Path() string { return b.path }

var _ io.Writer = (*LogBuffer)(nil)
