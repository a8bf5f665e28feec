package proxy

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// logWriter is an io.Writer adapter that routes proxy output through structured logging.
// Output is logged a line at a time; an unterminated tail waits for the
// next Write or for Flush.
type logWriter struct {
	logger *slog.Logger
	source string

	mu      sync.Mutex
	pending []byte
}

// newLogWriter creates a new log writer for child process output
func newLogWriter(logger *slog.Logger, source string) *logWriter {
	return &logWriter{
		logger: logger,
		source: source,
	}
}

// Write implements io.Writer interface and logs each complete line through slog
func (lw *logWriter) Write(p []byte) (n int, err error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.pending = append(lw.pending, p...)
	for {
		i := bytes.IndexByte(lw.pending, '\n')
		if i < 0 {
			break
		}
		lw.emit(string(lw.pending[:i]))
		lw.pending = lw.pending[i+1:]
	}
	if len(lw.pending) == 0 {
		lw.pending = nil
	}
	// Always return the full length written to satisfy io.Writer interface
	return len(p), nil
}

// Flush logs whatever is left of an unterminated last line.
func (lw *logWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if len(lw.pending) > 0 {
		lw.emit(string(lw.pending))
		lw.pending = nil
	}
}

func (lw *logWriter) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	lw.logger.Log(context.Background(), lineLevel(line), line, "source", lw.source)
}

// lineLevel guesses a level from slog text output (level=WARN) or from a
// conventional prefix (ERROR:, Warning:). Everything else is debug chatter.
func lineLevel(line string) slog.Level {
	switch {
	case strings.Contains(line, "level=ERROR"), strings.HasPrefix(line, "ERROR"), strings.HasPrefix(line, "Error:"):
		return slog.LevelError
	case strings.Contains(line, "level=WARN"), strings.HasPrefix(line, "WARN"), strings.HasPrefix(line, "Warning:"):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
