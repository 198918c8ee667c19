// Package logging provides structured logging with file output support.
// It uses environment variables for configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// FilePattern matches the log files written when DISVIEW_LOG_TO_FILE=1.
const FilePattern = "disview-*-debug.log"

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
	Path   string
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	// Set log level from environment
	lg.SetLevel(Level())

	// Set prefix from environment
	prefix := os.Getenv("DISVIEW_LOG_PREFIX")
	if prefix == "" {
		prefix = "disview "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// DISVIEW_LOG_LEVEL: debug, info, warn, error (default: info)
// DISVIEW_LOG_PREFIX: prefix for log messages (default: "disview ")
// DISVIEW_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
//
// When quiet is set and no log file was requested, output is discarded. The
// TUI uses this to keep the alternate screen clean.
func NewLogger(quiet bool) *LoggerCloser {
	output := io.Writer(os.Stderr)
	if quiet {
		output = io.Discard
	}

	var path string
	if os.Getenv("DISVIEW_LOG_TO_FILE") == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("disview-%s-debug.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
			path = logFile
		}
		// If file creation fails, fall back to stderr
	}

	lc := NewLoggerWithWriter(output)
	lc.Path = path
	return lc
}

// Level returns the level selected by DISVIEW_LOG_LEVEL.
func Level() log.Level {
	switch os.Getenv("DISVIEW_LOG_LEVEL") {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("DISVIEW_LOG_LEVEL") == "debug"
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// LatestFile returns the newest log file in dir.
func LatestFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		return "", fmt.Errorf("glob log files: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no log files matching %s in %s", FilePattern, dir)
	}
	// timestamps in the names sort chronologically
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
