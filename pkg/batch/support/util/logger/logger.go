// Package logger provides the leveled logging facade used throughout serendip.
// Messages are formatted printf-style and emitted through log/slog: a text
// handler on stderr, optionally fanned out to a JSON log file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

var (
	level  = new(slog.LevelVar)
	mu     sync.RWMutex
	active = newLogger(os.Stderr, nil)
	// exit is replaced in tests.
	exit = os.Exit
)

// levelFatal sits above slog.LevelError so that fatal messages are never filtered.
const levelFatal = slog.Level(12)

func newLogger(console io.Writer, file io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: renameFatal}
	consoleHandler := slog.NewTextHandler(console, opts)
	if file == nil {
		return slog.New(consoleHandler)
	}
	return slog.New(slogmulti.Fanout(consoleHandler, slog.NewJSONHandler(file, opts)))
}

func renameFatal(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= levelFatal {
			a.Value = slog.StringValue("FATAL")
		}
	}
	return a
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// Unknown values fall back to INFO with a warning.
func SetLogLevel(name string) {
	switch strings.ToUpper(name) {
	case "DEBUG", "TRACE":
		level.Set(slog.LevelDebug)
	case "INFO", "":
		level.Set(slog.LevelInfo)
	case "WARN":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	case "FATAL", "SILENT":
		level.Set(levelFatal)
	default:
		level.Set(slog.LevelInfo)
		Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", name)
	}
}

// OpenFile adds a JSON handler writing to path next to the stderr handler.
// The returned function closes the file and restores stderr-only logging.
func OpenFile(path string) (func() error, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", path, err)
	}
	SetWriters(os.Stderr, file)
	return func() error {
		SetWriters(os.Stderr, nil)
		return file.Close()
	}, nil
}

// SetWriters redirects console output and, when file is non-nil, JSON output.
func SetWriters(console io.Writer, file io.Writer) {
	l := newLogger(console, file)
	mu.Lock()
	active = l
	mu.Unlock()
}

// Slog exposes the underlying *slog.Logger for libraries that accept one.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

func logf(lvl slog.Level, format string, v ...interface{}) {
	l := Slog()
	if !l.Enabled(context.Background(), lvl) {
		return
	}
	l.Log(context.Background(), lvl, fmt.Sprintf(format, v...))
}

// Debugf formats and outputs a DEBUG level message.
func Debugf(format string, v ...interface{}) {
	logf(slog.LevelDebug, format, v...)
}

// Infof formats and outputs an INFO level message.
func Infof(format string, v ...interface{}) {
	logf(slog.LevelInfo, format, v...)
}

// Warnf formats and outputs a WARN level message.
func Warnf(format string, v ...interface{}) {
	logf(slog.LevelWarn, format, v...)
}

// Errorf formats and outputs an ERROR level message.
func Errorf(format string, v ...interface{}) {
	logf(slog.LevelError, format, v...)
}

// Fatalf outputs a FATAL message and terminates the program with exit code 1.
func Fatalf(format string, v ...interface{}) {
	logf(levelFatal, format, v...)
	exit(1)
}
