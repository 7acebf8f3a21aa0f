// Package logger provides leveled logging for worksync, backed by logrus with
// optional size-rotated file output.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a log level.
type Level int

const (
	// LevelDebug is the most verbose log level.
	LevelDebug Level = iota
	// LevelInfo is the default log level for general information.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages only.
	LevelError
)

// String returns the string representation of a log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func fromLogrus(l logrus.Level) Level {
	switch l {
	case logrus.TraceLevel, logrus.DebugLevel:
		return LevelDebug
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// RotateOptions controls rotation of the log file set by SetLogFileWithRotation.
type RotateOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotateOptions returns the rotation settings used by SetLogFile.
func DefaultRotateOptions() RotateOptions {
	return RotateOptions{
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Compress:   false,
	}
}

// Logger couples a logrus logger with its primary output and rotating file.
type Logger struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	file   *lumberjack.Logger // optional log file
	base   *logrus.Logger
}

var defaultLogger = newLogger(os.Stderr)

func newLogger(w io.Writer) *Logger {
	base := logrus.New()
	base.SetFormatter(lineFormatter{})
	base.SetLevel(LevelInfo.logrus())
	base.SetOutput(w)
	return &Logger{
		level:  LevelInfo,
		output: w,
		base:   base,
	}
}

// lineFormatter renders "2006-01-02T15:04:05.000Z LEVEL message key=value".
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')
	b.WriteString(fromLogrus(e.Level).String())
	b.WriteByte(' ')
	b.WriteString(e.Message)

	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

// rewire points logrus at the primary output plus the log file, if any.
// Callers must hold l.mu.
func (l *Logger) rewire() {
	if l.file != nil {
		l.base.SetOutput(io.MultiWriter(l.output, l.file))
		return
	}
	l.base.SetOutput(l.output)
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(level Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = level
	defaultLogger.base.SetLevel(level.logrus())
}

// SetOutput sets the output writer for the default logger.
// This is primarily useful for testing.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
	defaultLogger.rewire()
}

// SetLogFile writes log messages to path in addition to the current output,
// rotating it with DefaultRotateOptions.
func SetLogFile(path string) error {
	return SetLogFileWithRotation(path, DefaultRotateOptions())
}

// SetLogFileWithRotation is SetLogFile with explicit rotation settings.
// The parent directory must already exist.
func SetLogFileWithRotation(path string, opts RotateOptions) error {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	if defaultLogger.file != nil {
		defaultLogger.file.Close()
		defaultLogger.file = nil
		defaultLogger.rewire()
	}

	// lumberjack creates missing directories on first write; probe the path
	// so a bad location is reported now rather than swallowed later.
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	f.Close()

	defaultLogger.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	defaultLogger.rewire()
	return nil
}

// Close closes the log file if one is open.
func Close() {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	if defaultLogger.file != nil {
		defaultLogger.file.Close()
		defaultLogger.file = nil
		defaultLogger.rewire()
	}
}

// Debug logs at debug level.
func Debug(format string, args ...interface{}) {
	defaultLogger.base.Debugf(format, args...)
}

// Info logs at info level.
func Info(format string, args ...interface{}) {
	defaultLogger.base.Infof(format, args...)
}

// Warn logs at warn level.
func Warn(format string, args ...interface{}) {
	defaultLogger.base.Warnf(format, args...)
}

// Error logs at error level.
func Error(format string, args ...interface{}) {
	defaultLogger.base.Errorf(format, args...)
}

// WithFields returns an entry that appends the given fields to every message.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return defaultLogger.base.WithFields(logrus.Fields(fields))
}

// ParseLevel converts a string to a Level.
// Accepts: debug, info, warn, error (case-insensitive).
// Returns an error for unknown level strings.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q: valid levels are debug, info, warn, error", s)
	}
}

// GetLevel returns the current log level of the default logger.
func GetLevel() Level {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	return defaultLogger.level
}
