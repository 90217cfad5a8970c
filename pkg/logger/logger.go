// Package logger provides leveled printf-style logging for client-side code.
// Output goes through a zap console core so client and server logs share a format.
package logger

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the log level.
type Level int

const (
	LevelQuiet Level = iota
	LevelError
	LevelInfo
	LevelDebug
)

// Logger provides leveled logging.
type Logger struct {
	mu     sync.Mutex
	level  Level
	out    io.Writer
	prefix string
	sugar  *zap.SugaredLogger
}

var defaultLogger = newLogger(LevelInfo, os.Stderr)

func newLogger(level Level, out io.Writer) *Logger {
	l := &Logger{level: level, out: out}
	l.rebuild()
	return l
}

// rebuild recreates the zap core. Must be called with the lock held or before
// the logger is shared.
func (l *Logger) rebuild() {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.CallerKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(l.out),
		zapcore.DebugLevel,
	)
	logger := zap.New(core)
	if l.prefix != "" {
		logger = logger.Named(l.prefix)
	}
	l.sugar = logger.Sugar()
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = level
}

// SetOutput sets the output writer.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.out = w
	defaultLogger.rebuild()
}

// SetPrefix sets the logger name shown before each message.
func SetPrefix(prefix string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.prefix = prefix
	defaultLogger.rebuild()
}

// ParseLevel parses a level string.
func ParseLevel(s string) Level {
	switch s {
	case "quiet", "q":
		return LevelQuiet
	case "error", "e":
		return LevelError
	case "info", "i":
		return LevelInfo
	case "debug", "d", "verbose", "v":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	switch level {
	case LevelError:
		l.sugar.Errorf(format, args...)
	case LevelInfo:
		l.sugar.Infof(format, args...)
	case LevelDebug:
		l.sugar.Debugf(format, args...)
	}
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	defaultLogger.log(LevelError, format, args...)
}

// Info logs an info message.
func Info(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, format, args...)
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, format, args...)
}
