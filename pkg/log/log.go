// Package log provides the package-level structured logger used
// throughout swimkv. It wraps a single *zap.Logger so that every
// package logs through the same sink and level without having to
// thread a logger value through every constructor.
package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger = newLogger("swimkv")
)

func newLogger(name string) *zap.Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "ts"
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core).Named(name)
}

// SetLevel changes the level of the shared logger. Safe for concurrent use.
func SetLevel(l zapcore.Level) {
	mu.Lock()
	defer mu.Unlock()
	level.SetLevel(l)
}

// Named returns a child logger scoped under the given name, e.g. so that
// the gossip engine's own log lines can be told apart from the runtime
// actor's.
func Named(name string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Named(name)
}

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// NewLoggerWithLevel returns a standalone named logger at a fixed level,
// independent of the shared logger's level. Used to adapt third-party
// loggers (cfssl, memberlist) that expect to own their own verbosity.
func NewLoggerWithLevel(name string, lvl zapcore.Level, opts ...zap.Option) *zap.Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "ts"
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(lvl),
	)
	return zap.New(core, opts...).Named(name)
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().Sugar().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().Sugar().Infof(format, args...) }
func Errorf(format string, args ...interface{}) { L().Sugar().Errorf(format, args...) }

// Fatal logs at error level and terminates the process, matching the
// teacher's log.Fatal usage at initialization failure sites.
func Fatal(args ...interface{}) {
	L().Sugar().Error(args...)
	os.Exit(1)
}

func Fatalf(format string, args ...interface{}) {
	L().Sugar().Errorf(format, args...)
	os.Exit(1)
}

// StdWriter adapts a leveled, "[LEVEL] message" prefixed byte stream
// (the shape the stdlib log package and hashicorp/memberlist both
// write in) into the shared zap logger, the same trick
// pkg/gossip/logger.go uses to bridge memberlist's logger.
type StdWriter struct {
	l *zap.Logger
}

func NewStdWriter(l *zap.Logger) *StdWriter {
	return &StdWriter{l: l}
}

func (w *StdWriter) Write(p []byte) (int, error) {
	msg := string(p)
	parts := strings.SplitN(msg, " ", 2)
	lvl := "[DEBUG]"
	rest := msg
	if len(parts) > 1 && strings.HasPrefix(parts[0], "[") && strings.HasSuffix(parts[0], "]") {
		lvl = parts[0]
		rest = strings.TrimPrefix(parts[1], "memberlist: ")
	}
	switch lvl {
	case "[WARN]":
		w.l.Warn(rest)
	case "[ERR]", "[ERROR]":
		w.l.Error(rest)
	case "[INFO]":
		w.l.Info(rest)
	default:
		w.l.Debug(rest)
	}
	return len(p), nil
}
