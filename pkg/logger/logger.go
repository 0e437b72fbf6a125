// Package logger provides structured, levelled logging backed by zap.
//
// The package-level default logger is used by components that are not
// handed an explicit [Logger]; replace it early in main with [SetDefault].
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface consumed by the rest of the module.
// Key-value pairs are passed variadically: Info("opened", "path", path).
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)

	// With returns a child logger with the given key-value pairs attached
	// to every message.
	With(kv ...any) Logger

	// Sync flushes any buffered log entries.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

var _ Logger = (*zapLogger)(nil)

func (l *zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *zapLogger) Fatal(msg string, kv ...any) { l.s.Fatalw(msg, kv...) }

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error { return l.s.Sync() }

// New wraps an existing zap logger.
func New(z *zap.Logger) Logger {
	return &zapLogger{s: z.Sugar()}
}

// MustProduction builds a production JSON logger and panics if zap fails
// to construct it.
func MustProduction() Logger {
	z, err := zap.NewProduction(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		panic(err)
	}
	return New(z)
}

// MustDevelopment builds a human-readable development logger.
func MustDevelopment() Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return New(z)
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() Logger {
	return New(zap.NewNop())
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = New(zap.NewNop())
)

// Default returns the process-wide default logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// SyncDefault flushes the default logger. Intended for deferred use in main.
func SyncDefault() {
	_ = Default().Sync()
}

// Fatal logs on the default logger and exits.
func Fatal(msg string, kv ...any) {
	Default().Fatal(msg, kv...)
}
