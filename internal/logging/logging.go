// Package logging provides the zap-backed loggers used across licensehub.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper of zap.SugaredLogger.
type Logger = *zap.SugaredLogger

var (
	level         = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	defaultLogger Logger
	loggerOnce    sync.Once
)

// SetLogLevel sets the level of every logger created by this package, including
// ones already handed out. Accepts "debug", "info", "warn", "error".
func SetLogLevel(name string) error {
	switch strings.ToLower(name) {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "info", "":
		level.SetLevel(zapcore.InfoLevel)
	case "warn":
		level.SetLevel(zapcore.WarnLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	default:
		return fmt.Errorf("invalid log level: %s", name)
	}
	return nil
}

// New returns a named logger, e.g. New("backup").
func New(name string) Logger {
	return DefaultLogger().Desugar().Named(name).Sugar()
}

// DefaultLogger returns the process-wide root logger.
func DefaultLogger() Logger {
	loggerOnce.Do(func() {
		defaultLogger = newLogger()
	})
	return defaultLogger
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() Logger {
	return zap.NewNop().Sugar()
}

func newLogger() Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel)).Named("licensehub").Sugar()
}
