// Package logging builds the zap loggers used across hive.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encodings accepted by Build.
const (
	EncodingJSON    = "json"
	EncodingConsole = "console"
)

// Options configures Build. Out receives entries below error level and ErrOut
// receives error level and above; both default to the process streams.
type Options struct {
	Level    string
	Encoding string
	Out      io.Writer
	ErrOut   io.Writer
}

// Build creates a logger that splits low and high priority entries across
// two sinks. The returned level can be changed at runtime.
func Build(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := opts.Level
	if level == "" {
		level = "info"
	}
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("parse log level %q: %w", level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch opts.Encoding {
	case "", EncodingJSON:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	case EncodingConsole:
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("unknown log encoding: %s", opts.Encoding)
	}

	out, errOut := opts.Out, opts.ErrOut
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atomicLevel.Enabled(lvl) && lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atomicLevel.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(out), lowPriority),
		zapcore.NewCore(encoder, zapcore.AddSync(errOut), highPriority),
	)

	return zap.New(core, zap.AddCaller()), atomicLevel, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
