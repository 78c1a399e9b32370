package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls the operational logger.
type Options struct {
	Level       string
	Service     string
	Environment string
	// OutputPaths defaults to stdout when empty.
	OutputPaths []string
}

// New constructs a zap.Logger configured for structured JSON logging.
func New(opts Options) (*zap.Logger, error) {
	zapLevel := zapcore.InfoLevel
	if opts.Level != "" {
		if err := zapLevel.Set(strings.ToLower(opts.Level)); err != nil {
			return nil, err
		}
	}

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: opts.Environment == "development",
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logr, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if opts.Service != "" {
		logr = logr.With(zap.String("service", opts.Service))
	}
	return logr, nil
}
