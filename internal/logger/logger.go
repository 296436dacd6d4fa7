// internal/logger/logger.go
//
// Package logger builds the process-wide zap logger. Components derive their
// own scope with Named().
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects log sinks and verbosity.
type Options struct {
	Level   string // debug, info, warn, error
	File    string // empty disables the file sink
	Console bool
}

// New constructs a zap logger with an optional rotated file sink and an
// optional console sink. At least one sink must be enabled.
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}

	var cores []zapcore.Core

	if opts.File != "" {
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(fileEncoder, fileSink, level))
	}

	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder := zapcore.NewConsoleEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("no log sinks enabled")
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
