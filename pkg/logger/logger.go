// Package logger builds the process-wide zap.Logger used by every
// long-lived component in this module.
//
// Grounded on _examples/sushant-115-gojodb/pkg/logger/logger.go.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls encoding and output for New.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "json" or "console". Any value other than "console",
	// including the empty string, selects "json".
	Format string
	// OutputFile, if set, is opened for append and used instead of stderr.
	OutputFile string
}

// New builds a zap.Logger from cfg, tagged with a "service" field.
func New(cfg Config, service string) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)
	encoder := getEncoder(cfg.Format)
	writer, err := getWriteSyncer(cfg.OutputFile)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, zap.AddCaller()).With(zap.String("service", service)), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func getEncoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

func getWriteSyncer(outputFile string) (zapcore.WriteSyncer, error) {
	if outputFile == "" {
		return zapcore.AddSync(os.Stderr), nil
	}
	f, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}
