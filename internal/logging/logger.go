// Package logging builds the harvester's zap loggers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	// Development switches to the colored console encoder with caller
	// stacktraces on warnings.
	Development bool `mapstructure:"development"`
	// Level is a zap level name. Empty means debug in development and info
	// otherwise.
	Level string `mapstructure:"level"`
}

// ParseLevel resolves cfg.Level, applying the per-mode default.
func (c Config) ParseLevel() (zapcore.Level, error) {
	name := strings.TrimSpace(c.Level)
	if name == "" {
		if c.Development {
			return zapcore.DebugLevel, nil
		}
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return lvl, fmt.Errorf("logging level %q: %w", name, err)
	}
	return lvl, nil
}

// New builds a logger for cfg. Every entry carries fields, typically the
// service name and version.
func New(cfg Config, fields ...zap.Field) (*zap.Logger, error) {
	lvl, err := cfg.ParseLevel()
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		// Sampling would hide per-identifier failures in large batches.
		zcfg.Sampling = nil
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "ts"

	logger, err := zcfg.Build(zap.Fields(fields...))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Batch scopes a logger to one batch and exam.
func Batch(logger *zap.Logger, batchID, examCode string) *zap.Logger {
	return logger.With(zap.String("batch_id", batchID), zap.String("exam_code", examCode))
}
