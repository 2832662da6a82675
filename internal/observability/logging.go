package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds configuration for the logger.
type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"` // json or console
	OutputPaths []string `mapstructure:"output_paths"`
	Development bool     `mapstructure:"development"`
}

// NewLogger creates a configured zap logger.
func NewLogger(config LoggerConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if config.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	if config.Format == "console" {
		zapCfg.Encoding = "console"
	} else {
		zapCfg.Encoding = "json"
	}
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(config.OutputPaths) > 0 {
		zapCfg.OutputPaths = config.OutputPaths
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// DefaultLogger creates a logger with sensible defaults, falling back to a
// bare production logger if the build fails.
func DefaultLogger() *zap.Logger {
	logger, err := NewLogger(LoggerConfig{Level: "info", Format: "json"})
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// SyncLogger flushes buffered entries before shutdown.
func SyncLogger(logger *zap.Logger) {
	_ = logger.Sync()
}
