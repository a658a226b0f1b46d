package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig controls how the process-wide logger is built.
type LoggerConfig struct {
	// Debug enables debug level output and caller annotations
	Debug bool
}

// NewLogger builds a JSON zap logger. Debug mode lowers the level to debug
// and adds stack traces on warnings.
func NewLogger(cfg *LoggerConfig, options ...zap.Option) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &LoggerConfig{}
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.TimeKey = "time"
	zapCfg.DisableStacktrace = true

	if cfg.Debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zapCfg.DisableStacktrace = false
		options = append(options, zap.AddStacktrace(zapcore.WarnLevel))
	}

	return zapCfg.Build(options...)
}
