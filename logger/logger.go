package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the application-wide logger. It is a no-op logger until Init runs.
var Log = zap.NewNop().Sugar()

// Init builds the global logger.
// environment "production" selects JSON output, anything else the console encoder.
// level: "debug", "info", "warn", "error" (defaults to "info")
func Init(environment, level string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	Log = base.Sugar()
	zap.ReplaceGlobals(base)
	return Log, nil
}

// Named returns a child of the global logger for one component.
func Named(name string) *zap.SugaredLogger {
	return Log.Named(name)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Log.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
