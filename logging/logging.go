// Package logging builds the zap loggers used by the bus tools.
//
// The configured level can be overridden at run time:
//
//	HLAPI_LOG_LEVEL=debug|info|warn|error|off
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvLogLevel = "HLAPI_LOG_LEVEL"

// New returns a JSON logger on stderr at level, unless the environment
// overrides it. Level "off" returns a no-op logger.
func New(level string) (*zap.Logger, error) {
	if env, ok := os.LookupEnv(EnvLogLevel); ok && strings.TrimSpace(env) != "" {
		level = env
	}
	lvl, off, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	if off {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil
	return cfg.Build()
}

func parseLevel(raw string) (zapcore.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zapcore.InfoLevel, false, nil
	case "debug":
		return zapcore.DebugLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	case "off", "none":
		return zapcore.InfoLevel, true, nil
	default:
		return zapcore.InfoLevel, false, fmt.Errorf("logging: unknown level %q", raw)
	}
}
