// Package logging builds the zap loggers used by rspoll.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "RSPOLL_LOG_LEVEL"
	EnvLogFormat = "RSPOLL_LOG_FORMAT"
)

type Profile int

const (
	// ProfileRuntime logs JSON at info level.
	ProfileRuntime Profile = iota
	// ProfileVerbose logs console lines at debug level.
	ProfileVerbose
	// ProfileTest logs console lines at debug level without sampling.
	ProfileTest
)

// levelOff is above every level zap emits.
const levelOff = zapcore.FatalLevel + 1

// New builds a logger for profile, applying environment overrides.
func New(profile Profile) (*zap.Logger, error) {
	cfg := defaultConfig(profile)
	applyEnvOverrides(&cfg, os.Getenv)
	return cfg.Build()
}

func defaultConfig(profile Profile) zap.Config {
	switch profile {
	case ProfileVerbose, ProfileTest:
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		if profile == ProfileTest {
			cfg.DisableStacktrace = true
		}
		return cfg
	default:
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg
	}
}

func applyEnvOverrides(cfg *zap.Config, getenv func(string) string) {
	if lvl, ok := parseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	switch strings.ToLower(strings.TrimSpace(getenv(EnvLogFormat))) {
	case "json":
		cfg.Encoding = "json"
	case "console", "text":
		cfg.Encoding = "console"
	}
}

func parseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, false
	case "trace", "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "off", "none", "disabled":
		return levelOff, true
	default:
		return zapcore.InfoLevel, false
	}
}
