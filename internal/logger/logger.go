package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLoggerConfig describes how the process logger is built
type ZapLoggerConfig struct {
	IsDevelopment     bool
	Encoding          string // json or console
	Level             string
	DisableCaller     bool
	DisableStacktrace bool
}

// NewZapLogger builds a zap logger. Development mode logs colored console
// lines; production writes JSON to stderr. An unparsable level falls back
// to info.
func NewZapLogger(cfg *ZapLoggerConfig) *zap.Logger {
	var zc zap.Config
	if cfg.IsDevelopment {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableCaller = cfg.DisableCaller
	zc.DisableStacktrace = cfg.DisableStacktrace

	l, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// FromConfig maps the environment driven settings onto a ZapLoggerConfig
func FromConfig(env, level, encoding string) *ZapLoggerConfig {
	cfg := &ZapLoggerConfig{
		Encoding: "json",
		Level:    level,
	}
	if env != "production" {
		cfg.IsDevelopment = true
		cfg.Encoding = "console"
	}
	if encoding != "" {
		cfg.Encoding = encoding
	}
	return cfg
}
