// Package logging builds the minerd zap loggers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is attached to every entry as the "service" field.
const Service = "minerd"

// New builds the root logger, console-encoded with colour levels in
// development and JSON in production. Extra options are applied before the
// service field, so a wrapped core still carries it.
func New(development bool, opts ...zap.Option) (*zap.Logger, error) {
	cfg := config(development)
	opts = append(opts, zap.Fields(zap.String("service", Service)))
	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", cfg.Encoding, err)
	}
	return logger, nil
}

func config(development bool) zap.Config {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg
}
