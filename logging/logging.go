// Package logging builds the zap loggers used across the engine and CLI.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn or error
	Format string `json:"format" yaml:"format"` // console or json
}

func Default() Config {
	return Config{Level: "info", Format: "console"}
}

func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); c.Level != "" && err != nil {
		return fmt.Errorf("logging level %q: %w", c.Level, err)
	}
	switch strings.ToLower(c.Format) {
	case "", "console", "json":
		return nil
	}
	return fmt.Errorf("logging format %q: must be console or json", c.Format)
}

// New returns a json production logger or a colored console logger.
func New(c Config) (*zap.Logger, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	level := zapcore.InfoLevel
	if c.Level != "" {
		level, _ = zapcore.ParseLevel(c.Level)
	}

	var cfg zap.Config
	if strings.EqualFold(c.Format, "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Must is New that falls back to a no-op logger.
func Must(c Config) *zap.Logger {
	l, err := New(c)
	if err != nil {
		return zap.NewNop()
	}
	return l
}
