// Package logging builds the process logger. Logs go to stderr; stdout is
// reserved for command output and the tool transport.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoding. Format is "json" or "text".
type Config struct {
	Level  string
	Format string
}

// New builds a zap logger.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	switch cfg.Format {
	case "json":
		zcfg = zap.NewProductionConfig()
	case "", "text":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Development = false
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	lvl := zap.InfoLevel
	if cfg.Level != "" {
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	return zcfg.Build(zap.AddStacktrace(zap.ErrorLevel))
}
