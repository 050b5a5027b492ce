package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the log level, encoding and static fields of the process logger.
type Options struct {
	Level       string
	Format      string
	Version     string
	Environment string
}

// New builds the process logger and installs it as the zap global.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	level := strings.TrimSpace(opts.Level)
	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	fields := map[string]any{}
	if opts.Version != "" {
		fields["version"] = opts.Version
	}
	if opts.Environment != "" {
		fields["env"] = opts.Environment
	}
	cfg.InitialFields = fields

	log, err := cfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)
	return log, nil
}
