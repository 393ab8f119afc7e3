// Package logging builds the zap logger shared by the command line tools
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level maps a solver verbosity onto a log level. Verbosity 0 keeps
// warnings only, 1 and 2 add the solve and iteration summaries, 3 and
// above the bottom solver details.
func Level(verbose int) zapcore.Level {
	switch {
	case verbose <= 0:
		return zapcore.WarnLevel
	case verbose >= 3:
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// New returns a JSON production logger when json is set, otherwise a
// console logger without stack traces. Both write to stderr.
func New(verbose int, json bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if !json {
		config = zap.NewDevelopmentConfig()
		config.DisableStacktrace = true
	}
	config.Level = zap.NewAtomicLevelAt(Level(verbose))
	config.OutputPaths = []string{"stderr"}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
