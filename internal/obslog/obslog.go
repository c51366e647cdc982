// Package obslog builds the structured loggers shared across the
// runtime's packages, per SPEC_FULL.md §3's ambient logging stack.
package obslog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for the given component name ("vfs",
// "procsup", "orchestrator", ...), mirroring the per-target level
// filtering original_source/common/src/lib.rs's init_logging sets up for
// "common"/"worker"/"frontend". WASMIDE_LOG_JSON=1 switches to a
// production JSON encoder; otherwise a human-readable console encoder is
// used, matching the two logger constructors zap itself documents as the
// default pair.
func New(component string) *zap.Logger {
	var cfg zap.Config
	if os.Getenv("WASMIDE_LOG_JSON") == "1" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if lvl := os.Getenv("WASMIDE_LOG_LEVEL"); lvl != "" {
		if parsed, err := zapcore.ParseLevel(lvl); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		// Logger construction only fails on a malformed config; fall
		// back to a no-op logger rather than panicking the runtime.
		return zap.NewNop()
	}
	return logger.Named(component)
}
