// Package logging provides the module-wide logger. Every call site in
// this codebase that the teacher wrote as a bare log.Println/Printf
// becomes a call into this package instead, gated by the HAKO_PDU_DEBUG
// environment variable (§6) so production deployments stay quiet by
// default.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"

	"hakoniwa-pdu-go/pdu"
)

var (
	once   sync.Once
	logger *zap.SugaredLogger
)

func get() *zap.SugaredLogger {
	once.Do(func() {
		var base *zap.Logger
		if os.Getenv(pdu.DebugEnvVar) != "" {
			base, _ = zap.NewDevelopment()
		} else {
			cfg := zap.NewProductionConfig()
			cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
			base, _ = cfg.Build()
		}
		if base == nil {
			base = zap.NewNop()
		}
		logger = base.Sugar()
	})
	return logger
}

// Debugf logs at debug level; only visible when HAKO_PDU_DEBUG is set.
func Debugf(format string, args ...any) {
	get().Debugf(format, args...)
}

// Warnf logs at warn level; always visible.
func Warnf(format string, args ...any) {
	get().Warnf(format, args...)
}

// Errorf logs at error level; always visible.
func Errorf(format string, args ...any) {
	get().Errorf(format, args...)
}

// Sync flushes any buffered log entries. Callers should defer this from
// main.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
