// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "console"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.DisableStacktrace = true
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(0))
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("service", "pcapflow"))

	return logger, nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("PCAPFLOW_LOG_LEVEL", "info"),
		Format: getenv("PCAPFLOW_LOG_FORMAT", "console"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// File returns a zap field for a capture file path.
func File(path string) zap.Field { return zap.String("file", path) }

// Path returns a zap field for an output or report path.
func Path(path string) zap.Field { return zap.String("path", path) }

// Run returns a zap field for a run identifier.
func Run(id string) zap.Field { return zap.String("run_id", id) }

// Kind returns a zap field for a pipeline kind.
func Kind(kind string) zap.Field { return zap.String("kind", kind) }

// Workers returns a zap field for the worker pool size.
func Workers(n int) zap.Field { return zap.Int("workers", n) }

// Files returns a zap field for a file count.
func Files(n int) zap.Field { return zap.Int("files", n) }

// Rows returns a zap field for a row count.
func Rows(n int) zap.Field { return zap.Int("rows", n) }

// Reason returns a zap field for a skip or failure reason.
func Reason(reason string) zap.Field { return zap.String("reason", reason) }

// Rate returns a zap field for a files-per-second throughput.
func Rate(perSec float64) zap.Field { return zap.Float64("files_per_sec", perSec) }

// Elapsed returns a zap field for an elapsed duration.
func Elapsed(d time.Duration) zap.Field { return zap.Duration("elapsed", d) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }
