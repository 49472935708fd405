// Package logger holds the process-wide zap logger.  Components take a
// *zap.Logger in their options and fall back to Get() when none is given.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry of a logger built by NewLogger.
const ServiceName = "seat-sync"

var log *zap.Logger

func init() {
	log = NewLogger("dev")
}

// IsProduction reports whether env names a production deployment
// ("prod" or "production", case-insensitive).
func IsProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return true
	}
	return false
}

// NewLogger builds a JSON logger for production environments and a
// colored console logger otherwise.  LOG_LEVEL overrides the level;
// unparsable values keep the default.
func NewLogger(env string) *zap.Logger {
	var cfg zap.Config
	if IsProduction(env) {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(lvl)); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(level)
		}
	}

	l, err := cfg.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func Get() *zap.Logger { return log }

// Set replaces the process logger.  A nil logger is ignored.
func Set(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

func Info(msg string, fields ...zap.Field)  { log.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { log.Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { log.Debug(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { log.Fatal(msg, fields...) }

func With(fields ...zap.Field) *zap.Logger { return log.With(fields...) }

// Sync flushes buffered entries, ignoring the EINVAL/ENOTTY returned
// when stderr is a terminal.
func Sync() error {
	if err := log.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") &&
		!strings.Contains(err.Error(), "inappropriate ioctl") {
		return err
	}
	return nil
}
