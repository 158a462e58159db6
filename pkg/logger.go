package pkg

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

// InitLogger builds the global Logger for the current environment. APP_ENV=dev|qa selects
// coloured console output; anything else selects JSON on stdout. APP_LOG_LEVEL overrides the
// level, and every line carries the service name.
func InitLogger(service string) {
	env := os.Getenv("APP_ENV")
	var config zap.Config

	if env == "dev" || env == "qa" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else { // pre. prod, or default
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if raw := os.Getenv("APP_LOG_LEVEL"); raw != "" {
		if level, err := zapcore.ParseLevel(raw); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := config.Build(
		zap.AddStacktrace(zap.DPanicLevel),
		zap.Fields(zap.String("service", service)),
	)
	if err != nil {
		panic(err)
	}
	Logger = logger
}
