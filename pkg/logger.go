package pkg

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

// InitLogger initializes the global Logger for the given service. Release mode logs JSON to stdout,
// every other gin mode uses the colored development encoder.
func InitLogger(service string) *zap.Logger {
	var config zap.Config

	if gin.Mode() == gin.ReleaseMode {
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logger, err := config.Build(zap.AddStacktrace(zap.DPanicLevel))
	if err != nil {
		panic(err)
	}

	Logger = logger.With(zap.String("service", service))
	return Logger
}

// SyncLogger flushes buffered entries; safe to defer from main.
func SyncLogger() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
