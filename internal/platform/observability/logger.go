package observability

import (
	"orderflow/internal/config"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewBridgedLogger writes JSON entries to console at the configured level.
// When a collector endpoint is configured every entry is also handed to the
// global OpenTelemetry logger provider under the service's own scope, so
// records carry the active trace and span ids.
func NewBridgedLogger(cfg *config.Config, console zapcore.WriteSyncer) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(console), level),
	}
	if cfg.Otel.Endpoint != "" {
		cores = append(cores, otelzap.NewCore(cfg.ServiceName,
			otelzap.WithLoggerProvider(global.GetLoggerProvider()),
			otelzap.WithVersion(config.ServiceVersion),
		))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("service.name", cfg.ServiceName),
			zap.String("service.version", config.ServiceVersion),
		),
	)
}
