// Package logging builds the structured logger and enriches it from
// request context.
package logging

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// Config configures the logger.
type Config struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is the output encoding: json or console.
	Format string `koanf:"format"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// New builds a zap logger from the configuration.
func New(config Config) (*zap.Logger, error) {
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	var zapConfig zap.Config
	switch config.Format {
	case "json":
		zapConfig = zap.NewProductionConfig()
	case "console":
		zapConfig = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be json or console", config.Format)
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}

// WithContext returns the logger enriched with tenant identity and
// trace correlation from the context. Query text and email content are
// never added here.
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	var fields []zap.Field
	if tn, err := tenant.FromContext(ctx); err == nil {
		fields = append(fields,
			zap.String("org_id", tn.OrgID),
			zap.String("user_id", tn.UserID),
		)
	}

	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		fields = append(fields,
			zap.String("trace_id", span.TraceID().String()),
			zap.String("span_id", span.SpanID().String()),
		)
	}

	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
