package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	messageIDKey struct{}
	pipelineKey  struct{}
)

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// WithMessageID scopes ctx to one queue message.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, messageIDKey{}, messageID)
}

func MessageIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	messageID, ok := ctx.Value(messageIDKey{}).(string)
	if !ok || messageID == "" {
		return "", false
	}

	return messageID, true
}

// WithPipeline tags ctx with the pipeline handling the message.
func WithPipeline(ctx context.Context, pipeline string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, pipelineKey{}, pipeline)
}

func PipelineFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	pipeline, ok := ctx.Value(pipelineKey{}).(string)
	if !ok || pipeline == "" {
		return "", false
	}

	return pipeline, true
}

// WithContextLogger returns logger enriched with the messageId and pipeline carried by ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 2)
	if pipeline, ok := PipelineFromContext(ctx); ok {
		fields = append(fields, zap.String("pipeline", pipeline))
	}
	if messageID, ok := MessageIDFromContext(ctx); ok {
		fields = append(fields, zap.String("messageId", messageID))
	}
	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}
