package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/model"
)

const redacted = "[REDACTED]"

// NewLogger builds the process logger on stdout. LogFormat "console" selects
// the human readable encoder; anything else logs JSON. An unparseable
// LogLevel falls back to info.
//
// Levels:
//   - error: source or store outages, panics, 5xx responses
//   - warn:  rejected mutations, lost view state, open breakers
//   - info:  requests, action outcomes, definition reloads
//   - debug: view state lookups, pipeline detail, redacted patches
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.OutputPaths = []string{"stdout"}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	if cfg.LogFormat == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zc.Build()
}

// RequestLogger returns base annotated with the caller's tenant, subject and
// correlation ids, and the active trace id when there is one.
func RequestLogger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	var fields []zap.Field
	traceID := TraceIDFromContext(ctx)
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		fields = append(fields,
			zap.String("tenant_id", rctx.TenantID),
			zap.String("subject_id", rctx.SubjectID),
			zap.String("correlation_id", rctx.CorrelationID),
		)
		if traceID == "" {
			traceID = rctx.TraceID
		}
	}
	if traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ListLogger is RequestLogger with the list id attached.
func ListLogger(ctx context.Context, base *zap.Logger, listID string) *zap.Logger {
	return RequestLogger(ctx, base).With(zap.String("list_id", listID))
}

// sensitiveKeys are redacted from every logged patch. Matching ignores case.
var sensitiveKeys = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"api_key", "authorization", "card_number", "cvv", "iban",
	"account_number", "pin",
}

// RedactBody returns a copy of body safe to log: values under sensitive keys
// (the built-in set plus extra) are replaced, including inside nested objects
// and arrays of objects. body is not modified.
func RedactBody(body map[string]any, extra ...string) map[string]any {
	if body == nil {
		return nil
	}
	keys := make(map[string]struct{}, len(sensitiveKeys)+len(extra))
	for _, k := range sensitiveKeys {
		keys[k] = struct{}{}
	}
	for _, k := range extra {
		keys[strings.ToLower(k)] = struct{}{}
	}
	return redactMap(body, keys)
}

func redactMap(m map[string]any, keys map[string]struct{}) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, hit := keys[strings.ToLower(k)]; hit {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v, keys)
	}
	return out
}

func redactValue(v any, keys map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, keys)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e, keys)
		}
		return out
	default:
		return v
	}
}
