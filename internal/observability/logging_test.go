package observability

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/model"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func vendorContext() context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{
		TenantID:      "acme",
		SubjectID:     "vendor-7",
		CorrelationID: "corr-42",
		TraceID:       "from-header",
	})
}

// --- NewLogger ---

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"chatty", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		for _, format := range []string{"json", "console"} {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level, LogFormat: format})
			if err != nil {
				t.Fatalf("NewLogger(%q, %s) error = %v", tt.level, format, err)
			}
			if got := logger.Level(); got != tt.want {
				t.Errorf("NewLogger(%q, %s) level = %v, want %v", tt.level, format, got, tt.want)
			}
		}
	}
}

// --- Request loggers ---

func TestRequestLogger_fields(t *testing.T) {
	base, logs := observed()
	RequestLogger(vendorContext(), base).Info("request")

	want := map[string]any{
		"tenant_id":      "acme",
		"subject_id":     "vendor-7",
		"correlation_id": "corr-42",
		"trace_id":       "from-header",
	}
	if diff := cmp.Diff(want, logs.All()[0].ContextMap()); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestLogger_prefersActiveSpan(t *testing.T) {
	recordSpans(t)
	ctx, span := StartSpan(vendorContext(), "list.fetch")
	defer span.End()

	base, logs := observed()
	RequestLogger(ctx, base).Warn("fetch failed")

	if got, want := logs.All()[0].ContextMap()["trace_id"], span.SpanContext().TraceID().String(); got != want {
		t.Errorf("trace_id = %v, want %v", got, want)
	}
}

func TestRequestLogger_bareContext(t *testing.T) {
	base, logs := observed()
	RequestLogger(context.Background(), base).Info("startup")
	RequestLogger(context.Background(), nil).Info("dropped")

	if n := len(logs.All()[0].Context); n != 0 {
		t.Errorf("bare context added %d fields", n)
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d entries, want 1", logs.Len())
	}
}

func TestListLogger(t *testing.T) {
	base, logs := observed()
	ListLogger(vendorContext(), base, "disputes.queue").Debug("action applied")

	entry := logs.All()[0]
	if entry.ContextMap()["list_id"] != "disputes.queue" || entry.ContextMap()["tenant_id"] != "acme" {
		t.Errorf("fields = %v", entry.ContextMap())
	}
}

// --- Redaction ---

func TestRedactBody(t *testing.T) {
	body := map[string]any{
		"status":   "approved",
		"Password": "hunter2",
		"payout": map[string]any{
			"iban":   "DE89370400440532013000",
			"amount": 120,
		},
		"contacts": []any{
			map[string]any{"name": "Chen Wei", "token": "abc"},
			"plain",
		},
		"declined_reason": "stock",
	}

	got := RedactBody(body, "Declined_Reason")
	want := map[string]any{
		"status":   "approved",
		"Password": redacted,
		"payout": map[string]any{
			"iban":   redacted,
			"amount": 120,
		},
		"contacts": []any{
			map[string]any{"name": "Chen Wei", "token": redacted},
			"plain",
		},
		"declined_reason": redacted,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RedactBody mismatch (-want +got):\n%s", diff)
	}
	if body["Password"] != "hunter2" || body["payout"].(map[string]any)["iban"] == redacted {
		t.Error("RedactBody modified its input")
	}
	if RedactBody(nil) != nil {
		t.Error("RedactBody(nil) should be nil")
	}
}
