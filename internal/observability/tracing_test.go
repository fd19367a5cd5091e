package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/vendordesk/internal/config"
)

// recordSpans installs an always-sampling provider backed by an in-memory
// exporter for the duration of the test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exporter
}

func onlySpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	return spans[0]
}

func attrs(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

// --- Setup ---

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{name: "disabled", cfg: config.TracingConfig{}},
		{name: "stdout", cfg: config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}},
		{name: "unknown exporter", cfg: config.TracingConfig{Enabled: true, Exporter: "zipkin"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prevTP := otel.GetTracerProvider()
			t.Cleanup(func() { otel.SetTracerProvider(prevTP) })

			shutdown, err := InitTracing(context.Background(), tt.cfg, "vendordesk", "test")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing() error = %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown() error = %v", err)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 0, want: "TraceIDRatioBased{0.1}"},
		{rate: -3, want: "TraceIDRatioBased{0.1}"},
		{rate: 0.25, want: "TraceIDRatioBased{0.25}"},
		{rate: 1, want: "AlwaysOnSampler"},
		{rate: 7, want: "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := newSampler(config.TracingConfig{SamplingRate: tt.rate}).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, "root:"+tt.want) {
			t.Errorf("rate %v: sampler = %q, want parent-based %s", tt.rate, desc, tt.want)
		}
	}
}

// --- Spans ---

func TestStartSpan_attributesAndParent(t *testing.T) {
	exporter := recordSpans(t)

	ctx, parent := StartSpan(context.Background(), "action.bulk",
		AttrListID.String("bookings.requests"),
		AttrActionID.String("approve"),
		AttrScope.String("bulk"),
	)
	_, child := StartSpan(ctx, "view.open", AttrCacheHit.Bool(true))
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	childStub, parentStub := spans[0], spans[1]
	if childStub.Parent.SpanID() != parentStub.SpanContext.SpanID() {
		t.Error("view.open is not a child of action.bulk")
	}
	if childStub.SpanContext.TraceID() != parentStub.SpanContext.TraceID() {
		t.Error("spans do not share a trace")
	}

	got := attrs(parentStub)
	for k, want := range map[string]string{
		"vendordesk.list_id":      "bookings.requests",
		"vendordesk.action_id":    "approve",
		"vendordesk.action_scope": "bulk",
	} {
		if got[k] != want {
			t.Errorf("%s = %q, want %q", k, got[k], want)
		}
	}
	if attrs(childStub)["vendordesk.cache_hit"] != "true" {
		t.Errorf("cache_hit = %q", attrs(childStub)["vendordesk.cache_hit"])
	}
}

func TestEndSpanWithError(t *testing.T) {
	exporter := recordSpans(t)

	_, failed := StartSpan(context.Background(), "source.fetch")
	EndSpanWithError(failed, errors.New("connection refused"))
	_, ok := StartSpan(context.Background(), "source.fetch")
	EndSpanWithError(ok, nil)

	spans := exporter.GetSpans()
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "connection refused" {
		t.Errorf("failed span status = %+v", spans[0].Status)
	}
	if len(spans[0].Events) == 0 {
		t.Error("failed span has no exception event")
	}
	if spans[1].Status.Code == codes.Error {
		t.Error("successful span marked as error")
	}
}

func TestSpanIdentifiers(t *testing.T) {
	if TraceIDFromContext(context.Background()) != "" || SpanIDFromContext(context.Background()) != "" {
		t.Error("ids without a span should be empty")
	}

	recordSpans(t)
	ctx, span := StartSpan(context.Background(), "ids")
	defer span.End()

	if got, want := TraceIDFromContext(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("TraceIDFromContext() = %q, want %q", got, want)
	}
	if got, want := SpanIDFromContext(ctx), span.SpanContext().SpanID().String(); got != want {
		t.Errorf("SpanIDFromContext() = %q, want %q", got, want)
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	recordSpans(t)
	ctx, span := StartSpan(context.Background(), "invoke")
	defer span.End()

	h := http.Header{}
	InjectTraceHeaders(ctx, h)
	if !strings.Contains(h.Get("Traceparent"), span.SpanContext().TraceID().String()) {
		t.Errorf("traceparent = %q", h.Get("Traceparent"))
	}
}

// --- Middleware ---

func listRouter(status int) http.Handler {
	r := chi.NewRouter()
	r.Get("/ui/lists/{listId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
	return r
}

func TestTracingMiddleware_wrappingRouterSeesRoute(t *testing.T) {
	exporter := recordSpans(t)

	rec := httptest.NewRecorder()
	TracingMiddleware(listRouter(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui/lists/orders.open", nil))

	s := onlySpan(t, exporter)
	if s.Name != "GET /ui/lists/{listId}" {
		t.Errorf("span name = %q", s.Name)
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", s.SpanKind)
	}
	got := attrs(s)
	if got["http.route"] != "/ui/lists/{listId}" || got["url.path"] != "/ui/lists/orders.open" {
		t.Errorf("route attributes = %v", got)
	}
	if got["http.response.status_code"] != "200" {
		t.Errorf("status attribute = %q", got["http.response.status_code"])
	}
	if rec.Header().Get("Traceparent") == "" {
		t.Error("response carries no traceparent")
	}
}

func TestTracingMiddleware_asRouterMiddleware(t *testing.T) {
	exporter := recordSpans(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Post("/ui/lists/{listId}/refresh", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ui/lists/disputes.queue/refresh", nil))

	s := onlySpan(t, exporter)
	if s.Name != "POST /ui/lists/{listId}/refresh" {
		t.Errorf("span name = %q", s.Name)
	}
	if s.Status.Code != codes.Error {
		t.Errorf("status = %v, want error for 502", s.Status.Code)
	}
}

func TestTracingMiddleware_unmatched(t *testing.T) {
	exporter := recordSpans(t)

	TracingMiddleware(listRouter(http.StatusOK)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	s := onlySpan(t, exporter)
	if s.Name != "GET unmatched" {
		t.Errorf("span name = %q, want GET unmatched", s.Name)
	}
	if _, ok := attrs(s)["http.route"]; ok {
		t.Error("unmatched request should not carry http.route")
	}
}

func TestTracingMiddleware_continuesInboundTrace(t *testing.T) {
	exporter := recordSpans(t)

	const traceID, parentID = "0af7651916cd43dd8448eb211c80319c", "b7ad6b7169203331"
	req := httptest.NewRequest(http.MethodGet, "/ui/lists/bookings.requests", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+parentID+"-01")
	TracingMiddleware(listRouter(http.StatusOK)).ServeHTTP(httptest.NewRecorder(), req)

	s := onlySpan(t, exporter)
	if s.SpanContext.TraceID().String() != traceID {
		t.Errorf("trace id = %s, want %s", s.SpanContext.TraceID(), traceID)
	}
	if s.Parent.SpanID().String() != parentID {
		t.Errorf("parent id = %s, want %s", s.Parent.SpanID(), parentID)
	}
}

func TestTracingMiddlewareSkipping(t *testing.T) {
	exporter := recordSpans(t)

	mux := http.NewServeMux()
	mux.Handle("/ui/ready", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	mux.Handle("/ui/lists/{listId}", listRouter(http.StatusOK))
	h := TracingMiddlewareSkipping("/ui/health", "/ui/ready")(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ui/ready", nil))
	if n := len(exporter.GetSpans()); n != 0 {
		t.Fatalf("probe produced %d spans, want none", n)
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ui/lists/orders.open", nil))
	if n := len(exporter.GetSpans()); n != 1 {
		t.Errorf("list request produced %d spans, want 1", n)
	}
}
