package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name     string
		in       Config
		endpoint string
		ratio    float64
	}{
		{"empty", Config{}, defaultEndpoint, 1},
		{"url endpoint", Config{OTLPEndpoint: "https://collector:4317/", SampleRatio: 0.25}, "collector:4317", 0.25},
		{"trailing slash", Config{OTLPEndpoint: "collector:4317/"}, "collector:4317", 1},
		{"ratio above one", Config{SampleRatio: 3}, defaultEndpoint, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.withDefaults()
			if got.OTLPEndpoint != tt.endpoint || got.SampleRatio != tt.ratio || got.ServiceName != "filesolvers" {
				t.Fatalf("withDefaults() = %+v", got)
			}
		})
	}
}

func TestLedgerResource(t *testing.T) {
	res, err := ledgerResource(Config{ServiceName: "filesolvers", Environment: "prod", StoreBackend: "redis"})
	if err != nil {
		t.Fatalf("ledgerResource: %v", err)
	}
	want := map[attribute.Key]string{
		"service.name":           "filesolvers",
		"deployment.environment": "prod",
		"filesolvers.store":      "redis",
	}
	set := res.Set()
	for k, v := range want {
		got, ok := set.Value(k)
		if !ok || got.AsString() != v {
			t.Errorf("%s = %q (present=%v), want %q", k, got.AsString(), ok, v)
		}
	}
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{}, slog.Default())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	if _, err := Setup(context.Background(), Config{}, nil); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "choose_winner")
	defer span.End()

	parent, _ := TraceContextStrings(ctx)
	if parent == "" {
		t.Fatal("expected a traceparent for an active span")
	}
	restored := ContextWithRemoteParent(context.Background(), parent, "")
	sc := trace.SpanContextFromContext(restored)
	if !sc.IsRemote() || sc.TraceID() != span.SpanContext().TraceID() {
		t.Fatalf("restored span context %+v does not match %+v", sc, span.SpanContext())
	}

	if got := ContextWithRemoteParent(ctx, " ", ""); got != ctx {
		t.Fatal("blank trace context should return ctx unchanged")
	}
}

func TestInjectHeadersDropsBaggage(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "deliver")
	defer span.End()

	member, err := baggage.NewMember("account", "alice")
	if err != nil {
		t.Fatalf("baggage member: %v", err)
	}
	bag, err := baggage.New(member)
	if err != nil {
		t.Fatalf("baggage: %v", err)
	}
	ctx = baggage.ContextWithBaggage(ctx, bag)

	h := http.Header{}
	InjectHeaders(ctx, h)
	if h.Get("traceparent") == "" {
		t.Fatal("expected traceparent header")
	}
	if h.Get("baggage") != "" {
		t.Fatalf("baggage leaked: %q", h.Get("baggage"))
	}
	InjectHeaders(ctx, nil)
}
