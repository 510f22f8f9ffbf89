package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tiendaplus/api/internal/platform/requestctx"
)

func TestEventLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewEventLogger(zap.New(core))

	log(context.Background(), "checkout.confirm.committed", map[string]any{"orderId": "ord_1"})
	log(context.Background(), "checkout.confirm.discrepancy", map[string]any{"error": errors.New("mismatch")})
	log(context.Background(), "checkout.webhook.ignored", nil)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["orderId"] != "ord_1" || entries[0].ContextMap()["event"] != "checkout.confirm.committed" {
		t.Fatalf("unexpected first entry: %#v", entries[0])
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error level for discrepancy, got %s", entries[1].Level)
	}
	if entries[2].Level != zapcore.DebugLevel {
		t.Fatalf("expected debug level for ignored events, got %s", entries[2].Level)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)
	log := NewEventLogger(zap.New(fallbackCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore).With(zap.String("request_id", "req-1")))
	log(ctx, "order.status.updated", nil)

	if fallbackLogs.Len() != 0 || requestLogs.Len() != 1 {
		t.Fatalf("expected request logger to be used, fallback=%d request=%d", fallbackLogs.Len(), requestLogs.Len())
	}
	if requestLogs.All()[0].ContextMap()["request_id"] != "req-1" {
		t.Fatalf("expected request fields on entry")
	}
}

func TestRequestLoggerMiddlewareRecordsStore(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(zap.New(core)))
	r.Use(RequestLoggerMiddleware())
	r.Get("/stores/{storeID}/orders", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stores/sto_1/orders", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].Level != zapcore.WarnLevel || fields["store_id"] != "sto_1" || fields["route"] != "/stores/{storeID}/orders" {
		t.Fatalf("unexpected access log: level=%s fields=%v", entries[0].Level, fields)
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerMiddlewareLogsPanicAsServerError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	handler := InjectLoggerMiddleware(logger)(
		RecoveryMiddleware(logger)(
			RequestLoggerMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic("cart snapshot missing")
			})),
		),
	)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel || entries[0].ContextMap()["status"] != int64(http.StatusInternalServerError) {
		t.Fatalf("expected one error access log with status 500, got %+v", entries)
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if spanCtx.TraceID().String() != "105445aa7843bc8bf206b12000100000" || !spanCtx.IsSampled() || !spanCtx.IsRemote() {
		t.Fatalf("unexpected span context: %#v", spanCtx)
	}
	if spanCtx.SpanID().String() != "0000000000000001" {
		t.Fatalf("expected decimal span id, got %s", spanCtx.SpanID())
	}

	unsampled, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/00000000000000ff")
	if !ok || unsampled.IsSampled() {
		t.Fatalf("expected unsampled hex span id to parse, got %#v ok=%v", unsampled, ok)
	}
	for _, header := range []string{"not-a-trace", "105445aa7843bc8bf206b12000100000/0;o=1", "short/1"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := sanitizeString("ab\x00c\nd", 3); got != "abc" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := SanitizeMethod("get"); got != "GET" {
		t.Fatalf("unexpected method %q", got)
	}
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("unexpected route %q", got)
	}
}
