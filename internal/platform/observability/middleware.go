package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tiendaplus/api/internal/platform/httpx"
	"github.com/tiendaplus/api/internal/platform/requestctx"
)

// InjectLoggerMiddleware stores the provided logger on the request context to make it accessible downstream.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.WithLogger(r.Context(), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLoggerMiddleware writes one access log line per request once the handler returns and
// stores the client fields the audit log reads. Store scoped routes add store_id so staff activity
// can be filtered per tenant.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := middleware.GetReqID(ctx)
			client := requestctx.Client{
				RequestID: requestID,
				IP:        realIP(r),
				UserAgent: sanitizeString(r.UserAgent(), 256),
			}
			logger := requestLogger(ctx, r, client)
			r = r.WithContext(requestctx.WithClient(requestctx.WithLogger(ctx, logger), client))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			completed := false
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if !completed && status < http.StatusInternalServerError {
					// The handler panicked; RecoveryMiddleware writes the 500.
					status = http.StatusInternalServerError
				}
				logCompletion(r, logger, status, time.Since(start), int64(ww.BytesWritten()))
			}()

			next.ServeHTTP(ww, r)
			completed = true
		})
	}
}

func requestLogger(ctx context.Context, r *http.Request, client requestctx.Client) *zap.Logger {
	info, _ := requestctx.Trace(ctx)
	fields := []zap.Field{
		zap.String("request_id", client.RequestID),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("trace_id", info.TraceID),
	}
	if resource := loggingTraceResource(info); resource != "" {
		fields = append(fields, zap.String("logging.googleapis.com/trace", resource))
	}
	if client.IP != "" {
		fields = append(fields, zap.String("remote_ip", client.IP))
	}
	return WithRequestFields(requestctx.Logger(ctx), fields...)
}

func logCompletion(r *http.Request, logger *zap.Logger, status int, latency time.Duration, bytes int64) {
	route := SanitizeRoute(routePattern(r))
	if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
		span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}

	fields := []zap.Field{
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.Int64("bytes", bytes),
	}
	if storeID := routeParam(r, "storeID"); storeID != "" {
		fields = append(fields, zap.String("store_id", SanitizeStoreID(storeID)))
	}
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request completed", fields...)
	case status >= http.StatusBadRequest:
		logger.Warn("request completed", fields...)
	default:
		logger.Info("request completed", fields...)
	}
}

// RecoveryMiddleware turns a panic into a 500 JSON error and logs the stack. The fallback logger
// is used when the panic happens before a request logger was injected.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = requestctx.NoopLogger()
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered",
					zap.String("request_id", middleware.GetReqID(ctx)),
					zap.String("path", SanitizeRoute(r.URL.Path)),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if r == nil {
		return "/"
	}
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return r.URL.Path
	}
	return "/"
}

func routeParam(r *http.Request, key string) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam(key)
	}
	return ""
}

func realIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

func loggingTraceResource(info requestctx.TraceInfo) string {
	if info.ProjectID == "" || info.TraceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)
}
