package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tiendaplus/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
	maxTraceLen   = 64
)

// Error is the JSON error body every endpoint returns:
//
//	{"error":"insufficient_stock","message":"...","status":409,"request_id":"...","trace_id":"...", <details>}
//
// Details are merged into the top level so clients can read fields such as "field" or "sku"
// without nesting.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLen),
		Message: clean(message, maxMessageLen),
		Status:  status,
	}
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// WithRequestID overrides the request id otherwise taken from the chi middleware.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, maxIDLen)
	return e
}

// WithTraceID overrides the trace id otherwise taken from the request context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clean(id, maxTraceLen)
	return e
}

// WithDetails copies details onto the error. Reserved envelope keys are ignored when written.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError renders err with its status code.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err.body(ctx))
}

func (e Error) body(ctx context.Context) map[string]any {
	body := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		body[k] = v
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status

	requestID := e.RequestID
	if requestID == "" && ctx != nil {
		requestID = clean(middleware.GetReqID(ctx), maxIDLen)
	}
	if requestID != "" {
		body["request_id"] = requestID
	} else {
		delete(body, "request_id")
	}

	traceID := e.TraceID
	if traceID == "" && ctx != nil {
		traceID = clean(requestctx.TraceID(ctx), maxTraceLen)
	}
	if traceID != "" {
		body["trace_id"] = traceID
	} else {
		delete(body, "trace_id")
	}
	return body
}

// clean flattens line breaks and truncates to limit bytes without splitting a rune.
func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
