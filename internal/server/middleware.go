package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TenantHeader selects the tenant a request acts for.
	TenantHeader = "X-Tenant"
	// CallerHeader identifies the end user within the tenant.
	CallerHeader = "X-Caller"
)

type contextKey string

const (
	tenantKey contextKey = "tenant_id"
	callerKey contextKey = "caller_id"
)

var tracer = otel.Tracer("github.com/ziadkadry99/erp-copilot/internal/server")

// Tenant resolves the tenant from the X-Tenant header, then the tenant
// query parameter. There is no default tenant: a request without one is
// rejected.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant == "" {
			tenant = strings.TrimSpace(r.URL.Query().Get("tenant"))
		}
		if tenant == "" {
			writeError(w, http.StatusBadRequest, "tenant is required (X-Tenant header or tenant query parameter)")
			return
		}

		caller := strings.TrimSpace(r.Header.Get(CallerHeader))
		if caller == "" {
			caller = strings.TrimSpace(r.URL.Query().Get("caller"))
		}
		if caller == "" {
			caller = "anonymous"
		}

		ctx := context.WithValue(r.Context(), tenantKey, tenant)
		ctx = context.WithValue(ctx, callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantID returns the tenant resolved by Tenant.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

// CallerID returns the caller resolved by Tenant.
func CallerID(ctx context.Context) string {
	v, _ := ctx.Value(callerKey).(string)
	return v
}

// Logger logs one line per request.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := log.Info()
		if status >= 400 {
			event = log.Warn()
		}
		if status >= 500 {
			event = log.Error()
		}

		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// Tracing starts a server span per request, continuing any propagated trace.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", ww.Status()))
	})
}
