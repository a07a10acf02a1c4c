package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"askuni/internal/infra/tracer"
)

// Tracing opens a server span per request named after the matched route.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.StartSpan(r.Context(), "http "+r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(
			tracer.Attr("http.method", r.Method),
			tracer.Attr("http.path", r.URL.Path),
			tracer.Attr("http.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetAttributes(tracer.Attr("error", true))
		} else {
			tracer.SetOK(span)
		}
	})
}

// Chain applies middlewares so that the first one listed is outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
