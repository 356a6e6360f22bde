package idp

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/idp/instrumentation"
)

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrumented wraps an endpoint with a span and the HTTP request metrics.
func (h *Handler) instrumented(endpoint string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		var span trace.Span
		if h.tracer != nil {
			ctx, s := h.tracer.Start(r.Context(), "idp.http."+endpoint)
			defer s.End()
			span = s
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w}
		fn(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
		if status < http.StatusBadRequest {
			instrumentation.SetSpanSuccess(span)
		}
		h.recordHTTPMetrics(r, endpoint, status, startTime)
	})
}

func (h *Handler) recordHTTPMetrics(r *http.Request, endpoint string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, status, duration)
}
