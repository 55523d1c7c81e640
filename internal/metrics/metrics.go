package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const requestIDCtxKey ctxKey = "metrics_request_id"

// Outcome labels shared by the counters below.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// LLM call phases.
const (
	PhaseFirst    = "first"
	PhaseFollowup = "followup"
	PhaseTitle    = "title"
	PhaseExtract  = "extract"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calassist_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calassist_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calassist_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calassist_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calassist_llm_requests_total",
		Help: "Chat-completion requests by conversation phase and outcome.",
	}, []string{"phase", "outcome"})

	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calassist_llm_request_duration_seconds",
		Help:    "Latency of chat-completion requests.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"phase"})

	toolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calassist_tool_invocations_total",
		Help: "Tool calls executed by the chat loop.",
	}, []string{"tool", "outcome"})

	googleSyncEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calassist_google_sync_events_total",
		Help: "Events seen while importing from Google Calendar.",
	}, []string{"outcome"})
)

// Middleware records request metrics and enriches the context with labels for downstream instrumentation.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			ctx := r.Context()
			if reqID != "" {
				ctx = context.WithValue(ctx, requestIDCtxKey, reqID)
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)

			// chi fills in the pattern while routing, so read it afterwards.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			method := r.Method
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(method, route).Inc()
			httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDBLatency records database latency for a given operation, associating it with request labels when available.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	dbLatency.WithLabelValues(operation, routeFromContext(ctx)).Observe(time.Since(start).Seconds())
}

// ObserveLLMRequest records one chat-completion round trip.
func ObserveLLMRequest(phase string, start time.Time, err error) {
	llmRequestsTotal.WithLabelValues(phase, outcome(err)).Inc()
	llmRequestDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// IncToolInvocation counts a tool execution.
func IncToolInvocation(tool string, err error) {
	toolInvocationsTotal.WithLabelValues(tool, outcome(err)).Inc()
}

// AddGoogleSyncEvents counts imported, skipped or failed Google events.
func AddGoogleSyncEvents(outcome string, n int) {
	if n > 0 {
		googleSyncEventsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// RequestIDFromContext extracts the request ID stored by the metrics middleware.
func RequestIDFromContext(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDCtxKey).(string); ok {
		return reqID
	}
	return middleware.GetReqID(ctx)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

func routeFromContext(ctx context.Context) string {
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
