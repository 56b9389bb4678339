package portal

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/wifi-portal/internal/common"
)

const readinessTimeout = 2 * time.Second

var (
	requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_requests_total",
		Help: "Portal requests by route and response status",
	}, []string{"route", "status"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_request_duration_seconds",
		Help:    "Portal request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Router serves health probes and hands every other request to the portal
// route table.
func (p *Portal) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", p.ready)
	r.Handle("/*", p)
	return r
}

// ServeHTTP adapts net/http to the dispatcher. Handler errors become a bare
// 500; their detail only goes to the log.
func (p *Portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  firstValues(r.URL.Query()),
	}

	handler, matched := p.dispatcher.lookup(req.Method, req.Path)
	route := "default"
	if matched {
		route = string(Key(req.Method, req.Path))
	}

	ctx, span := p.tracer.Start(r.Context(), "portal.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("portal.route", route),
		attribute.String("http.method", req.Method),
	)

	resp, err := handler(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		logger := common.WithContext(ctx, p.logger)
		logger.Error().Err(err).
			Str("route", route).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("portal handler failed")
		resp = Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       "Internal Server Error",
		}
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body))

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	requestCounter.WithLabelValues(route, http.StatusText(resp.StatusCode)).Inc()
	requestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	logger := common.WithContext(ctx, p.logger)
	logger.Debug().Str("route", route).Int("status", resp.StatusCode).Msg("portal request served")
}

func (p *Portal) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := p.store.Ping(ctx); err != nil {
		logger := common.WithContext(ctx, p.logger)
		logger.Warn().Err(err).Msg("store not ready")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func firstValues(q map[string][]string) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
