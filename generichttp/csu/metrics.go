package csu

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the prometheus collectors of one CSU, on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	State      prometheus.Gauge
	Setups     prometheus.Counter
	Collisions prometheus.Counter
	Fatals     prometheus.Counter
	Duration   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a new registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "csu_state",
			Help: "Last CSUREADY value read.",
		}),
		Setups: f.NewCounter(prometheus.CounterOpts{
			Name: "csu_setups_total",
			Help: "Number of mask setups requested.",
		}),
		Collisions: f.NewCounter(prometheus.CounterOpts{
			Name: "csu_collisions_total",
			Help: "Number of setups aborted for a collision.",
		}),
		Fatals: f.NewCounter(prometheus.CounterOpts{
			Name: "csu_fatal_total",
			Help: "Number of requests which found the CSU in the Error state.",
		}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "csu_http_response_time_seconds",
			Help: "Duration of HTTP requests.",
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware observes the duration of each request, labelled by its chi
// route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.Duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
