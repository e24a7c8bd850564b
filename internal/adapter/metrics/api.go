package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const outcomeKey = "metrics.outcome"

// SetOutcome labels the current request with its voting result, for example
// "already_voted" or "accepted". Requests without one are labelled from their
// status code.
func SetOutcome(c echo.Context, outcome string) {
	c.Set(outcomeKey, outcome)
}

// APIMetrics tracks the viewer-facing voting API.
type APIMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	m := &APIMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of voting API requests, by route and outcome.",
		}, []string{"method", "route", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of voting API requests in seconds, including backend round trips.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "status_class"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "in_flight_requests",
			Help:      "Number of voting API requests currently being processed.",
		}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.InFlight)
	return m
}

// Middleware records every request except probes, build info, the scrape
// endpoint and WebSocket streams, whose duration is the connection lifetime.
func (m *APIMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if skipRoute(route) {
				return next(c)
			}
			if route == "" {
				route = "unmatched"
			}

			m.InFlight.Inc()
			defer m.InFlight.Dec()

			var status int
			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				m.RequestDuration.WithLabelValues(route, statusClass(status)).Observe(v)
			}))

			err := next(c)

			status = c.Response().Status
			var httpErr *echo.HTTPError
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if errors.As(err, &httpErr) {
					status = httpErr.Code
				}
			}
			outcome, _ := c.Get(outcomeKey).(string)
			if outcome == "" {
				outcome = statusOutcome(status)
			}
			m.RequestsTotal.WithLabelValues(c.Request().Method, route, outcome).Inc()
			timer.ObserveDuration()
			return err
		}
	}
}

func skipRoute(route string) bool {
	return route == "/metrics" || route == "/version" ||
		strings.HasPrefix(route, "/health/") || strings.HasPrefix(route, "/ws/")
}

func statusOutcome(status int) string {
	switch {
	case status < http.StatusBadRequest:
		return "ok"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "http_" + strconv.Itoa(status)
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
