package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RenderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdview_render_duration_seconds",
			Help:    "Time to read and render a markdown file",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"result"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdview_commands_total",
			Help: "Commands invoked by the UI",
		},
		[]string{"command", "result"},
	)

	WatchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdview_watch_active",
			Help: "Whether a file watch is currently active (0 or 1)",
		},
	)

	WatchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdview_watch_events_total",
			Help: "Filesystem events received for the watched file",
		},
		[]string{"op"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdview_notifications_total",
			Help: "Notifications written to connected windows",
		},
		[]string{"event"},
	)

	NotificationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdview_notifications_dropped_total",
			Help: "Notifications dropped because the hub queue was full",
		},
		[]string{"event"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdview_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	WindowsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdview_windows_connected",
			Help: "Number of connected notification websockets",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RenderDuration,
		CommandsTotal,
		WatchActive,
		WatchEvents,
		NotificationsTotal,
		NotificationsDropped,
		HTTPRequestsTotal,
		WindowsConnected,
	)
}

// Result maps an error to the result label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRender records a render attempt started at start.
func ObserveRender(start time.Time, err error) {
	RenderDuration.WithLabelValues(Result(err)).Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that counts HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			return err
		}
	}
}
