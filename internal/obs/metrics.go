package obs

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rotasave.org/internal/rosca"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Engine metrics.
var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rosca_events_total",
			Help: "Group lifecycle events emitted by the engine.",
		},
		[]string{"kind"},
	)

	payoutAmountTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rosca_payout_amount_total",
		Help: "Sum of payout amounts in minor units.",
	})

	engineErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rosca_engine_errors_total",
			Help: "Rejected engine operations by error code.",
		},
		[]string{"category", "code"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rotasave_ready",
		Help: "1 when the service passed its last readiness check.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			eventsTotal, payoutAmountTotal, engineErrorsTotal, ready,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of a readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// ObserveError counts a rejected engine operation.
func ObserveError(err error) {
	code := rosca.CodeOf(err)
	if code == "" {
		code = "UNKNOWN"
	}
	engineErrorsTotal.WithLabelValues(rosca.CategoryOf(err).String(), string(code)).Inc()
}

// MetricsSink counts engine events. It never fails.
type MetricsSink struct{}

var _ rosca.EventSink = MetricsSink{}

func (MetricsSink) Emit(_ context.Context, evt rosca.Event) error {
	eventsTotal.WithLabelValues(string(evt.Kind)).Inc()
	if evt.Kind == rosca.EventCycleAdvanced || evt.Kind == rosca.EventGroupCompleted {
		payoutAmountTotal.Add(float64(evt.Amount))
	}
	return nil
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var groupSubresources = map[string]bool{
	"cycle": true, "status": true, "members": true, "contributions": true,
	"advance": true, "cancel": true, "payouts": true,
}

// CanonicalPath collapses identifiers in known routes so metric label
// cardinality stays bounded. Unknown shapes are returned as-is.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	seg := strings.Split(strings.Trim(p, "/"), "/")
	if len(seg) < 3 || seg[0] != "v1" {
		return p
	}
	switch seg[1] {
	case "accounts":
		switch {
		case len(seg) == 3:
			return "/v1/accounts/:id"
		case len(seg) == 4 && seg[3] == "balance":
			return "/v1/accounts/:id/balance"
		}
	case "groups":
		switch {
		case len(seg) == 3:
			return "/v1/groups/:id"
		case len(seg) == 4 && groupSubresources[seg[3]]:
			return "/v1/groups/:id/" + seg[3]
		case len(seg) == 6 && seg[3] == "cycles" && (seg[5] == "payout" || seg[5] == "complete"):
			return "/v1/groups/:id/cycles/:cycle/" + seg[5]
		case len(seg) == 7 && seg[3] == "cycles" && seg[5] == "contributions":
			return "/v1/groups/:id/cycles/:cycle/contributions/:member"
		}
	}
	return p
}

// statusWriter remembers the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
