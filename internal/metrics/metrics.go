package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appmarket"

var (
	// Registry хранит коллекторы приложения
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	validationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "outcomes_total",
			Help:      "Validation results by asset kind and reason category.",
		},
		[]string{"kind", "result", "reason"},
	)

	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of malware scans including polling.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~8.5m
		},
		[]string{"verdict"},
	)

	objectMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "moves_total",
			Help:      "Object moves between storage zones.",
		},
		[]string{"from", "to", "result"},
	)

	busMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_total",
			Help:      "Consumed bus messages by topic and handling result.",
		},
		[]string{"topic", "result"},
	)

	busHandleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "handle_duration_seconds",
			Help:      "Duration of bus message handlers.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"topic"},
	)

	inconsistencies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "inconsistencies_total",
			Help:      "Committed state changes whose paired object move failed.",
		},
		[]string{"operation"},
	)

	reconcileRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "repairs_total",
			Help:      "Published versions checked by the reconciler by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		validationOutcomes,
		scanDuration,
		objectMoves,
		busMessages,
		busHandleDuration,
		inconsistencies,
		reconcileRepairs,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler отдает метрики из Registry
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler собирает метрики HTTP; маршрут берется из шаблона chi,
// чтобы идентификаторы не раздували кардинальность
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordValidation учитывает исход проверки пакета или скриншота
func RecordValidation(kind string, succeeded bool, reason string) {
	result := "rejected"
	if succeeded {
		result = "succeeded"
		reason = ""
	}
	validationOutcomes.WithLabelValues(kind, result, reason).Inc()
}

func RecordScan(verdict string, duration time.Duration) {
	scanDuration.WithLabelValues(verdict).Observe(duration.Seconds())
}

func RecordMove(from, to string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	objectMoves.WithLabelValues(from, to, result).Inc()
}

// RecordMessage учитывает обработку сообщения шины: acked, failed или dead
func RecordMessage(topic, result string, duration time.Duration) {
	busMessages.WithLabelValues(topic, result).Inc()
	if duration > 0 {
		busHandleDuration.WithLabelValues(topic).Observe(duration.Seconds())
	}
}

func RecordInconsistency(operation string) {
	inconsistencies.WithLabelValues(operation).Inc()
}

func RecordReconcile(result string) {
	reconcileRepairs.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
