package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reminder_http_requests_total",
			Help: "Total admin HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_reminder_http_request_duration_seconds",
			Help:    "Admin HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	messagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reminder_messages_received_total",
			Help: "Messages received from the reminder queues",
		},
		[]string{"queue"},
	)

	messagesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reminder_messages_discarded_total",
			Help: "Messages deleted without dispatch, by reason",
		},
		[]string{"queue", "reason"},
	)

	messagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reminder_messages_deleted_total",
			Help: "Messages deleted from the reminder queues",
		},
		[]string{"queue"},
	)

	queueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reminder_queue_errors_total",
			Help: "Queue provider errors by operation",
		},
		[]string{"queue", "op"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reminder_dispatch_total",
			Help: "Reminder dispatch outcomes by template",
		},
		[]string{"status", "template"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_reminder_dispatch_duration_seconds",
			Help:    "Time spent rendering and sending a reminder",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"template"},
	)

	inFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_reminder_in_flight",
			Help: "Reminders currently being dispatched per queue",
		},
		[]string{"queue"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_reminder_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	smsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reminder_sms_sent_total",
			Help: "SMS send attempts by outcome",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordReceived counts n messages received from queue.
func RecordReceived(queue string, n int) {
	messagesReceived.WithLabelValues(queue).Add(float64(n))
}

// RecordDiscarded counts a message removed without dispatch.
func RecordDiscarded(queue, reason string) {
	messagesDiscarded.WithLabelValues(queue, reason).Inc()
}

// RecordDeleted counts a successful delete.
func RecordDeleted(queue string) {
	messagesDeleted.WithLabelValues(queue).Inc()
}

// RecordReceiveError counts a failed receive.
func RecordReceiveError(queue string) {
	queueErrors.WithLabelValues(queue, "receive").Inc()
}

// RecordExtendError counts a failed visibility extension.
func RecordExtendError(queue string) {
	queueErrors.WithLabelValues(queue, "extend").Inc()
}

// RecordDeleteError counts a failed delete.
func RecordDeleteError(queue string) {
	queueErrors.WithLabelValues(queue, "delete").Inc()
}

// RecordDispatch records a dispatch outcome and its duration.
func RecordDispatch(status, template string, duration time.Duration) {
	dispatchTotal.WithLabelValues(status, template).Inc()
	if template != "" {
		dispatchDuration.WithLabelValues(template).Observe(duration.Seconds())
	}
}

// SetInFlight sets the in-flight dispatch count for a queue.
func SetInFlight(queue string, count int) {
	inFlight.WithLabelValues(queue).Set(float64(count))
}

// SetBreakerState exports a breaker state as a number.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordSMS counts an SMS send outcome.
func RecordSMS(status string) {
	smsSent.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
