package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "neo_networker"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "status"},
	)

	chatCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_commands_total",
			Help:      "Routed chat commands by platform, command and outcome.",
		},
		[]string{"platform", "command", "outcome"},
	)

	classifierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_duration_seconds",
			Help:      "LLM classification latency by result.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"result"},
	)

	syncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_failures_total",
			Help:      "Swallowed third-party failures by integration.",
		},
		[]string{"integration"},
	)

	panics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_panics_total",
			Help:      "Panics recovered in request and update handlers.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, chatCommands, classifierDuration, syncFailures, panics)
	})
}

// IncHTTP counts a finished HTTP request.
func IncHTTP(route string, status int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// IncCommand counts a routed chat command.
func IncCommand(platform, command, outcome string) {
	chatCommands.WithLabelValues(platform, command, outcome).Inc()
}

// ObserveClassifier records one classification call.
func ObserveClassifier(result string, started time.Time) {
	classifierDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

// IncIntegrationFailure counts a third-party error that was logged and swallowed.
func IncIntegrationFailure(integration string) {
	syncFailures.WithLabelValues(integration).Inc()
}

func IncPanic() {
	panics.Inc()
}
