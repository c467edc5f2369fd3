// Package metrics provides Prometheus metrics for the TorTurbo dashboard service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultNamespace       = "torturbo"
	subsystem              = "dashboard"
	defaultRefreshInterval = 10 * time.Second
)

// latencyBuckets are in milliseconds.
var latencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // shared bucket layout

// Poll outcomes used as the "outcome" label.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeMalformed = "malformed"
	OutcomeStale     = "stale"
	OutcomeDropped   = "dropped"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace       string
	refreshInterval time.Duration
	customLabels    map[string]string
	registry        prometheus.Registerer

	// Polling
	pollRequests      *prometheus.CounterVec
	pollLatency       prometheus.Histogram
	pollInFlight      prometheus.Gauge
	circuitsDisplayed prometheus.Gauge
	circuitRTT        *prometheus.GaugeVec
	viewState         *prometheus.GaugeVec
	lastAppliedUnix   prometheus.Gauge

	// Live feed
	liveSubscribers prometheus.Gauge
	liveMessages    prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// History pipeline
	queueCapacity      prometheus.Gauge
	queueSize          prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	historyWrites      prometheus.Counter
	historyWriteErrors prometheus.Counter
	historyDuplicates  prometheus.Counter
	historyWriteLat    prometheus.Histogram

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init rebuilds the global collectors with opts on a fresh registry. Call it
// once at startup, before anything records or serves metrics.
func Init(opts ...Option) {
	customRegistry = prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(customRegistry))...)
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       defaultNamespace,
		refreshInterval: defaultRefreshInterval,
		customLabels:    make(map[string]string),
		registry:        prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	m.pollRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "poll_requests_total",
		Help: "Status endpoint polls by outcome",
	}, []string{"outcome"})

	m.pollLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name:    "poll_latency_milliseconds",
		Help:    "Round trip of a status endpoint poll in milliseconds",
		Buckets: latencyBuckets,
	})

	m.pollInFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "poll_in_flight",
		Help: "Status polls currently awaiting a response",
	})

	m.circuitsDisplayed = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "circuits_displayed",
		Help: "Number of circuit cards in the current view",
	})

	m.circuitRTT = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "circuit_rtt_milliseconds",
		Help: "Last reported RTT per circuit position",
	}, []string{"ordinal"})

	m.viewState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "view_state",
		Help: "1 for the current view state, 0 otherwise",
	}, []string{"state"})

	m.lastAppliedUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "view_last_applied_unix",
		Help: "Unix time of the last applied poll response",
	})

	m.liveSubscribers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "live_subscribers",
		Help: "Connected live feed clients",
	})

	m.liveMessages = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "live_messages_total",
		Help: "View updates pushed to live feed clients",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "http_requests_total",
		Help: "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_queue_capacity",
		Help: "Capacity of the history queue",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_queue_size",
		Help: "Snapshots waiting to be persisted",
	})

	m.queueEnqueue = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_queue_enqueue_total",
		Help: "Snapshots enqueued for persistence",
	})

	m.queueDequeue = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_queue_dequeue_total",
		Help: "Snapshots taken off the queue by workers",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_queue_enqueue_errors_total",
		Help: "Snapshots rejected by a full or closed queue",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_workers",
		Help: "History writer goroutines",
	})

	m.historyWrites = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_writes_total",
		Help: "Snapshots persisted",
	})

	m.historyWriteErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_write_errors_total",
		Help: "Snapshots that failed to persist",
	})

	m.historyDuplicates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "history_duplicates_total",
		Help: "Applied views not recorded because they display the same as the last recorded one",
	})

	m.historyWriteLat = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name:    "history_write_latency_milliseconds",
		Help:    "History write latency in milliseconds",
		Buckets: latencyBuckets,
	})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "errors_by_component_total",
		Help: "Errors by component and type",
	}, []string{"component", "error_type"})

	m.errorsByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "errors_by_endpoint_total",
		Help: "HTTP errors by endpoint, method and type",
	}, []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "system_memory_usage_bytes",
		Help: "Heap bytes allocated",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, ConstLabels: constLabels,
		Name: "system_goroutine_count",
		Help: "Number of goroutines",
	})
}

// RecordPoll counts one poll outcome and, for completed requests, its latency.
func RecordPoll(outcome string, latency time.Duration) {
	globalManager.pollRequests.WithLabelValues(outcome).Inc()
	if latency > 0 {
		globalManager.pollLatency.Observe(float64(latency.Milliseconds()))
	}
}

// IncPollInFlight marks a poll as started.
func IncPollInFlight() { globalManager.pollInFlight.Inc() }

// DecPollInFlight marks a poll as finished.
func DecPollInFlight() { globalManager.pollInFlight.Dec() }

// UpdateView publishes the gauges describing the applied view.
// rtts maps 1-based ordinals to milliseconds; positions without a numeric RTT are omitted.
func UpdateView(state string, circuits int, rtts map[int]float64, at time.Time) {
	for _, s := range []string{"pending", "ready", "failed"} {
		v := 0.0
		if s == state {
			v = 1
		}
		globalManager.viewState.WithLabelValues(s).Set(v)
	}
	globalManager.circuitsDisplayed.Set(float64(circuits))
	globalManager.circuitRTT.Reset()
	for ordinal, ms := range rtts {
		globalManager.circuitRTT.WithLabelValues(strconv.Itoa(ordinal)).Set(ms)
	}
	if !at.IsZero() {
		globalManager.lastAppliedUnix.Set(float64(at.Unix()))
	}
}

// UpdateLiveSubscribers sets the number of live feed clients.
func UpdateLiveSubscribers(n int) { globalManager.liveSubscribers.Set(float64(n)) }

// RecordLiveMessage counts one pushed view update.
func RecordLiveMessage() { globalManager.liveMessages.Inc() }

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// UpdateQueueCapacity sets the history queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueSize sets the number of queued snapshots.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// RecordQueueEnqueue counts an accepted snapshot.
func RecordQueueEnqueue() { globalManager.queueEnqueue.Inc() }

// RecordQueueDequeue counts a snapshot handed to a worker.
func RecordQueueDequeue() { globalManager.queueDequeue.Inc() }

// RecordQueueEnqueueError counts a rejected snapshot.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the number of history writers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordHistoryWrite counts a persisted snapshot and its latency.
func RecordHistoryWrite(latency time.Duration) {
	globalManager.historyWrites.Inc()
	globalManager.historyWriteLat.Observe(float64(latency.Milliseconds()))
}

// RecordHistoryWriteError counts a failed write.
func RecordHistoryWriteError() { globalManager.historyWriteErrors.Inc() }

// RecordHistoryDuplicate counts an unchanged view left out of history.
func RecordHistoryDuplicate() { globalManager.historyDuplicates.Inc() }

// RecordErrorByComponent counts an error in a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint counts an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom registry served on /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RefreshInterval reports how often gauges should be refreshed by callers.
func (m *Manager) RefreshInterval() time.Duration {
	return m.refreshInterval
}

// RefreshInterval reports the global manager's refresh interval.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}
