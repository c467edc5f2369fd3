// Package config defines process configuration and how it is loaded.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address of the dashboard.
	Addr string `koanf:"addr"`

	// StatusURL is the full URL of the circuit status endpoint.
	StatusURL string `koanf:"status_url"`

	// StatusProxy optionally routes status requests through a SOCKS5 proxy,
	// e.g. socks5://127.0.0.1:9050.
	StatusProxy string `koanf:"status_proxy"`

	// PollIntervalMS is the re-poll interval.
	PollIntervalMS int `koanf:"poll_interval_ms"`

	// RequestTimeoutMS bounds each status request.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// HistoryPath is the SQLite file for view history. Empty keeps history
	// in memory.
	HistoryPath string `koanf:"history_path"`

	// HistoryCapacity bounds the number of snapshots kept.
	HistoryCapacity int `koanf:"history_capacity"`

	// MaxHistoryLimit caps GET /api/history?limit.
	MaxHistoryLimit int `koanf:"max_history_limit"`

	// QueueSize bounds the snapshot queue between poller and history writers.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of history writers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the fingerprint deduper; 0 means unbounded.
	DedupeSize int `koanf:"dedupe_size"`

	// MetricsNamespace prefixes every exported metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`

	// MetricsInstance, when set, is added to every metric as the "instance"
	// label.
	MetricsInstance string `koanf:"metrics_instance"`

	// SystemMetricsIntervalMS is how often memory and goroutine gauges are
	// refreshed.
	SystemMetricsIntervalMS int `koanf:"system_metrics_interval_ms"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             "127.0.0.1:18000",
		StatusURL:        "http://127.0.0.1:18080/api/status",
		PollIntervalMS:   5000,
		RequestTimeoutMS: 5000,
		HistoryCapacity:  1000,
		MaxHistoryLimit:  500,
		QueueSize:        256,
		WorkerCount:      2,
		DedupeSize:       4096,

		MetricsNamespace:        "torturbo",
		SystemMetricsIntervalMS: 10000,
	}
}

// PollInterval returns PollIntervalMS as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// SystemMetricsInterval returns SystemMetricsIntervalMS as a duration.
func (c *Config) SystemMetricsInterval() time.Duration {
	return time.Duration(c.SystemMetricsIntervalMS) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
