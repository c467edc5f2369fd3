// Package worker drains the snapshot queue into the history store.
package worker

import (
	"github.com/okian/torturbo/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnWritten registers a callback run after each processed snapshot with
// the write result.
func WithOnWritten(fn func(Item, error)) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.onWritten = fn
		}
	}
}
