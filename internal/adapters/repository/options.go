package repository

import "time"

const (
	defaultCapacity    = 1000
	defaultBusyTimeout = 5 * time.Second
)

type config struct {
	capacity    int
	busyTimeout time.Duration
}

func newConfig(opts []Option) config {
	c := config{capacity: defaultCapacity, busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Option applies a configuration option to a history store.
type Option func(*config)

// WithCapacity bounds the number of snapshots kept. Older snapshots are
// evicted first.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}
