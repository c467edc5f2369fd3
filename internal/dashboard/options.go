package dashboard

import (
	"time"

	"github.com/okian/torturbo/pkg/logger"
)

// Option applies a configuration option to the Poller.
type Option func(*Poller)

// WithInterval sets the re-poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRequestTimeout bounds each poll request.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver registers a callback invoked with every applied view, in
// sequence order. It runs under the poller's lock, so it must not block or
// call back into the poller.
func WithObserver(fn func(View)) Option {
	return func(p *Poller) {
		if fn != nil {
			p.observers = append(p.observers, fn)
		}
	}
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(fn func() string) Option {
	return func(p *Poller) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithStartSeq makes the first request use sequence n+1. Used to continue the
// numbering of an existing history.
func WithStartSeq(n uint64) Option {
	return func(p *Poller) {
		p.startSeq = n
	}
}
