package api

import (
	"time"

	"github.com/okian/torturbo/internal/dashboard"
	"github.com/okian/torturbo/pkg/logger"
)

const defaultPingInterval = 30 * time.Second

type config struct {
	page   dashboard.PageOptions
	ping   time.Duration
	logger logger.Logger
}

// Option configures a Server.
type Option func(*config)

// WithPageOptions sets the title and asset paths of the dashboard page.
func WithPageOptions(o dashboard.PageOptions) Option {
	return func(c *config) { c.page = o }
}

// WithPingInterval sets how often live connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ping = d
		}
	}
}

// WithLogger sets the logger used by long lived handlers.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.logger = l }
}

func newConfig(opts []Option) config {
	c := config{ping: defaultPingInterval}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("api")
	}
	return c
}
