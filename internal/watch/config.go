package watch

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds configuration for the status watcher.
type Config struct {
	URL      string        // Full status URL
	Interval time.Duration // Re-poll interval
	Timeout  time.Duration // Per request timeout
	Once     bool          // Poll once, print and exit
	Proxy    string        // Optional socks5:// proxy
	LogFile  string        // Log file, stderr when empty
	Verbose  bool          // Enable debug logging
}

// Validate checks the flag values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: -url must be an absolute http(s) URL, got %q", ErrUsage, c.URL)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: -interval must be positive", ErrUsage)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: -timeout must be positive", ErrUsage)
	}
	return nil
}
