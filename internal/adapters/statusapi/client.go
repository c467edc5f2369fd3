// Package statusapi is the HTTP client for the external status endpoint.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/okian/torturbo/internal/domain/circuit"
	"github.com/okian/torturbo/pkg/requestid"
)

// Sentinel errors for status fetches.
var (
	ErrFetch            = errors.New("status fetch failed")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrInvalidProxy     = errors.New("invalid status proxy")
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 512
)

// Client is a thin HTTP client for GET <status_url>.
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	proxy   *url.URL
	dialer  *net.Dialer // forward dialer to the proxy, nil without one
}

// Option configures a Client.
type Option func(*Client) error

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc != nil {
			c.http = hc
		}
		return nil
	}
}

// WithSOCKS5 routes requests through a SOCKS5 proxy such as a local Tor
// SOCKS port. proxyURL has the form socks5://[user:pass@]host:port. The proxy
// dialer is built after all options are applied, so it honors WithTimeout
// whatever the order.
func WithSOCKS5(proxyURL string) Option {
	return func(c *Client) error {
		if strings.TrimSpace(proxyURL) == "" {
			return nil
		}
		u, err := url.Parse(proxyURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProxy, err)
		}
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return fmt.Errorf("%w: scheme %q", ErrInvalidProxy, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("%w: no host", ErrInvalidProxy)
		}
		c.proxy = u
		return nil
	}
}

// NewClient creates a client for the full status URL
// (e.g. http://127.0.0.1:18080/api/status).
func NewClient(statusURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(statusURL)
	if err != nil {
		return nil, fmt.Errorf("parse status url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("status url must be http or https: %q", statusURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("status url has no host: %q", statusURL)
	}
	c := &Client{
		url:     u.String(),
		timeout: defaultTimeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.proxy != nil {
		if err := c.useProxy(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// useProxy swaps the transport for one dialing through c.proxy. Other
// settings of the HTTP client are kept.
func (c *Client) useProxy() error {
	var auth *proxy.Auth
	if c.proxy.User != nil {
		pass, _ := c.proxy.User.Password()
		auth = &proxy.Auth{User: c.proxy.User.Username(), Password: pass}
	}
	c.dialer = &net.Dialer{Timeout: c.timeout}
	d, err := proxy.SOCKS5("tcp", c.proxy.Host, auth, c.dialer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("%w: dialer does not support contexts", ErrInvalidProxy)
	}
	hc := *c.http
	hc.Transport = &http.Transport{
		DialContext:         cd.DialContext,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	c.http = &hc
	return nil
}

// URL returns the polled URL.
func (c *Client) URL() string { return c.url }

// Fetch performs one GET and decodes the body with circuit.Decode. A request
// id carried by ctx (see requestid.With) is forwarded upstream.
func (c *Client) Fetch(ctx context.Context) (circuit.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return circuit.Status{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	if id := requestid.From(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return circuit.Status{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return circuit.Status{}, fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, res.Status, msg)
		}
		return circuit.Status{}, fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status)
	}

	st, err := circuit.Decode(res.Body)
	if err != nil {
		if errors.Is(err, circuit.ErrMalformed) {
			return circuit.Status{}, err
		}
		return circuit.Status{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return st, nil
}
