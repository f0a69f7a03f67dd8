package utils

import (
	"net"
	"net/http"
	"time"
)

// Backend clients talk to in-cluster services: short dials, bounded pools.
const (
	defaultClientTimeout         = 2 * time.Second
	defaultResponseHeaderTimeout = time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultMaxConnsPerHost       = 64
	defaultDialerTimeout         = 500 * time.Millisecond
)

// ClientConfig tunes NewHTTPClient. Zero values fall back to the defaults above.
type ClientConfig struct {
	ClientTimeout         time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxConnsPerHost       int
	DialerTimeout         time.Duration
	// Transport replaces the pooled transport, e.g. for tests.
	Transport http.RoundTripper
}

type ClientOption func(*ClientConfig)

func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.ClientTimeout = d }
}

func WithResponseHeaderTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.ResponseHeaderTimeout = d }
}

func WithMaxConnsPerHost(n int) ClientOption {
	return func(c *ClientConfig) { c.MaxConnsPerHost = n }
}

func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *ClientConfig) { c.Transport = rt }
}

// NewHTTPClient builds a client that always has a deadline.
func NewHTTPClient(opts ...ClientOption) *http.Client {
	var cfg ClientConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.ClientTimeout = positive(cfg.ClientTimeout, defaultClientTimeout)
	cfg.ResponseHeaderTimeout = positive(cfg.ResponseHeaderTimeout, defaultResponseHeaderTimeout)
	cfg.IdleConnTimeout = positive(cfg.IdleConnTimeout, defaultIdleConnTimeout)
	cfg.MaxConnsPerHost = positive(cfg.MaxConnsPerHost, defaultMaxConnsPerHost)
	cfg.DialerTimeout = positive(cfg.DialerTimeout, defaultDialerTimeout)

	rt := cfg.Transport
	if rt == nil {
		rt = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.DialerTimeout, KeepAlive: 30 * time.Second}).DialContext,
			MaxConnsPerHost:       cfg.MaxConnsPerHost,
			MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			ForceAttemptHTTP2:     true,
		}
	}
	return &http.Client{Transport: rt, Timeout: cfg.ClientTimeout}
}

func positive[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
