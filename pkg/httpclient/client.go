// Package httpclient builds the HTTP clients the LLM providers share:
// a generous timeout, TLS 1.2 minimum, pooled connections, User-Agent
// injection, and request logging with secrets redacted from URLs.
//
// Retries are deliberately absent here. The llm retry combinator owns
// backoff and rate-limit handling, and stacking a second retry layer
// under it would multiply attempts.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config holds the per-client knobs. UserAgent is required.
type Config struct {
	// Timeout bounds the whole request, body included. Default: 30s.
	Timeout time.Duration

	// UserAgent is set on requests that carry none.
	UserAgent string
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "murmur-http-client/1.0",
	}
}

func (c Config) validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent is required")
	}
	return nil
}

// New builds an *http.Client from cfg.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: &logTripper{base: base, userAgent: cfg.UserAgent},
		Timeout:   cfg.Timeout,
	}, nil
}
