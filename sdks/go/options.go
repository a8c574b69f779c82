package fiduciarygate

import (
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the Fiduciary Gate server address.
// If not set, defaults to the FIDUCIARY_GATE_SERVER_ADDR environment
// variable.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithFailMode sets the fail mode when the server is unreachable.
// Valid values are "closed" (block on failure) and "open" (allow on
// failure). If not set, defaults to the FIDUCIARY_GATE_FAIL_MODE
// environment variable or "closed": an unreachable governance engine must
// not silently wave transactions through.
func WithFailMode(mode string) Option {
	return func(c *Client) {
		c.failMode = mode
	}
}

// WithTimeout sets the HTTP request timeout.
// If not set, defaults to 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom http.Client for making requests.
// This is useful for testing, proxying, or custom transport
// configurations.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithModality sets the default agent modality attached to evaluation
// requests. This is used when the EvaluateRequest does not specify a
// Modality.
func WithModality(m Modality) Option {
	return func(c *Client) {
		c.modality = m
	}
}
