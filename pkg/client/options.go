package client

import (
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the request timeout on the underlying http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRetry configures the retry policy.  max is the number of retries after
// the initial attempt; non-positive wait bounds keep their defaults.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		if max >= 0 {
			c.retryMax = max
		}
		if waitMin > 0 {
			c.retryWaitMin = waitMin
		}
		if waitMax > 0 {
			c.retryWaitMax = waitMax
		}
	}
}
