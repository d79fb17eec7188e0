// Package fetch downloads memory payloads and classifies failures into the
// typed errors the scheduler retries on.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	errs "snapmem/pkg/errors"
	"snapmem/pkg/logger"
)

// Client fetches a single payload per call with a per-request timeout
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	logger     logger.Logger
}

// NewClient creates a client whose requests time out after timeout
func NewClient(timeout time.Duration, userAgent string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if userAgent == "" {
		userAgent = "snapmem/1.0"
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"User-Agent": userAgent,
			"Accept":     "*/*",
		},
		logger: log.WithField("component", "fetch"),
	}
}

// SetHTTPClient replaces the underlying transport client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Fetch GETs url and returns the whole body. A 403 or 429 yields a
// rate-limit error; any other non-2xx status, a timeout or a transport
// failure yields a network error.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Network(0, "invalid request", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).DebugWithFields("HTTP request failed", map[string]interface{}{
			"duration": time.Since(start),
		})
		return nil, errs.Network(0, describeTransportError(err), err)
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network(resp.StatusCode, "reading response body", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"status":   resp.StatusCode,
		"bytes":    len(body),
		"duration": time.Since(start),
	})
	return body, nil
}

func (c *Client) checkResponseStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case errs.IsThrottleStatus(code):
		return errs.RateLimit(code, fmt.Sprintf("server refused request (%s)", http.StatusText(code)))
	default:
		return errs.Network(code, fmt.Sprintf("unexpected status code: %d", code), nil)
	}
}

func describeTransportError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "request timed out"
	default:
		return "connection failed"
	}
}
