// Package client provides the HTTP client that talks to the tunnel target.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"httptunnel-go/internal/config"
	"httptunnel-go/internal/metrics"
	"httptunnel-go/internal/model"
)

// StatusError reports an HTTP error status. The response body is still
// returned alongside it since error pages may carry the payload output.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP Error %d: %s", e.Code, http.StatusText(e.Code))
}

// TargetClient sends tunnel requests to the target, one at a time.
type TargetClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewTargetClient creates a TargetClient honoring the configured proxy and timeouts.
// The metrics parameter is optional; pass nil to disable request metrics recording.
func NewTargetClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*TargetClient, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Request.InsecureTLS, //nolint:gosec // targets commonly use self-signed certificates
		},
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return &TargetClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Request.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "target_client"),
		metrics: m,
	}, nil
}

// Send executes one request and reads the whole response body.
// On HTTP error statuses it returns both the response and a *StatusError.
func (c *TargetClient) Send(ctx context.Context, method, target string, header http.Header, body io.Reader) (*model.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build target request: %w", err)
	}
	for name, vals := range header {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}

	c.logger.Debug("target request",
		"method", method,
		"headers", len(req.Header),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	label := metrics.NormalizeMethod(method)
	if c.metrics != nil {
		c.metrics.TunnelDuration.WithLabelValues(label).Observe(duration)
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.TunnelRequests.WithLabelValues(label, "error").Inc()
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		c.metrics.TunnelRequests.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read target response: %w", err)
	}

	out := &model.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return out, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return out, nil
}
