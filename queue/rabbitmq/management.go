// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/queue-autoscaler/queue"
	"github.com/hashicorp/queue-autoscaler/rate_limiter"
	"github.com/hashicorp/queue-autoscaler/sdk"
	"github.com/hashicorp/queue-autoscaler/sdk/helper/metrics"
)

const (
	// DefaultRetryMax is the number of retries performed on retryable
	// responses before giving up.
	DefaultRetryMax = 5

	// DefaultRetryWaitMin and DefaultRetryWaitMax bound the exponential
	// backoff between retries, which doubles on every attempt.
	DefaultRetryWaitMin = 2 * time.Second
	DefaultRetryWaitMax = 32 * time.Second

	// DefaultRequestTimeout is the timeout of a single request attempt.
	DefaultRequestTimeout = 5 * time.Second
)

// ManagementConfig configures the management API client.
type ManagementConfig struct {

	// QueueURL is the full management API URL of the queue, for example
	// http://rabbitmq:15672/api/queues/%2f/my-queue.
	QueueURL string
	Queue    string
	Username string
	Password string

	RequestTimeout time.Duration
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration

	// RateLimit is the maximum number of requests per second sent to the
	// management API. -1 disables rate limiting.
	RateLimit int
}

// QueueURL builds the management API URL of a queue from the API address and
// the queue's vhost and name.
func QueueURL(address, vhost, queueName string) string {
	return fmt.Sprintf("%s/api/queues/%s/%s", address, url.PathEscape(vhost), url.PathEscape(queueName))
}

// Management reads queue depth from the RabbitMQ management HTTP API and
// implements queue.DepthSource.
type Management struct {
	cfg    ManagementConfig
	client *retryablehttp.Client
	log    hclog.Logger
}

// queueInfo is the subset of the management API queue object we use.
type queueInfo struct {
	Name     string `codec:"name"`
	Messages int64  `codec:"messages"`
}

// NewManagement returns a Management client.
func NewManagement(log hclog.Logger, cfg ManagementConfig) (*Management, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	if _, err := url.Parse(cfg.QueueURL); err != nil {
		return nil, fmt.Errorf("invalid queue URL: %w", err)
	}

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = DefaultRetryWaitMin
	}
	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = DefaultRetryWaitMax
	}

	logger := log.Named("rabbitmq")

	httpClient := rate_limiter.NewInstrumentedWrapper("rabbitmq", cfg.RateLimit, cleanhttp.DefaultPooledClient())
	httpClient.Timeout = cfg.RequestTimeout

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = logger.With("queue", cfg.Queue)
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Management{cfg: cfg, client: rc, log: logger}, nil
}

// Fetch satisfies the Fetch function on the queue.DepthSource interface.
func (m *Management) Fetch(ctx context.Context) (*sdk.QueueSnapshot, error) {
	defer metrics.MeasureSinceWithLabels([]string{"queue", "fetch", "invoke_ms"}, time.Now(), nil)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, m.cfg.QueueURL, nil)
	if err != nil {
		return nil, m.unavailable(0, err)
	}
	req.SetBasicAuth(m.cfg.Username, m.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, m.unavailable(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, m.unavailable(resp.StatusCode, fmt.Errorf("unexpected response: %s", resp.Status))
	}

	var info queueInfo
	if err := codec.NewDecoder(resp.Body, &codec.JsonHandle{}).Decode(&info); err != nil {
		return nil, m.unavailable(resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}

	return &sdk.QueueSnapshot{
		Queue:      m.cfg.Queue,
		Length:     max(info.Messages, 0),
		ObservedAt: time.Now(),
	}, nil
}

func (m *Management) unavailable(code int, err error) error {
	metrics.IncrCounter([]string{"queue", "fetch", "error_count"}, 1)
	return &queue.UnavailableError{Queue: m.cfg.Queue, StatusCode: code, Err: err}
}

// checkRetry retries GET requests on transport errors and on the 500, 502,
// 503 and 504 status codes. Other methods and codes are never retried.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false, nil
	}

	switch resp.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	default:
		return false, nil
	}
}
