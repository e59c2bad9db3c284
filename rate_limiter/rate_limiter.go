// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rate_limiter

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/queue-autoscaler/sdk/helper/metrics"
	"golang.org/x/time/rate"
)

// InstrumentedRoundTripper wraps http.RoundTripper to emit request metrics and
// rate limit outbound requests when configured.
type InstrumentedRoundTripper struct {
	rateLimiter *rate.Limiter
	source      string
	rt          http.RoundTripper
}

func (irt *InstrumentedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if irt.rateLimiter != nil {
		if err := irt.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("transport: unable to ratelimit: %w", err)
		}
	}

	labels := []metrics.Label{
		{Name: "method", Value: req.Method},
		{Name: "source", Value: irt.source},
	}

	defer metrics.MeasureSinceWithLabels([]string{"http", "dur"}, time.Now(), labels)

	resp, err := irt.rt.RoundTrip(req)
	if err != nil {
		metrics.IncrCounterWithLabels([]string{"http", "error_count"}, 1, labels)
		return resp, err
	}

	metrics.IncrCounterWithLabels([]string{"http", "req"}, 1, append(labels,
		metrics.Label{Name: "code", Value: fmt.Sprint(resp.StatusCode)}))
	return resp, nil
}

// NewInstrumentedWrapper returns the provided http client with an
// instrumented, optionally rate limited, transport. If no client is provided,
// a new one will be created using github.com/hashicorp/go-cleanhttp. To
// disable rate limiting, set ratePerSec to -1. Setting it to 0 blocks all
// requests. Source is used as a label for metrics.
func NewInstrumentedWrapper(source string, ratePerSec int, client *http.Client) *http.Client {
	httpClient := cleanhttp.DefaultPooledClient()
	if client != nil {
		httpClient = client
	}

	if t, ok := httpClient.Transport.(*http.Transport); ok {
		t.MaxConnsPerHost = 50
	}

	irt := &InstrumentedRoundTripper{
		rt:     httpClient.Transport,
		source: source,
	}
	if irt.rt == nil {
		irt.rt = cleanhttp.DefaultPooledTransport()
	}

	if ratePerSec != -1 {
		irt.rateLimiter = rate.NewLimiter(rate.Every(time.Second/time.Duration(max(ratePerSec, 1))), ratePerSec)
	}

	httpClient.Transport = irt

	return httpClient
}
