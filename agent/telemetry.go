// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"fmt"
	"os"
	"syscall"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/armon/go-metrics/datadog"
	"github.com/armon/go-metrics/prometheus"
	"github.com/hashicorp/queue-autoscaler/agent/config"
	sdkMetrics "github.com/hashicorp/queue-autoscaler/sdk/helper/metrics"
)

const (
	// inmemInterval and inmemRetain size the in-memory sink backing the
	// metrics endpoint and the SIGUSR2 dump.
	inmemInterval = 10 * time.Second
	inmemRetain   = time.Minute

	metricsServiceName = "queue-autoscaler"
)

// setupTelemetry builds the global metrics sink from the telemetry block and
// returns the in-memory sink served by the HTTP API. SIGUSR2 dumps the
// in-memory sink to stderr since SIGUSR1 purges the pool.
func (a *Agent) setupTelemetry(cfg *config.Telemetry) (*metrics.InmemSink, error) {
	if cfg == nil {
		cfg = &config.Telemetry{}
	}

	inm := metrics.NewInmemSink(inmemInterval, inmemRetain)
	metrics.NewInmemSignal(inm, syscall.SIGUSR2, os.Stderr)

	metricsConf := metrics.DefaultConfig(metricsServiceName)
	metricsConf.EnableHostname = !cfg.DisableHostname
	metricsConf.EnableHostnameLabel = cfg.EnableHostnameLabel

	fanout, err := telemetrySinks(cfg, metricsConf.HostName)
	if err != nil {
		return nil, err
	}
	fanout = append(fanout, inm)

	if _, err := metrics.NewGlobal(metricsConf, fanout); err != nil {
		return nil, fmt.Errorf("failed to setup global sink: %v", err)
	}

	sdkMetrics.SetDefaultLabels([]sdkMetrics.Label{{Name: "container_id", Value: a.id}})

	return inm, nil
}

// telemetrySinks returns the external sinks enabled by cfg, in a stable
// order. An empty block yields no sinks.
func telemetrySinks(cfg *config.Telemetry, hostname string) (metrics.FanoutSink, error) {
	builders := []struct {
		name    string
		enabled bool
		build   func() (metrics.MetricSink, error)
	}{
		{
			name:    "statsite",
			enabled: cfg.StatsiteAddr != "",
			build:   func() (metrics.MetricSink, error) { return metrics.NewStatsiteSink(cfg.StatsiteAddr) },
		},
		{
			name:    "statsd",
			enabled: cfg.StatsdAddr != "",
			build:   func() (metrics.MetricSink, error) { return metrics.NewStatsdSink(cfg.StatsdAddr) },
		},
		{
			name:    "Prometheus",
			enabled: cfg.PrometheusMetrics || cfg.PrometheusRetentionTime != 0,
			build: func() (metrics.MetricSink, error) {
				return prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
					Expiration: cfg.PrometheusRetentionTime,
				})
			},
		},
		{
			name:    "DogStatsD",
			enabled: cfg.DogStatsDAddr != "",
			build: func() (metrics.MetricSink, error) {
				sink, err := datadog.NewDogStatsdSink(cfg.DogStatsDAddr, hostname)
				if err != nil {
					return nil, err
				}
				sink.SetTags(cfg.DogStatsDTags)
				return sink, nil
			},
		},
	}

	var fanout metrics.FanoutSink
	for _, b := range builders {
		if !b.enabled {
			continue
		}
		sink, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("failed to setup %s sink: %v", b.name, err)
		}
		fanout = append(fanout, sink)
	}
	return fanout, nil
}
