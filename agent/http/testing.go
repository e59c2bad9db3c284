// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"net/http"
	"sync/atomic"
	"testing"

	metrics "github.com/armon/go-metrics"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/queue-autoscaler/agent/config"
)

// mockAgentHTTP is a static AgentHTTP implementation used by the server
// tests.
type mockAgentHTTP struct {
	purges atomic.Int32

	// purgeErr, when set, is returned by PurgeWorkers.
	purgeErr error
}

func (m *mockAgentHTTP) DisplayMetrics(_ http.ResponseWriter, _ *http.Request) (interface{}, error) {
	return metrics.MetricsSummary{
		Timestamp: "2020-11-17 00:17:50 +0000 UTC",
		Counters:  []metrics.SampledValue{},
		Gauges:    []metrics.GaugeValue{},
		Points:    []metrics.PointValue{},
		Samples:   []metrics.SampledValue{},
	}, nil
}

func (m *mockAgentHTTP) PurgeWorkers(_ http.ResponseWriter, _ *http.Request) (interface{}, error) {
	if m.purgeErr != nil {
		return nil, m.purgeErr
	}
	m.purges.Add(1)
	return map[string]int{"purged": 3}, nil
}

func (m *mockAgentHTTP) AgentStatus(_ http.ResponseWriter, _ *http.Request) (interface{}, error) {
	return map[string]string{"id": "0123456789ab", "phase": "idle"}, nil
}

// TestServer returns a server bound to a random local port and backed by a
// mock agent, along with a function to stop it.
func TestServer(t *testing.T, enableProm bool) (*Server, *mockAgentHTTP, func()) {
	cfg := &config.HTTP{
		BindAddress: "127.0.0.1",
		BindPort:    0, // Use next available port.
	}

	agent := &mockAgentHTTP{}
	s, err := NewHTTPServer(false, enableProm, cfg, hclog.NewNullLogger(), agent)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}

	return s, agent, func() {
		s.Stop()
	}
}
