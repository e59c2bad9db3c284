// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"testing"
	"time"

	m "github.com/armon/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_DefaultLabels(t *testing.T) {
	SetDefaultLabels(nil)
	assert.Empty(t, DefaultLabels())

	input := []Label{{Name: "container_id", Value: "abc"}}
	SetDefaultLabels(input)
	out := DefaultLabels()
	assert.Equal(t, input, out)

	// Mutating the returned slice must not change the stored labels.
	out[0].Value = "changed"
	assert.Equal(t, "abc", DefaultLabels()[0].Value)
}

func Test_emitWithDefaultLabels(t *testing.T) {
	sink := m.NewInmemSink(10*time.Second, time.Minute)
	cfg := m.DefaultConfig("test")
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	_, err := m.NewGlobal(cfg, sink)
	require.NoError(t, err)

	SetDefaultLabels([]Label{{Name: "pool", Value: "worker"}})

	SetGauge([]string{"workers", "current"}, 3)
	IncrCounter([]string{"scale", "up"}, 1)
	IncrCounterWithLabels([]string{"fleet", "op"}, 1, []Label{{Name: "op", Value: "start"}})
	MeasureSinceWithLabels([]string{"cycle", "duration_ms"}, time.Now(), nil)

	data := sink.Data()
	require.NotEmpty(t, data)

	gauge, ok := data[0].Gauges["test.workers.current;pool=worker"]
	require.True(t, ok)
	assert.Equal(t, float32(3), gauge.Value)

	_, ok = data[0].Counters["test.fleet.op;op=start;pool=worker"]
	assert.True(t, ok)
	_, ok = data[0].Counters["test.scale.up;pool=worker"]
	assert.True(t, ok)
	_, ok = data[0].Samples["test.cycle.duration_ms;pool=worker"]
	assert.True(t, ok)
}
