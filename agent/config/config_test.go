// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/queue-autoscaler/sdk/helper/ptr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Default(t *testing.T) {
	def := Default()
	assert.NotNil(t, def)
	assert.False(t, def.LogJson)
	assert.Equal(t, "info", def.LogLevel)
	assert.Equal(t, "127.0.0.1", def.HTTP.BindAddress)
	assert.Equal(t, 8080, def.HTTP.BindPort)
	assert.Equal(t, 1*time.Second, def.Telemetry.CollectionInterval)

	assert.Equal(t, "rabbitmq", def.Broker.Host)
	assert.Equal(t, 5672, def.Broker.Port)
	assert.Equal(t, "guest", def.Broker.Username)
	assert.Equal(t, "my-queue", def.Broker.Queue)
	assert.Equal(t, "http://localhost:15672/api/queues/%2f/my-queue", def.Broker.ManagementURL)
	assert.Equal(t, -1, def.Broker.RateLimit)
	assert.True(t, *def.Broker.DeclareQueue)

	assert.Equal(t, int64(1), def.Pool.Min)
	assert.Equal(t, int64(10), def.Pool.Max)
	assert.Equal(t, int64(100), def.Pool.ScaleUpThreshold)
	assert.Equal(t, int64(10), def.Pool.ScaleDownThreshold)
	assert.Equal(t, int64(200), def.Pool.MessagesPerWorker)
	assert.Equal(t, 10*time.Second, def.Pool.PollInterval)
	assert.Equal(t, 30*time.Second, def.Pool.CooldownPeriod)
	assert.Equal(t, 60*time.Second, def.Pool.StopTimeout)

	assert.Equal(t, DriverDocker, def.Fleet.Driver)
	assert.Equal(t, "worker", def.Fleet.WorkerPrefix)
	assert.Equal(t, "my-worker:latest", def.Fleet.WorkerImage)
	assert.Equal(t, "myapp", def.Fleet.ComposeProject)
	assert.Equal(t, "worker", def.Fleet.ComposeService)
	assert.Equal(t, "", def.Fleet.Network)
	assert.Equal(t, 4, def.Fleet.MaxParallel)

	assert.NoError(t, def.Validate())
}

func TestAgent_Merge(t *testing.T) {
	baseCfg := Default()

	cfg1 := &Agent{
		HTTP: &HTTP{
			BindAddress: "0.0.0.0",
		},
		Pool: &Pool{
			MaxPtr: ptr.Int64ToPtr(25),
			DryRun: true,
		},
		Fleet: &Fleet{
			WorkerEnv: map[string]string{"LOG_LEVEL": "info", "REGION": "eu"},
		},
	}

	cfg2 := &Agent{
		LogLevel: "trace",
		LogJson:  true,
		HTTP: &HTTP{
			BindPort: 4646,
		},
		Broker: &Broker{
			Host:        "mq.systems",
			RetryMaxPtr: ptr.IntToPtr(0),
		},
		Pool: &Pool{
			MinPtr:                ptr.Int64ToPtr(0),
			ScaleDownThresholdPtr: ptr.Int64ToPtr(0),
			CooldownPeriodPtr:     ptr.Of(time.Minute),
		},
		Fleet: &Fleet{
			Driver:    DriverNomad,
			WorkerEnv: map[string]string{"LOG_LEVEL": "debug"},
			Nomad: &Nomad{
				Address:     "https://nomad.systems:4646",
				Region:      "moon-base-1",
				Namespace:   "fra-mauro",
				Datacenters: []string{"dc1"},
			},
		},
	}

	actual := baseCfg.Merge(cfg1).Merge(cfg2)

	assert.Equal(t, &HTTP{BindAddress: "0.0.0.0", BindPort: 4646}, actual.HTTP)
	assert.Equal(t, "trace", actual.LogLevel)
	assert.True(t, actual.LogJson)

	assert.Equal(t, "mq.systems", actual.Broker.Host)
	assert.Equal(t, 5672, actual.Broker.Port)
	assert.Equal(t, 0, actual.Broker.RetryMax)

	assert.Equal(t, int64(0), actual.Pool.Min)
	assert.Equal(t, int64(25), actual.Pool.Max)
	assert.Equal(t, int64(0), actual.Pool.ScaleDownThreshold)
	assert.Equal(t, time.Minute, actual.Pool.CooldownPeriod)
	assert.Equal(t, 10*time.Second, actual.Pool.PollInterval)
	assert.True(t, actual.Pool.DryRun)

	assert.Equal(t, DriverNomad, actual.Fleet.Driver)
	assert.Equal(t, map[string]string{"LOG_LEVEL": "debug", "REGION": "eu"}, actual.Fleet.WorkerEnv)
	assert.Equal(t, "moon-base-1", actual.Fleet.Nomad.Region)
	assert.Equal(t, 50, actual.Fleet.Nomad.Priority)
	assert.Equal(t, []string{"dc1"}, actual.Fleet.Nomad.Datacenters)

	// The inputs are never modified by a merge.
	assert.Equal(t, map[string]string{"LOG_LEVEL": "info", "REGION": "eu"}, cfg1.Fleet.WorkerEnv)
	assert.Equal(t, int64(1), baseCfg.Pool.Min)
	assert.Equal(t, DriverDocker, baseCfg.Fleet.Driver)
}

func TestAgent_Validate(t *testing.T) {
	testCases := []struct {
		name        string
		modify      func(*Agent)
		expectedErr bool
	}{
		{
			name:   "defaults",
			modify: func(*Agent) {},
		},
		{
			name:   "zero minimum",
			modify: func(a *Agent) { a.Pool.Min = 0 },
		},
		{
			name:        "min above max",
			modify:      func(a *Agent) { a.Pool.Min, a.Pool.Max = 5, 2 },
			expectedErr: true,
		},
		{
			name:        "negative min",
			modify:      func(a *Agent) { a.Pool.Min = -1 },
			expectedErr: true,
		},
		{
			name:        "down threshold above up threshold",
			modify:      func(a *Agent) { a.Pool.ScaleDownThreshold = 200 },
			expectedErr: true,
		},
		{
			name:        "zero poll interval",
			modify:      func(a *Agent) { a.Pool.PollInterval = 0 },
			expectedErr: true,
		},
		{
			name:   "zero cooldown and stop timeout",
			modify: func(a *Agent) { a.Pool.CooldownPeriod, a.Pool.StopTimeout = 0, 0 },
		},
		{
			name:   "positive rate limit",
			modify: func(a *Agent) { a.Broker.RateLimit = 3 },
		},
		{
			name:        "zero rate limit",
			modify:      func(a *Agent) { a.Broker.RateLimit = 0 },
			expectedErr: true,
		},
		{
			name:        "rate limit below minus one",
			modify:      func(a *Agent) { a.Broker.RateLimit = -2 },
			expectedErr: true,
		},
		{
			name:        "unknown driver",
			modify:      func(a *Agent) { a.Fleet.Driver = "kubernetes" },
			expectedErr: true,
		},
		{
			name:        "empty image",
			modify:      func(a *Agent) { a.Fleet.WorkerImage = "" },
			expectedErr: true,
		},
		{
			name:        "empty management url",
			modify:      func(a *Agent) { a.Broker.ManagementURL = "" },
			expectedErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if !tc.expectedErr {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigError
			require.Error(t, err)
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestAgent_parseFile(t *testing.T) {
	// Should receive a non-nil response as the file doesn't exist.
	assert.NotNil(t, parseFile("/honeybadger/", &Agent{}))

	cfg := &Agent{}
	require.NoError(t, parseFile("test-fixtures/agent.hcl", cfg))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJson)

	assert.Equal(t, "mq.internal", cfg.Broker.Host)
	assert.Equal(t, 5673, cfg.Broker.Port)
	assert.Equal(t, "jobs", cfg.Broker.Queue)
	assert.Equal(t, 0, cfg.Broker.RetryMax)
	assert.NotNil(t, cfg.Broker.RetryMaxPtr)
	assert.Equal(t, 2, cfg.Broker.RateLimit)
	assert.False(t, *cfg.Broker.DeclareQueue)

	assert.Equal(t, int64(0), cfg.Pool.Min)
	assert.Equal(t, int64(20), cfg.Pool.Max)
	assert.Equal(t, int64(0), cfg.Pool.ScaleDownThreshold)
	assert.Equal(t, 5*time.Second, cfg.Pool.PollInterval)
	assert.Equal(t, time.Minute, cfg.Pool.CooldownPeriod)
	assert.Equal(t, 45*time.Second, cfg.Pool.StopTimeout)
	assert.NotNil(t, cfg.Pool.StopTimeoutPtr)
	assert.Equal(t, int64(100), cfg.Pool.MessagesPerWorker)
	assert.True(t, cfg.Pool.DryRun)

	assert.Equal(t, DriverNomad, cfg.Fleet.Driver)
	assert.Equal(t, "consumer", cfg.Fleet.WorkerPrefix)
	assert.Equal(t, "backend", cfg.Fleet.Network)
	assert.Equal(t, map[string]string{"LOG_LEVEL": "debug"}, cfg.Fleet.WorkerEnv)
	assert.Equal(t, "newest_create", cfg.Fleet.Selector)
	assert.Equal(t, []string{"dc1", "dc2"}, cfg.Fleet.Nomad.Datacenters)
	assert.Equal(t, 70, cfg.Fleet.Nomad.Priority)

	assert.Equal(t, 9090, cfg.HTTP.BindPort)
	assert.Equal(t, 2*time.Minute, cfg.Telemetry.PrometheusRetentionTime)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.CollectionInterval)

	// Merged over the defaults the file still yields a valid configuration.
	merged := Default().Merge(cfg)
	assert.NoError(t, merged.Validate())
	assert.Equal(t, int64(0), merged.Pool.Min)
}

func TestAgent_parseFile_badDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(path, []byte("pool {\n  poll_interval = \"soon\"\n}\n"), 0600))
	assert.Error(t, parseFile(path, &Agent{}))
}

func TestConfig_Load(t *testing.T) {
	// Fails if the target doesn't exist
	_, err := Load("/honeybadger/")
	assert.NotNil(t, err)

	dir := t.TempDir()

	fh := filepath.Join(dir, "queue-autoscaler.hcl")
	require.NoError(t, os.WriteFile(fh, []byte("log_level = \"trace\""), 0600))

	// Works on a config file
	cfg, err := Load(fh)
	assert.Nil(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)

	// Works on config dir
	cfg, err = Load(dir)
	assert.Nil(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)
}

func TestAgent_loadDir(t *testing.T) {
	// Should receive a non-nil response as the dir doesn't exist.
	_, err := loadDir("/honeybadger/")
	assert.NotNil(t, err)

	dir := t.TempDir()

	// Returns empty config on empty dir.
	config, err := loadDir(dir)
	assert.Nil(t, err)
	assert.Equal(t, config, &Agent{})

	file1 := filepath.Join(dir, "config1.hcl")
	assert.Nil(t, os.WriteFile(file1, []byte("log_level = \"trace\""), 0600))

	file2 := filepath.Join(dir, "config2.hcl")
	assert.Nil(t, os.WriteFile(file2, []byte("fleet {\n  worker_image = \"consumer:2\"\n}\n"), 0600))

	file3 := filepath.Join(dir, "config3.hcl")
	assert.Nil(t, os.WriteFile(file3, []byte("¿que?"), 0600))

	// Fails if we have a bad config file.
	_, err = loadDir(dir)
	assert.NotNil(t, err)

	// Remove the invalid config file.
	assert.Nil(t, os.Remove(file3))

	// We should now be able to load as all the configs are valid.
	cfg, err := loadDir(dir)
	assert.Nil(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, "consumer:2", cfg.Fleet.WorkerImage)
}

func TestLoadPaths(t *testing.T) {
	cfg, err := LoadPaths([]string{"test-fixtures/agent.hcl"})
	require.NoError(t, err)
	assert.Equal(t, "consumer", cfg.Fleet.WorkerPrefix)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.BindAddress)

	_, err = LoadPaths([]string{"test-fixtures/missing.hcl"})
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	env := map[string]string{
		EnvBrokerHost:         "mq",
		EnvBrokerPort:         "5673",
		EnvBrokerAPI:          "http://mq:15672/api/queues/%2f/jobs",
		EnvQueueName:          "jobs",
		EnvMinContainers:      "0",
		EnvMaxContainers:      "7",
		EnvScaleDownThreshold: "0",
		EnvPollInterval:       "15",
		EnvCooldownPeriod:     "2m",
		EnvWorkerImage:        "consumer:3",
		EnvDockerNetwork:      "shop_default",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	overlay, err := LoadEnv(lookup)
	require.NoError(t, err)

	cfg := Default().Merge(overlay)
	assert.Equal(t, "mq", cfg.Broker.Host)
	assert.Equal(t, 5673, cfg.Broker.Port)
	assert.Equal(t, "guest", cfg.Broker.Username)
	assert.Equal(t, "jobs", cfg.Broker.Queue)
	assert.Equal(t, int64(0), cfg.Pool.Min)
	assert.Equal(t, int64(7), cfg.Pool.Max)
	assert.Equal(t, int64(0), cfg.Pool.ScaleDownThreshold)
	assert.Equal(t, int64(100), cfg.Pool.ScaleUpThreshold)
	assert.Equal(t, 15*time.Second, cfg.Pool.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Pool.CooldownPeriod)
	assert.Equal(t, 60*time.Second, cfg.Pool.StopTimeout)
	assert.Equal(t, "consumer:3", cfg.Fleet.WorkerImage)
	assert.Equal(t, "shop_default", cfg.Fleet.Network)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnv_zeroValues(t *testing.T) {
	env := map[string]string{
		EnvCooldownPeriod:     "0",
		EnvStopTimeout:        "0",
		EnvMessagesPerWorker:  "0",
		EnvMinContainers:      "0",
		EnvMaxContainers:      "0",
		EnvScaleUpThreshold:   "0",
		EnvScaleDownThreshold: "0",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	overlay, err := LoadEnv(lookup)
	require.NoError(t, err)

	cfg := Default().Merge(overlay)
	assert.Equal(t, time.Duration(0), cfg.Pool.CooldownPeriod)
	assert.Equal(t, time.Duration(0), cfg.Pool.StopTimeout)
	assert.Equal(t, int64(0), cfg.Pool.MessagesPerWorker)
	assert.Equal(t, int64(0), cfg.Pool.Max)
	assert.Equal(t, int64(0), cfg.Pool.ScaleUpThreshold)
	assert.NoError(t, cfg.Validate())

	// A later layer without the variables keeps the zeros.
	cfg = cfg.Merge(&Agent{Pool: &Pool{}})
	assert.Equal(t, time.Duration(0), cfg.Pool.CooldownPeriod)
	assert.Equal(t, int64(0), cfg.Pool.MessagesPerWorker)
}

func TestLoadEnv_invalid(t *testing.T) {
	env := map[string]string{
		EnvMaxContainers: "ten",
		EnvPollInterval:  "whenever",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	_, err := LoadEnv(lookup)
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), EnvMaxContainers)
	assert.Contains(t, err.Error(), EnvPollInterval)
}
