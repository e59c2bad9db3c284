// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"strconv"

	"github.com/hashicorp/queue-autoscaler/agent/config"
	"github.com/hashicorp/queue-autoscaler/fleet"
)

const (
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
)

// workerPoolConfig builds the pool configuration from the agent config.
// Workers are labelled as members of the compose service so they are shown
// and torn down alongside the rest of the stack, and receive the broker
// connection details through their environment. User supplied worker_env
// and worker_labels take precedence.
func workerPoolConfig(cfg *config.Agent) fleet.PoolConfig {
	labels := map[string]string{}
	if cfg.Fleet.ComposeProject != "" {
		labels[composeProjectLabel] = cfg.Fleet.ComposeProject
	}
	if cfg.Fleet.ComposeService != "" {
		labels[composeServiceLabel] = cfg.Fleet.ComposeService
	}
	for k, v := range cfg.Fleet.WorkerLabels {
		labels[k] = v
	}

	env := map[string]string{
		config.EnvBrokerHost: cfg.Broker.Host,
		config.EnvBrokerPort: strconv.Itoa(cfg.Broker.Port),
		config.EnvBrokerUser: cfg.Broker.Username,
		config.EnvBrokerPass: cfg.Broker.Password,
		config.EnvQueueName:  cfg.Broker.Queue,
		"PYTHONUNBUFFERED":   "1",
	}
	for k, v := range cfg.Fleet.WorkerEnv {
		env[k] = v
	}

	return fleet.PoolConfig{
		Prefix:      cfg.Fleet.WorkerPrefix,
		Image:       cfg.Fleet.WorkerImage,
		Network:     cfg.Fleet.Network,
		Labels:      labels,
		Env:         env,
		StopTimeout: cfg.Pool.StopTimeout,
		MaxParallel: cfg.Fleet.MaxParallel,
	}
}
