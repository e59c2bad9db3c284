// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

// Environment variables read by LoadEnv. Their names match the variables
// workers already consume so a single compose environment drives both.
const (
	EnvBrokerHost = "RABBITMQ_HOST"
	EnvBrokerPort = "RABBITMQ_PORT"
	EnvBrokerUser = "RABBITMQ_USER"
	EnvBrokerPass = "RABBITMQ_PASS"
	EnvBrokerAPI  = "RABBITMQ_API"
	EnvQueueName  = "QUEUE_NAME"

	EnvWorkerImage  = "WORKER_IMAGE"
	EnvWorkerPrefix = "WORKER_PREFIX"

	EnvMinContainers      = "MIN_CONTAINERS"
	EnvMaxContainers      = "MAX_CONTAINERS"
	EnvScaleUpThreshold   = "SCALE_UP_THRESHOLD"
	EnvScaleDownThreshold = "SCALE_DOWN_THRESHOLD"
	EnvPollInterval       = "POLL_INTERVAL"
	EnvCooldownPeriod     = "COOLDOWN_PERIOD"
	EnvMessagesPerWorker  = "MESSAGES_PER_WORKER"
	EnvStopTimeout        = "STOP_TIMEOUT"
	EnvComposeProject     = "COMPOSE_PROJECT"
	EnvComposeService     = "WORKER_COMPOSE_SERVICE"
	EnvDockerNetwork      = "DOCKER_NETWORK"
)
