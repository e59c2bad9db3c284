// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/queue-autoscaler/agent/config"
	"github.com/hashicorp/queue-autoscaler/fleet"
	"github.com/hashicorp/queue-autoscaler/fleet/docker"
	"github.com/hashicorp/queue-autoscaler/fleet/nomad"
	"github.com/hashicorp/queue-autoscaler/queue"
	"github.com/hashicorp/queue-autoscaler/queue/rabbitmq"
	"github.com/hashicorp/queue-autoscaler/reconciler"
	nomadHelper "github.com/hashicorp/queue-autoscaler/sdk/helper/nomad"
	"github.com/hashicorp/queue-autoscaler/sdk/helper/ptr"
)

// Agent wires the queue depth source, the worker pool and the reconciler
// together and coordinates their lifecycle with process signals.
type Agent struct {
	logger    hclog.Logger
	config    *config.Agent
	inMemSink *metrics.InmemSink

	// id identifies this agent instance in logs and metrics.
	id string

	driver     fleet.Driver
	pool       *fleet.Pool
	source     queue.DepthSource
	reconciler *reconciler.Reconciler
}

func NewAgent(c *config.Agent, logger hclog.Logger) *Agent {
	id := resolveAgentID(defaultCgroupPath, os.Hostname)
	return &Agent{
		logger: logger.With("container_id", id),
		config: c,
		id:     id,
	}
}

// ID returns the identity of the agent instance.
func (a *Agent) ID() string { return a.id }

// Setup builds every component of the agent. It must be called, and succeed,
// before Run.
func (a *Agent) Setup() error {

	// Setup the telemetry sinks.
	inMem, err := a.setupTelemetry(a.config.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %v", err)
	}
	a.inMemSink = inMem

	driver, err := a.setupDriver()
	if err != nil {
		return fmt.Errorf("failed to setup fleet driver: %v", err)
	}
	a.setupFleet(driver)

	source, err := rabbitmq.NewManagement(a.logger, rabbitmq.ManagementConfig{
		QueueURL:       a.config.Broker.ManagementURL,
		Queue:          a.config.Broker.Queue,
		Username:       a.config.Broker.Username,
		Password:       a.config.Broker.Password,
		RequestTimeout: a.config.Broker.RequestTimeout,
		RetryMax:       a.config.Broker.RetryMax,
		RateLimit:      a.config.Broker.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to setup queue depth source: %v", err)
	}

	return a.setupReconciler(source)
}

// setupFleet wraps the driver into the worker pool.
func (a *Agent) setupFleet(driver fleet.Driver) {
	a.driver = driver
	a.pool = fleet.NewPool(a.logger, driver, workerPoolConfig(a.config))
}

// setupReconciler creates the control loop reading from source and driving
// the pool.
func (a *Agent) setupReconciler(source queue.DepthSource) error {
	selector, err := fleet.NewSelector(a.config.Fleet.Selector)
	if err != nil {
		return &config.ConfigError{Err: err}
	}

	a.source = source
	a.reconciler = reconciler.New(a.logger, reconciler.Config{
		Policy:         a.config.PolicyConfig(),
		PollInterval:   a.config.Pool.PollInterval,
		CooldownPeriod: a.config.Pool.CooldownPeriod,
		StopTimeout:    a.config.Pool.StopTimeout,
		MaxParallel:    a.config.Fleet.MaxParallel,
		DryRun:         a.config.Pool.DryRun,
	}, source, a.pool, selector)
	return nil
}

func (a *Agent) setupDriver() (fleet.Driver, error) {
	switch a.config.Fleet.Driver {
	case config.DriverDocker:
		return docker.New(a.logger, docker.Config{Endpoint: a.config.Fleet.Docker.Endpoint})
	case config.DriverNomad:
		n := a.config.Fleet.Nomad
		return nomad.New(a.logger, nomadHelper.MergeDefaultWithAgentConfig(n), nomad.Config{
			Prefix:      a.config.Fleet.WorkerPrefix,
			Datacenters: n.Datacenters,
			Priority:    n.Priority,
			KillTimeout: a.config.Pool.StopTimeout,
		})
	default:
		return nil, &config.ConfigError{Err: fmt.Errorf("unsupported fleet driver %q", a.config.Fleet.Driver)}
	}
}

// Run starts the control loop and blocks until a termination signal is
// received or ctx is cancelled. Workers created by the pool are purged
// before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	signalCh := make(chan os.Signal, 3)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(signalCh)

	return a.run(ctx, signalCh)
}

func (a *Agent) run(ctx context.Context, signalCh <-chan os.Signal) error {
	if a.reconciler == nil {
		return errors.New("agent is not setup")
	}

	if ptr.DerefOr(a.config.Broker.DeclareQueue, true) {
		a.declareQueue(ctx)
	}

	// Create context to handle propagation to the control loop.
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.reconciler.Run(loopCtx)
	}()

	// Wait for our exit.
	a.handleSignals(ctx, signalCh)

	cancel()
	<-loopDone

	// The parent context may already be cancelled, the final purge must
	// still be able to reach the backend.
	a.purge(context.WithoutCancel(ctx))
	return nil
}

// declareQueue makes sure the work queue exists. A failure is logged, the
// management API reports the queue as soon as a publisher declares it.
func (a *Agent) declareQueue(ctx context.Context) {
	err := rabbitmq.DeclareQueue(ctx, a.logger, rabbitmq.BrokerConfig{
		Host:     a.config.Broker.Host,
		Port:     a.config.Broker.Port,
		Username: a.config.Broker.Username,
		Password: a.config.Broker.Password,
		VHost:    a.config.Broker.VHost,
		Queue:    a.config.Broker.Queue,
	})
	if err != nil {
		a.logger.Warn("failed to declare queue, continuing", "queue", a.config.Broker.Queue, "error", err)
	}
}

// purge removes every worker owned by the pool and returns the number of
// workers removed.
func (a *Agent) purge(ctx context.Context) (int, error) {
	a.logger.Info("purging dynamic workers")

	n, err := a.pool.PurgeAll(ctx)
	if err != nil {
		a.logger.Error("failed to purge all workers", "purged", n, "error", err)
		return n, err
	}

	a.logger.Info("purged dynamic workers", "purged", n)
	return n, nil
}

// Status returns the status of the agent and its control loop.
func (a *Agent) Status() *Status {
	return &Status{
		ID:         a.id,
		Driver:     a.pool.DriverName(),
		Queue:      a.config.Broker.Queue,
		Min:        a.config.Pool.Min,
		Max:        a.config.Pool.Max,
		DryRun:     a.config.Pool.DryRun,
		Reconciler: a.reconciler.Status(),
	}
}

// Status is the agent status returned over the HTTP API.
type Status struct {
	ID         string            `codec:"id"`
	Driver     string            `codec:"driver"`
	Queue      string            `codec:"queue"`
	Min        int64             `codec:"min"`
	Max        int64             `codec:"max"`
	DryRun     bool              `codec:"dry_run"`
	Reconciler reconciler.Status `codec:"reconciler"`
}
